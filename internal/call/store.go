package call

import (
	"context"

	"github.com/marketchat/internal/model"
)

type Store interface {
	// CreateCall inserts a requested call. A taken channel name yields apperr.ErrConflict.
	CreateCall(ctx context.Context, c *model.VideoCall) error
	GetCall(ctx context.Context, id string) (*model.VideoCall, error)
	// TransitionCall applies t only if the call is still in t.From and returns the
	// updated row. A call in any other status yields apperr.ErrInvalidTransition.
	// Entering accepted stamps StartedAt; going back to requested clears it;
	// completed and cancelled stamp EndedAt and EndedBy; completed also sets
	// Duration to whole seconds since StartedAt.
	TransitionCall(ctx context.Context, t model.CallTransition) (*model.VideoCall, error)
	ListCalls(ctx context.Context, userID string, role model.SenderRole, limit int) ([]model.VideoCall, error)
	CreateInvoice(ctx context.Context, inv *model.CallInvoice) error
}

type Directory interface {
	GetShop(ctx context.Context, shopID string) (*model.Shop, error)
	GetUserName(ctx context.Context, userID string) (string, error)
}

// Timeline writes call lifecycle lines into the pair's chat conversation.
type Timeline interface {
	PostCallEvent(ctx context.Context, call *model.VideoCall, senderID string, t model.MessageType, content string) (*model.Message, error)
}
