package chat

import (
	"context"
	"time"

	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/notify"
)

// Store persists conversations and their messages.
type Store interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// GetOrCreateConversation returns the single conversation for (customer, shop),
	// creating it on first use. Concurrent calls converge on one row.
	GetOrCreateConversation(ctx context.Context, customerID, shopID, sellerID string, now time.Time) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string, role model.SenderRole, limit, offset int) ([]model.Conversation, error)

	// AppendMessage inserts msg and updates the conversation's last-message fields
	// in one transaction, incrementing the unread counter of incrementRole (none if
	// empty). When the sender already stored msg.ClientMessageID in this conversation, msg
	// is overwritten with the stored row, the conversation is left untouched and
	// created is false.
	AppendMessage(ctx context.Context, msg *model.Message, incrementRole model.SenderRole) (conv *model.Conversation, created bool, err error)
	ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error)
	// MarkConversationRead zeroes readerRole's counter and stamps ReadAt on unread
	// messages sent by the other side.
	MarkConversationRead(ctx context.Context, conversationID string, readerRole model.SenderRole, at time.Time) (stamped int, reset bool, err error)
	// DeactivateConversation sets IsActive=false; rows are never deleted.
	DeactivateConversation(ctx context.Context, id string) error
}

// Directory resolves shops and display names from the catalog.
type Directory interface {
	GetShop(ctx context.Context, shopID string) (*model.Shop, error)
	GetUserName(ctx context.Context, userID string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*model.Notification, error)
}
