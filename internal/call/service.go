// Package call coordinates live audio/video calls between a customer and a
// seller. Every state change is a conditional update on the stored call, so
// racing requests (accept vs decline, two end_call) resolve to one winner.
package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/media"
	"github.com/marketchat/internal/metrics"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/notify"
)

const sideEffectTimeout = 5 * time.Second

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*model.Notification, error)
}

type Service struct {
	store    Store
	dir      Directory
	issuer   media.Issuer
	pub      event.Publisher
	notifier Notifier
	timeline Timeline
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithTimeline posts call_started/call_ended lines into the chat.
func WithTimeline(t Timeline) Option { return func(s *Service) { s.timeline = t } }

func NewService(store Store, dir Directory, issuer media.Issuer, pub event.Publisher, notifier Notifier, opts ...Option) *Service {
	s := &Service{store: store, dir: dir, issuer: issuer, pub: pub, notifier: notifier, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RequestCall starts ringing the shop's seller. Shops that opted out of the
// call type get CALLS_DISABLED and no record is created.
func (s *Service) RequestCall(ctx context.Context, customerID, shopID string, callType model.CallType) (*model.VideoCall, error) {
	defer logger.DeferLogDuration("call.RequestCall", time.Now())()
	if callType == "" {
		callType = model.CallTypeVideo
	}
	if !callType.Valid() {
		return nil, apperr.BadRequest("callType must be audio or video", nil)
	}
	if shopID == "" {
		return nil, apperr.BadRequest("shopId required", nil)
	}
	shop, err := s.dir.GetShop(ctx, shopID)
	if err != nil {
		return nil, notFound("shop", err)
	}
	if shop.SellerID == customerID {
		return nil, apperr.BadRequest("cannot call your own shop", nil)
	}
	if !shop.CallsEnabled(callType) {
		return nil, apperr.CallsDisabled(string(callType))
	}

	now := s.now().UTC()
	c := &model.VideoCall{
		ID:          uuid.NewString(),
		ShopID:      shop.ID,
		SellerID:    shop.SellerID,
		CustomerID:  customerID,
		CallType:    callType,
		ChannelName: ChannelName(customerID, shop.SellerID, now),
		Status:      model.CallRequested,
		CreatedAt:   now,
	}
	err = s.store.CreateCall(ctx, c)
	if errors.Is(err, apperr.ErrConflict) {
		c.ChannelName = fallbackChannelName(customerID, shop.SellerID, now)
		err = s.store.CreateCall(ctx, c)
	}
	if err != nil {
		return nil, fmt.Errorf("call.RequestCall: %w", err)
	}
	s.metrics.CallTransition(string(model.CallRequested), nil)

	customerName := s.customerName(ctx, customerID)
	s.pub.SendToUser(c.SellerID, event.CallIncoming, event.CallIncomingPayload{
		CallID:       c.ID,
		CustomerID:   customerID,
		CustomerName: customerName,
		ShopID:       shop.ID,
		ShopName:     shop.Name,
		CallType:     c.CallType,
		ChannelName:  c.ChannelName,
	})
	s.notify(ctx, notify.Request{
		UserID: c.SellerID,
		Type:   model.NotificationCallIncoming,
		Title:  fmt.Sprintf("Incoming %s call", c.CallType),
		Body:   fmt.Sprintf("%s is calling %s", customerName, shop.Name),
		Data: map[string]string{
			"callId":      c.ID,
			"shopId":      shop.ID,
			"callType":    string(c.CallType),
			"channelName": c.ChannelName,
		},
		DedupKey: "call_incoming:" + c.ID,
	})
	return c, nil
}

// AcceptResult is what the accepting seller gets back: the call and their own credential.
type AcceptResult struct {
	Call       *model.VideoCall  `json:"call"`
	Credential *media.Credential `json:"credential"`
}

// AcceptCall moves a ringing call to accepted and hands out media credentials.
// If credentials cannot be issued the call goes back to requested.
func (s *Service) AcceptCall(ctx context.Context, sellerID, callID string) (*AcceptResult, error) {
	defer logger.DeferLogDuration("call.AcceptCall", time.Now())()
	c, err := s.loadAs(ctx, callID, sellerID, model.RoleSeller)
	if err != nil {
		return nil, err
	}
	accepted, err := s.transition(ctx, c, model.CallRequested, model.CallAccepted, sellerID)
	if err != nil {
		return nil, err
	}

	sellerCred, err := s.issue(ctx, accepted, model.RoleSeller)
	var customerCred *media.Credential
	if err == nil {
		customerCred, err = s.issue(ctx, accepted, model.RoleCustomer)
	}
	if err != nil {
		s.rollbackAccept(accepted)
		return nil, apperr.CredentialIssuanceFailed(err)
	}

	s.pub.SendToUser(accepted.CustomerID, event.CallAccepted, event.CallAcceptedPayload{
		CallID:      accepted.ID,
		ChannelName: accepted.ChannelName,
		Token:       customerCred.Token,
		UID:         customerCred.UID,
		AppID:       customerCred.AppID,
	})
	s.postTimeline(ctx, accepted, sellerID, model.MessageTypeCallStarted, fmt.Sprintf("%s call started", titleCase(string(accepted.CallType))))
	return &AcceptResult{Call: accepted, Credential: sellerCred}, nil
}

func (s *Service) rollbackAccept(c *model.VideoCall) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	_, err := s.store.TransitionCall(ctx, model.CallTransition{
		CallID: c.ID,
		From:   model.CallAccepted,
		To:     model.CallRequested,
		At:     s.now().UTC(),
	})
	if err != nil {
		logger.Errorf("call: rollback accept %s: %v", c.ID, err)
	}
}

// DeclineCall lets the seller reject a ringing call.
func (s *Service) DeclineCall(ctx context.Context, sellerID, callID string) (*model.VideoCall, error) {
	c, err := s.loadAs(ctx, callID, sellerID, model.RoleSeller)
	if err != nil {
		return nil, err
	}
	declined, err := s.transition(ctx, c, model.CallRequested, model.CallCancelled, sellerID)
	if err != nil {
		return nil, err
	}
	s.pub.SendToUser(declined.CustomerID, event.CallDeclined, event.CallStatusPayload{CallID: declined.ID, Status: declined.Status})
	return declined, nil
}

// CancelCall lets the customer hang up while the call is still ringing, e.g. when
// the polling window runs out. The seller gets a missed-call notification.
func (s *Service) CancelCall(ctx context.Context, customerID, callID string) (*model.VideoCall, error) {
	c, err := s.loadAs(ctx, callID, customerID, model.RoleCustomer)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.transition(ctx, c, model.CallRequested, model.CallCancelled, customerID)
	if err != nil {
		return nil, err
	}
	s.pub.SendToUser(cancelled.SellerID, event.CallCancelled, event.CallStatusPayload{CallID: cancelled.ID, Status: cancelled.Status})
	s.notify(ctx, notify.Request{
		UserID:   cancelled.SellerID,
		Type:     model.NotificationCallMissed,
		Title:    "Missed call",
		Body:     fmt.Sprintf("%s tried to reach you", s.customerName(ctx, cancelled.CustomerID)),
		Data:     map[string]string{"callId": cancelled.ID, "shopId": cancelled.ShopID, "customerId": cancelled.CustomerID},
		DedupKey: "call_missed:" + cancelled.ID,
	})
	return cancelled, nil
}

// EndCall completes an accepted call. Either participant may end it; the second
// end_call loses the race and gets INVALID_TRANSITION.
func (s *Service) EndCall(ctx context.Context, participantID, callID string) (*model.VideoCall, error) {
	c, err := s.loadAs(ctx, callID, participantID, "")
	if err != nil {
		return nil, err
	}
	ended, err := s.transition(ctx, c, model.CallAccepted, model.CallCompleted, participantID)
	if err != nil {
		return nil, err
	}
	for _, p := range []struct {
		userID   string
		incoming bool
	}{{ended.CustomerID, false}, {ended.SellerID, true}} {
		s.pub.SendToUser(p.userID, event.CallEnded, event.CallEndedPayload{
			CallID:     ended.ID,
			Duration:   ended.Duration,
			EndedBy:    participantID,
			IsIncoming: p.incoming,
		})
	}
	s.postTimeline(ctx, ended, participantID, model.MessageTypeCallEnded,
		fmt.Sprintf("%s call ended · %s", titleCase(string(ended.CallType)), formatDuration(ended.Duration)))
	return ended, nil
}

// GetToken is the customer's fallback when the call_accepted push was missed:
// it returns a fresh credential once the call is accepted and CALL_NOT_ACTIVE before.
func (s *Service) GetToken(ctx context.Context, participantID, callID string) (*media.Credential, error) {
	c, err := s.loadAs(ctx, callID, participantID, "")
	if err != nil {
		return nil, err
	}
	if c.Status != model.CallAccepted {
		return nil, apperr.CallNotActive(string(c.Status))
	}
	role, _ := c.RoleOf(participantID)
	cred, err := s.issue(ctx, c, role)
	if err != nil {
		return nil, apperr.CredentialIssuanceFailed(err)
	}
	return cred, nil
}

func (s *Service) GetCall(ctx context.Context, participantID, callID string) (*model.VideoCall, error) {
	return s.loadAs(ctx, callID, participantID, "")
}

func (s *Service) ListCalls(ctx context.Context, userID string, role model.SenderRole, limit int) ([]model.VideoCall, error) {
	if !role.Valid() {
		return nil, apperr.BadRequest("role must be customer or seller", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	calls, err := s.store.ListCalls(ctx, userID, role, limit)
	if err != nil {
		return nil, fmt.Errorf("call.ListCalls: %w", err)
	}
	return calls, nil
}

type InvoiceInput struct {
	Description string `json:"description" validate:"required,max=500"`
	Price       int64  `json:"price" validate:"gt=0"`
	Quantity    int    `json:"quantity" validate:"gte=1,lte=1000"`
}

// CreateInvoice lets the seller bill a completed call. The invoice is payable for 15 minutes.
func (s *Service) CreateInvoice(ctx context.Context, sellerID, callID string, in InvoiceInput) (*model.CallInvoice, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" || in.Price <= 0 || in.Quantity < 1 {
		return nil, apperr.BadRequest("description, positive price and quantity required", nil)
	}
	c, err := s.loadAs(ctx, callID, sellerID, model.RoleSeller)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CallCompleted {
		return nil, apperr.InvalidTransition(string(c.Status), "invoiced")
	}
	now := s.now().UTC()
	inv := &model.CallInvoice{
		ID:          uuid.NewString(),
		CallID:      c.ID,
		ShopID:      c.ShopID,
		SellerID:    c.SellerID,
		CustomerID:  c.CustomerID,
		Description: in.Description,
		Price:       in.Price,
		Quantity:    in.Quantity,
		ExpiresAt:   now.Add(model.InvoiceTTL),
		CreatedAt:   now,
	}
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("call.CreateInvoice: %w", err)
	}
	s.notify(ctx, notify.Request{
		UserID:   c.CustomerID,
		Type:     model.NotificationCallInvoice,
		Title:    "New invoice",
		Body:     in.Description,
		Data:     map[string]string{"callId": c.ID, "invoiceId": inv.ID, "shopId": c.ShopID},
		DedupKey: "call_invoice:" + inv.ID,
	})
	return inv, nil
}

// loadAs fetches a call and checks that userID takes part in it, on the given
// side when want is set.
func (s *Service) loadAs(ctx context.Context, callID, userID string, want model.SenderRole) (*model.VideoCall, error) {
	if callID == "" {
		return nil, apperr.BadRequest("callId required", nil)
	}
	c, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, notFound("call", err)
	}
	role, ok := c.RoleOf(userID)
	if !ok || (want != "" && role != want) {
		return nil, apperr.Unauthorized("not allowed to act on this call")
	}
	return c, nil
}

func (s *Service) transition(ctx context.Context, c *model.VideoCall, from, to model.CallStatus, by string) (*model.VideoCall, error) {
	updated, err := s.store.TransitionCall(ctx, model.CallTransition{
		CallID: c.ID,
		From:   from,
		To:     to,
		At:     s.now().UTC(),
		By:     by,
	})
	s.metrics.CallTransition(string(to), err)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidTransition) {
			return nil, err
		}
		return nil, notFound("call", err)
	}
	logger.Infof("call: %s", logger.Fields("call", c.ID, "from", from, "to", to, "by", by))
	return updated, nil
}

func (s *Service) issue(ctx context.Context, c *model.VideoCall, role model.SenderRole) (*media.Credential, error) {
	return s.issuer.Issue(ctx, media.Grant{
		Channel: c.ChannelName,
		UserID:  c.ParticipantID(role),
		Role:    string(role),
	})
}

func (s *Service) customerName(ctx context.Context, customerID string) string {
	if name, err := s.dir.GetUserName(ctx, customerID); err == nil && name != "" {
		return name
	}
	return "Customer"
}

func (s *Service) notify(ctx context.Context, req notify.Request) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if _, err := s.notifier.Notify(ctx, req); err != nil {
		logger.Errorf("call: notify %s type=%s: %v", req.UserID, req.Type, err)
	}
}

func (s *Service) postTimeline(ctx context.Context, c *model.VideoCall, senderID string, t model.MessageType, content string) {
	if s.timeline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if _, err := s.timeline.PostCallEvent(ctx, c, senderID, t, content); err != nil {
		logger.Errorf("call: timeline %s for %s: %v", t, c.ID, err)
	}
}

func notFound(resource string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound(resource, err)
	}
	return fmt.Errorf("call: load %s: %w", resource, err)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
