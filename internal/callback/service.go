// Package callback keeps the queue of calls a seller promised to return.
package callback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/notify"
)

const (
	maxNoteLength = 500
	notifyTimeout = 5 * time.Second
)

type Store interface {
	CreateCallback(ctx context.Context, cb *model.ScheduledCallback) error
	// ListPendingCallbacks returns pending callbacks of a seller or a customer
	// (exactly one of the IDs is set), soonest first.
	ListPendingCallbacks(ctx context.Context, sellerID, customerID string) ([]model.ScheduledCallback, error)
	// DueCallbacks returns pending callbacks scheduled at or before now that were never reminded.
	DueCallbacks(ctx context.Context, now time.Time, limit int) ([]model.ScheduledCallback, error)
	// MarkReminded stamps RemindedAt if still unset. false means another instance won.
	MarkReminded(ctx context.Context, id string, at time.Time) (bool, error)
}

type Directory interface {
	GetShop(ctx context.Context, shopID string) (*model.Shop, error)
	GetUserName(ctx context.Context, userID string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*model.Notification, error)
}

type Service struct {
	store    Store
	dir      Directory
	notifier Notifier
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, dir Directory, notifier Notifier, opts ...Option) *Service {
	s := &Service{store: store, dir: dir, notifier: notifier, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type ScheduleInput struct {
	CustomerID  string
	ShopID      string
	ScheduledAt time.Time
	Reason      model.CallbackReason
	Note        string
}

// Schedule queues a callback request. scheduledAt must be strictly in the future.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (*model.ScheduledCallback, error) {
	now := s.now().UTC()
	if !in.ScheduledAt.After(now) {
		return nil, apperr.InvalidSchedule("scheduledAt must be in the future")
	}
	if in.ShopID == "" {
		return nil, apperr.BadRequest("shopId required", nil)
	}
	if in.Reason != "" && !in.Reason.Valid() {
		return nil, apperr.BadRequest("unknown reason", nil)
	}
	in.Note = strings.TrimSpace(in.Note)
	if len([]rune(in.Note)) > maxNoteLength {
		return nil, apperr.BadRequest("note too long", nil)
	}
	shop, err := s.dir.GetShop(ctx, in.ShopID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("shop", err)
		}
		return nil, fmt.Errorf("callback.Schedule: %w", err)
	}
	if shop.SellerID == in.CustomerID {
		return nil, apperr.BadRequest("cannot schedule a callback from your own shop", nil)
	}

	cb := &model.ScheduledCallback{
		ID:          uuid.NewString(),
		ShopID:      shop.ID,
		SellerID:    shop.SellerID,
		CustomerID:  in.CustomerID,
		ScheduledAt: in.ScheduledAt.UTC(),
		Reason:      in.Reason,
		Note:        in.Note,
		Status:      model.CallbackPending,
		CreatedAt:   now,
	}
	if err := s.store.CreateCallback(ctx, cb); err != nil {
		return nil, fmt.Errorf("callback.Schedule: %w", err)
	}
	s.notify(ctx, notify.Request{
		UserID:   cb.SellerID,
		Type:     model.NotificationCallbackScheduled,
		Title:    "Callback requested",
		Body:     fmt.Sprintf("%s asked for a call at %s", s.customerName(ctx, cb.CustomerID), cb.ScheduledAt.Format(time.RFC3339)),
		Data:     callbackData(cb),
		DedupKey: "callback_scheduled:" + cb.ID,
	})
	return cb, nil
}

func (s *Service) ListForSeller(ctx context.Context, sellerID string) ([]model.ScheduledCallback, error) {
	list, err := s.store.ListPendingCallbacks(ctx, sellerID, "")
	if err != nil {
		return nil, fmt.Errorf("callback.ListForSeller: %w", err)
	}
	return list, nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID string) ([]model.ScheduledCallback, error) {
	list, err := s.store.ListPendingCallbacks(ctx, "", customerID)
	if err != nil {
		return nil, fmt.Errorf("callback.ListForCustomer: %w", err)
	}
	return list, nil
}

// RemindDue notifies sellers about callbacks that came due. Each callback is
// reminded at most once even with several instances sweeping.
func (s *Service) RemindDue(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	due, err := s.store.DueCallbacks(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("callback.RemindDue: %w", err)
	}
	var reminded int
	for i := range due {
		cb := &due[i]
		ok, err := s.store.MarkReminded(ctx, cb.ID, now)
		if err != nil {
			logger.Errorf("callback: mark reminded %s: %v", cb.ID, err)
			continue
		}
		if !ok {
			continue
		}
		reminded++
		s.notify(ctx, notify.Request{
			UserID:   cb.SellerID,
			Type:     model.NotificationCallbackDue,
			Title:    "Time to call back",
			Body:     fmt.Sprintf("%s is waiting for your call", s.customerName(ctx, cb.CustomerID)),
			Data:     callbackData(cb),
			DedupKey: "callback_due:" + cb.ID,
		})
	}
	return reminded, nil
}

func (s *Service) customerName(ctx context.Context, customerID string) string {
	if name, err := s.dir.GetUserName(ctx, customerID); err == nil && name != "" {
		return name
	}
	return "A customer"
}

func (s *Service) notify(ctx context.Context, req notify.Request) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if _, err := s.notifier.Notify(ctx, req); err != nil {
		logger.Errorf("callback: notify %s type=%s: %v", req.UserID, req.Type, err)
	}
}

func callbackData(cb *model.ScheduledCallback) map[string]string {
	return map[string]string{
		"callbackId":  cb.ID,
		"shopId":      cb.ShopID,
		"customerId":  cb.CustomerID,
		"scheduledAt": cb.ScheduledAt.Format(time.RFC3339),
	}
}
