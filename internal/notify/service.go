// Package notify persists user notifications and fans them out to live
// connections and external push. Delivery is best effort; persistence is not.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/metrics"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/push"
)

const pushTimeout = 10 * time.Second

type Store interface {
	// CreateNotification inserts n. When n.DedupKey is set and a row with the same
	// (user, dedup key) exists, n is overwritten with it and created is false.
	CreateNotification(ctx context.Context, n *model.Notification) (created bool, err error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}

// Request describes one notification. Data values are strings so the same map
// can travel through web push and FCM unchanged.
type Request struct {
	UserID   string
	Type     string
	Title    string
	Body     string
	Data     map[string]string
	DedupKey string
	// PushIfOffline skips external push while the user has a live connection:
	// the new_notification event already reached the open app.
	PushIfOffline bool
}

// Presence reports whether a user has at least one live connection.
type Presence interface {
	IsOnline(userID string) bool
}

type Service struct {
	store    Store
	pub      event.Publisher
	sender   push.Sender
	presence Presence
	metrics  *metrics.Metrics
	now      func() time.Time
	// async runs external push; replaced in tests.
	async func(func())
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithPresence(p Presence) Option { return func(s *Service) { s.presence = p } }

// NewService wires the fanout. sender may be nil when external push is disabled.
func NewService(store Store, pub event.Publisher, sender push.Sender, opts ...Option) *Service {
	s := &Service{
		store:  store,
		pub:    pub,
		sender: sender,
		now:    time.Now,
		async:  func(f func()) { go f() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Notify stores the notification, then delivers it to the user's live
// connections and external push. Neither delivery is awaited and neither can
// fail the call once the row is stored.
func (s *Service) Notify(ctx context.Context, req Request) (*model.Notification, error) {
	if req.UserID == "" || req.Type == "" {
		return nil, apperr.BadRequest("notification user and type required", nil)
	}
	data := make(map[string]string, len(req.Data)+1)
	for k, v := range req.Data {
		data[k] = v
	}
	data["type"] = req.Type

	n := &model.Notification{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Body:      req.Body,
		Data:      data,
		DedupKey:  req.DedupKey,
		CreatedAt: s.now().UTC(),
	}
	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("notify.Notify: %w", err)
	}
	if !created {
		return n, nil
	}
	s.metrics.NotificationCreated(n.Type)

	s.pub.SendToUser(n.UserID, event.NewNotification, n)
	if s.sender != nil && !s.skipPush(req) {
		msg := push.Message{Title: n.Title, Body: n.Body, Data: n.Data}
		s.async(func() {
			pctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			defer cancel()
			if err := s.sender.Send(pctx, n.UserID, msg); err != nil {
				logger.Errorf("notify: push user=%s type=%s: %v", n.UserID, n.Type, err)
				s.metrics.PushFailed("external")
			}
		})
	}
	return n, nil
}

func (s *Service) skipPush(req Request) bool {
	return req.PushIfOffline && s.presence != nil && s.presence.IsOnline(req.UserID)
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("notify.List: %w", err)
	}
	return list, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	if err := s.store.MarkNotificationRead(ctx, userID, id); err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return apperr.NotFound("notification", err)
		}
		return fmt.Errorf("notify.MarkRead: %w", err)
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("notify.MarkAllRead: %w", err)
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("notify.UnreadCount: %w", err)
	}
	return n, nil
}
