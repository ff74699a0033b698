// Package chat routes messages between a customer and a shop's seller over
// their single persistent conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/metrics"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/notify"
)

const (
	maxContentLength = 4000
	defaultPageSize  = 50
	maxPageSize      = 200
	notifyTimeout    = 5 * time.Second
)

type Service struct {
	store    Store
	dir      Directory
	pub      event.Publisher
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func NewService(store Store, dir Directory, pub event.Publisher, notifier Notifier, opts ...Option) *Service {
	s := &Service{store: store, dir: dir, pub: pub, notifier: notifier, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrCreateConversation opens (or reopens) the customer's conversation with a shop.
func (s *Service) GetOrCreateConversation(ctx context.Context, customerID, shopID string) (*model.Conversation, error) {
	if customerID == "" || shopID == "" {
		return nil, apperr.BadRequest("shopId required", nil)
	}
	shop, err := s.dir.GetShop(ctx, shopID)
	if err != nil {
		return nil, notFound("shop", err)
	}
	if shop.SellerID == customerID {
		return nil, apperr.BadRequest("cannot open a conversation with your own shop", nil)
	}
	conv, err := s.store.GetOrCreateConversation(ctx, customerID, shop.ID, shop.SellerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("chat.GetOrCreateConversation: %w", err)
	}
	return conv, nil
}

// JoinRoom checks that userID may subscribe to the conversation room.
func (s *Service) JoinRoom(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, _, err := s.participant(ctx, userID, conversationID)
	return conv, err
}

type SendMessageInput struct {
	UserID          string
	ConversationID  string
	Content         string
	Type            model.MessageType
	ImageURL        string
	ClientMessageID string
}

func (in *SendMessageInput) normalize() error {
	in.Content = strings.TrimSpace(in.Content)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Type == "" {
		in.Type = model.MessageTypeText
		if in.Content == "" && in.ImageURL != "" {
			in.Type = model.MessageTypeImage
		}
	}
	switch {
	case in.ConversationID == "":
		return apperr.BadRequest("conversationId required", nil)
	case in.Type.ServerOnly():
		return apperr.BadRequest("message type is reserved", nil)
	case in.Type != model.MessageTypeText && in.Type != model.MessageTypeImage:
		return apperr.BadRequest("unknown message type", nil)
	case in.Type == model.MessageTypeText && in.Content == "":
		return apperr.BadRequest("content required", nil)
	case in.Type == model.MessageTypeImage && in.ImageURL == "":
		return apperr.BadRequest("imageUrl required", nil)
	case utf8.RuneCountInString(in.Content) > maxContentLength:
		return apperr.BadRequest("message too long", nil)
	}
	return nil
}

// SendMessage persists a message exactly once, bumps the recipient's unread
// counter and emits new_message to the room plus conversation_updated to the
// recipient. A retried ClientMessageID returns the stored message and only
// re-emits new_message.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.SendMessage", time.Now())()
	if err := in.normalize(); err != nil {
		return nil, err
	}
	conv, role, err := s.participant(ctx, in.UserID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, apperr.BadRequest("conversation is closed", nil)
	}

	msg := &model.Message{
		ID:              uuid.NewString(),
		ConversationID:  conv.ID,
		SenderID:        in.UserID,
		SenderRole:      role,
		Content:         in.Content,
		Type:            in.Type,
		ImageURL:        in.ImageURL,
		ClientMessageID: in.ClientMessageID,
		CreatedAt:       s.now().UTC(),
	}
	recipient := role.Other()
	updated, created, err := s.store.AppendMessage(ctx, msg, recipient)
	if err != nil {
		return nil, fmt.Errorf("chat.SendMessage: %w", err)
	}

	room := event.ConversationRoom(conv.ID)
	s.pub.SendToRoom(room, event.NewMessage, event.NewMessagePayload{Message: msg})
	if !created {
		logger.Debugf("chat: replayed client message %s in %s", in.ClientMessageID, conv.ID)
		return msg, nil
	}
	s.metrics.MessageSent(string(msg.Type))

	recipientID := updated.ParticipantID(recipient)
	s.pub.SendToUser(recipientID, event.ConversationUpdated, event.ConversationUpdatedPayload{
		ConversationID:  updated.ID,
		LastMessage:     updated.LastMessage,
		LastMessageAt:   updated.LastMessageAt,
		UnreadIncrement: 1,
	})
	s.notifyRecipient(ctx, updated, msg, recipientID)
	return msg, nil
}

// PostCallEvent records a call lifecycle line (call_started, call_ended) in the
// pair's conversation. It updates the preview but never the unread counters.
func (s *Service) PostCallEvent(ctx context.Context, call *model.VideoCall, senderID string, t model.MessageType, content string) (*model.Message, error) {
	conv, err := s.store.GetOrCreateConversation(ctx, call.CustomerID, call.ShopID, call.SellerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("chat.PostCallEvent: %w", err)
	}
	role, ok := conv.RoleOf(senderID)
	if !ok {
		return nil, apperr.Unauthorized("sender is not a participant")
	}
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		Type:           t,
		CreatedAt:      s.now().UTC(),
	}
	if _, _, err := s.store.AppendMessage(ctx, msg, ""); err != nil {
		return nil, fmt.Errorf("chat.PostCallEvent: %w", err)
	}
	s.pub.SendToRoom(event.ConversationRoom(conv.ID), event.NewMessage, event.NewMessagePayload{Message: msg})
	return msg, nil
}

// MarkRead clears the caller's unread counter and stamps messages from the other
// side. Nothing is emitted when there was nothing to mark.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) (int, error) {
	conv, role, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	at := s.now().UTC()
	stamped, reset, err := s.store.MarkConversationRead(ctx, conv.ID, role, at)
	if err != nil {
		return 0, fmt.Errorf("chat.MarkRead: %w", err)
	}
	if stamped == 0 && !reset {
		return 0, nil
	}
	s.pub.SendToRoom(event.ConversationRoom(conv.ID), event.MessagesMarkedRead, event.MarkedReadPayload{
		ConversationID: conv.ID,
		UserID:         userID,
		ReadAt:         at,
	})
	return stamped, nil
}

// CloseConversation soft-deactivates the conversation for both parties. Sending
// is refused until the customer opens it again.
func (s *Service) CloseConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, _, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return conv, nil
	}
	if err := s.store.DeactivateConversation(ctx, conv.ID); err != nil {
		return nil, fmt.Errorf("chat.CloseConversation: %w", err)
	}
	conv.IsActive = false
	logger.Infof("chat: conversation %s closed by %s", conv.ID, userID)
	return conv, nil
}

// SetTyping relays a typing indicator to the other connections in the room.
func (s *Service) SetTyping(ctx context.Context, userID, conversationID string, isTyping bool) error {
	conv, _, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	s.pub.SendToRoomExcept(event.ConversationRoom(conv.ID), userID, event.UserTyping, event.TypingPayload{
		ConversationID: conv.ID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	return nil
}

func (s *Service) ListConversations(ctx context.Context, userID string, role model.SenderRole, limit, offset int) ([]model.Conversation, error) {
	if !role.Valid() {
		return nil, apperr.BadRequest("role must be customer or seller", nil)
	}
	if offset < 0 {
		offset = 0
	}
	convs, err := s.store.ListConversations(ctx, userID, role, pageSize(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("chat.ListConversations: %w", err)
	}
	return convs, nil
}

// ListMessages returns messages oldest first; before pages backwards in time.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	conv, _, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conv.ID, before, pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("chat.ListMessages: %w", err)
	}
	return msgs, nil
}

func (s *Service) participant(ctx context.Context, userID, conversationID string) (*model.Conversation, model.SenderRole, error) {
	if conversationID == "" {
		return nil, "", apperr.BadRequest("conversationId required", nil)
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, "", notFound("conversation", err)
	}
	role, ok := conv.RoleOf(userID)
	if !ok {
		return nil, "", apperr.Unauthorized("not a participant of this conversation")
	}
	return conv, role, nil
}

func (s *Service) notifyRecipient(ctx context.Context, conv *model.Conversation, msg *model.Message, recipientID string) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	_, err := s.notifier.Notify(ctx, notify.Request{
		UserID: recipientID,
		Type:   model.NotificationNewMessage,
		Title:  s.senderName(ctx, conv, msg),
		Body:   msg.Preview(),
		Data: map[string]string{
			"conversationId": conv.ID,
			"messageId":      msg.ID,
			"shopId":         conv.ShopID,
		},
		DedupKey:      "message:" + msg.ID,
		PushIfOffline: true,
	})
	if err != nil {
		logger.Errorf("chat: notify %s about message %s: %v", recipientID, msg.ID, err)
	}
}

func (s *Service) senderName(ctx context.Context, conv *model.Conversation, msg *model.Message) string {
	if msg.SenderRole == model.RoleSeller {
		if shop, err := s.dir.GetShop(ctx, conv.ShopID); err == nil && shop.Name != "" {
			return shop.Name
		}
		return "Shop"
	}
	if name, err := s.dir.GetUserName(ctx, msg.SenderID); err == nil && name != "" {
		return name
	}
	return "Customer"
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func notFound(resource string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound(resource, err)
	}
	return fmt.Errorf("chat: load %s: %w", resource, err)
}
