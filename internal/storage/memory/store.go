package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/model"
)

// Store is the in-process implementation of the conversation, call, callback
// and notification stores plus the catalog directory. One mutex guards all
// maps, so each method is atomic the way the SQL statements of the postgres
// repositories are. Data is lost on restart.
type Store struct {
	mu sync.Mutex

	conversations map[string]*model.Conversation
	pairs         map[string]string // customer|shop -> conversation id
	messages      map[string][]*model.Message
	clientIDs     map[string]*model.Message // conversation|sender|client id -> message

	calls    map[string]*model.VideoCall
	channels map[string]string
	invoices map[string]*model.CallInvoice

	callbacks map[string]*model.ScheduledCallback

	notifications map[string]*model.Notification
	byUser        map[string][]*model.Notification
	dedup         map[string]*model.Notification

	shops map[string]model.Shop
	users map[string]string
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]*model.Message),
		clientIDs:     make(map[string]*model.Message),
		calls:         make(map[string]*model.VideoCall),
		channels:      make(map[string]string),
		invoices:      make(map[string]*model.CallInvoice),
		callbacks:     make(map[string]*model.ScheduledCallback),
		notifications: make(map[string]*model.Notification),
		byUser:        make(map[string][]*model.Notification),
		dedup:         make(map[string]*model.Notification),
		shops:         make(map[string]model.Shop),
		users:         make(map[string]string),
	}
}

func notFound(what, id string) error {
	return apperr.NotFound(what, fmt.Errorf("%s %s", what, id))
}

// --- directory ---

func (s *Store) PutShop(shop model.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops[shop.ID] = shop
}

func (s *Store) PutUser(p model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p.Name
}

func (s *Store) GetShop(_ context.Context, shopID string) (*model.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return nil, notFound("shop", shopID)
	}
	return &shop, nil
}

func (s *Store) GetUserName(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.users[userID]
	if !ok {
		return "", notFound("user", userID)
	}
	return name, nil
}

// --- conversations ---

func (s *Store) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, notFound("conversation", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetOrCreateConversation(_ context.Context, customerID, shopID, sellerID string, now time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := customerID + "|" + shopID
	if id, ok := s.pairs[key]; ok {
		c := s.conversations[id]
		if !c.IsActive {
			c.IsActive = true
			c.UpdatedAt = now
		}
		cp := *c
		return &cp, nil
	}
	c := &model.Conversation{
		ID:         uuid.NewString(),
		ShopID:     shopID,
		CustomerID: customerID,
		SellerID:   sellerID,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.conversations[c.ID] = c
	s.pairs[key] = c.ID
	cp := *c
	return &cp, nil
}

// DeactivateConversation soft-closes a conversation; it is never deleted.
func (s *Store) DeactivateConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return notFound("conversation", id)
	}
	c.IsActive = false
	return nil
}

func (s *Store) ListConversations(_ context.Context, userID string, role model.SenderRole, limit, offset int) ([]model.Conversation, error) {
	s.mu.Lock()
	var out []model.Conversation
	for _, c := range s.conversations {
		if c.ParticipantID(role) == userID {
			out = append(out, *c)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (s *Store) AppendMessage(_ context.Context, msg *model.Message, incrementRole model.SenderRole) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, false, notFound("conversation", msg.ConversationID)
	}
	if msg.ClientMessageID != "" {
		key := msg.ConversationID + "|" + msg.SenderID + "|" + msg.ClientMessageID
		if existing, ok := s.clientIDs[key]; ok {
			*msg = *existing
			cp := *c
			return &cp, false, nil
		}
		defer func() { s.clientIDs[key] = s.lastMessage(msg.ConversationID) }()
	}

	stored := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)

	at := msg.CreatedAt
	c.LastMessage = msg.Preview()
	c.LastMessageAt = &at
	c.LastMessageSender = msg.SenderID
	c.UpdatedAt = at
	switch incrementRole {
	case model.RoleCustomer:
		c.CustomerUnread++
	case model.RoleSeller:
		c.SellerUnread++
	}
	cp := *c
	return &cp, true, nil
}

func (s *Store) lastMessage(conversationID string) *model.Message {
	list := s.messages[conversationID]
	return list[len(list)-1]
}

func (s *Store) ListMessages(_ context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	out := make([]model.Message, 0, len(all))
	for _, m := range all {
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) MarkConversationRead(_ context.Context, conversationID string, readerRole model.SenderRole, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return 0, false, notFound("conversation", conversationID)
	}
	reset := false
	switch readerRole {
	case model.RoleCustomer:
		reset = c.CustomerUnread > 0
		c.CustomerUnread = 0
	case model.RoleSeller:
		reset = c.SellerUnread > 0
		c.SellerUnread = 0
	}
	stamped := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderRole != readerRole && m.ReadAt == nil {
			t := at
			m.ReadAt = &t
			stamped++
		}
	}
	return stamped, reset, nil
}

// --- calls ---

func (s *Store) CreateCall(_ context.Context, c *model.VideoCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.channels[c.ChannelName]; taken {
		return apperr.Conflict("channel name taken")
	}
	cp := *c
	s.calls[c.ID] = &cp
	s.channels[c.ChannelName] = c.ID
	return nil
}

func (s *Store) GetCall(_ context.Context, id string) (*model.VideoCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, notFound("call", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) TransitionCall(_ context.Context, t model.CallTransition) (*model.VideoCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[t.CallID]
	if !ok {
		return nil, notFound("call", t.CallID)
	}
	if c.Status != t.From {
		return nil, apperr.InvalidTransition(string(c.Status), string(t.To))
	}
	at := t.At
	c.Status = t.To
	switch t.To {
	case model.CallAccepted:
		c.StartedAt = &at
		c.EndedAt = nil
	case model.CallRequested:
		c.StartedAt = nil
	case model.CallCancelled:
		c.EndedAt = &at
		c.EndedBy = t.By
	case model.CallCompleted:
		c.EndedAt = &at
		c.EndedBy = t.By
		if c.StartedAt != nil {
			c.Duration = max(0, int(at.Sub(*c.StartedAt)/time.Second))
		}
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCalls(_ context.Context, userID string, role model.SenderRole, limit int) ([]model.VideoCall, error) {
	s.mu.Lock()
	var out []model.VideoCall
	for _, c := range s.calls {
		if c.ParticipantID(role) == userID {
			out = append(out, *c)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (s *Store) CreateInvoice(_ context.Context, inv *model.CallInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

// --- callbacks ---

func (s *Store) CreateCallback(_ context.Context, cb *model.ScheduledCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cb
	s.callbacks[cb.ID] = &cp
	return nil
}

func (s *Store) ListPendingCallbacks(_ context.Context, sellerID, customerID string) ([]model.ScheduledCallback, error) {
	s.mu.Lock()
	var out []model.ScheduledCallback
	for _, cb := range s.callbacks {
		if cb.Status != model.CallbackPending {
			continue
		}
		if (sellerID != "" && cb.SellerID == sellerID) || (customerID != "" && cb.CustomerID == customerID) {
			out = append(out, *cb)
		}
	}
	s.mu.Unlock()
	sortCallbacks(out)
	return out, nil
}

func (s *Store) DueCallbacks(_ context.Context, now time.Time, limit int) ([]model.ScheduledCallback, error) {
	s.mu.Lock()
	var out []model.ScheduledCallback
	for _, cb := range s.callbacks {
		if cb.Status == model.CallbackPending && cb.RemindedAt == nil && !cb.ScheduledAt.After(now) {
			out = append(out, *cb)
		}
	}
	s.mu.Unlock()
	sortCallbacks(out)
	return page(out, limit, 0), nil
}

func (s *Store) MarkReminded(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.callbacks[id]
	if !ok {
		return false, notFound("callback", id)
	}
	if cb.RemindedAt != nil {
		return false, nil
	}
	t := at
	cb.RemindedAt = &t
	return true, nil
}

// SetCallbackStatus is used by tests to simulate out-of-band completion.
func (s *Store) SetCallbackStatus(id string, status model.CallbackStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.callbacks[id]; ok {
		cb.Status = status
	}
}

func sortCallbacks(list []model.ScheduledCallback) {
	sort.Slice(list, func(i, j int) bool { return list[i].ScheduledAt.Before(list[j].ScheduledAt) })
}

// --- notifications ---

func (s *Store) CreateNotification(_ context.Context, n *model.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.DedupKey != "" {
		key := n.UserID + "|" + n.DedupKey
		if existing, ok := s.dedup[key]; ok {
			*n = cloneNotification(existing)
			return false, nil
		}
		defer func() { s.dedup[key] = s.notifications[n.ID] }()
	}
	cp := cloneNotification(n)
	s.notifications[n.ID] = &cp
	s.byUser[n.UserID] = append(s.byUser[n.UserID], &cp)
	return true, nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byUser[userID]
	out := make([]model.Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if unreadOnly && list[i].IsRead {
			continue
		}
		out = append(out, cloneNotification(list[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return notFound("notification", id)
	}
	n.IsRead = true
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int
	for _, n := range s.byUser[userID] {
		if !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (s *Store) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	for _, n := range s.byUser[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func cloneNotification(n *model.Notification) model.Notification {
	cp := *n
	if n.Data != nil {
		cp.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			cp.Data[k] = v
		}
	}
	return cp
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return []T{}
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
