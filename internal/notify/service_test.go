package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/event/eventtest"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/push"
	"github.com/marketchat/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []push.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ string, msg push.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

// checkingPublisher asserts the notification is already stored when delivered.
type checkingPublisher struct {
	eventtest.Recorder
	t     *testing.T
	store *memory.Store
}

func (p *checkingPublisher) SendToUser(userID string, typ event.Type, payload any) {
	n := payload.(*model.Notification)
	list, err := p.store.ListNotifications(context.Background(), userID, false, 0)
	require.NoError(p.t, err)
	found := false
	for _, stored := range list {
		found = found || stored.ID == n.ID
	}
	assert.True(p.t, found, "delivered before persisted")
	p.Recorder.SendToUser(userID, typ, payload)
}

func newService(t *testing.T, sender push.Sender) (*Service, *memory.Store, *checkingPublisher) {
	t.Helper()
	store := memory.NewStore()
	pub := &checkingPublisher{t: t, store: store}
	svc := NewService(store, pub, sender)
	svc.async = func(f func()) { f() }
	return svc, store, pub
}

func TestNotifyPersistsThenDelivers(t *testing.T) {
	sender := &fakeSender{}
	svc, _, pub := newService(t, sender)

	n, err := svc.Notify(context.Background(), Request{
		UserID: "u1", Type: model.NotificationNewMessage, Title: "Anna", Body: "hi",
		Data: map[string]string{"conversationId": "c1"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.NotificationNewMessage, n.Data["type"])
	assert.Equal(t, "c1", n.Data["conversationId"])

	require.Len(t, pub.To("u1"), 1)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Anna", sender.sent[0].Title)
	assert.Equal(t, "c1", sender.sent[0].Data["conversationId"])
}

type onlineSet map[string]bool

func (o onlineSet) IsOnline(userID string) bool { return o[userID] }

func TestPushIfOfflineSkipsConnectedUsers(t *testing.T) {
	sender := &fakeSender{}
	svc, _, pub := newService(t, sender)
	svc.presence = onlineSet{"u1": true}
	ctx := context.Background()

	_, err := svc.Notify(ctx, Request{UserID: "u1", Type: model.NotificationNewMessage, Title: "a", PushIfOffline: true})
	require.NoError(t, err)
	assert.Len(t, pub.To("u1"), 1)
	assert.Empty(t, sender.sent)

	_, err = svc.Notify(ctx, Request{UserID: "u2", Type: model.NotificationNewMessage, Title: "b", PushIfOffline: true})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "b", sender.sent[0].Title)

	// call_incoming style requests push regardless of presence
	_, err = svc.Notify(ctx, Request{UserID: "u1", Type: model.NotificationCallIncoming, Title: "c"})
	require.NoError(t, err)
	assert.Len(t, sender.sent, 2)
}

func TestNotifyDedup(t *testing.T) {
	sender := &fakeSender{}
	svc, _, pub := newService(t, sender)
	ctx := context.Background()
	req := Request{UserID: "u1", Type: model.NotificationCallIncoming, DedupKey: "call_incoming:c1"}

	first, err := svc.Notify(ctx, req)
	require.NoError(t, err)
	second, err := svc.Notify(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, pub.All(), 1)
	assert.Len(t, sender.sent, 1)

	count, err := svc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPushFailureDoesNotFailNotify(t *testing.T) {
	sender := &fakeSender{err: errors.New("gateway down")}
	svc, _, _ := newService(t, sender)
	n, err := svc.Notify(context.Background(), Request{UserID: "u1", Type: model.NotificationCallMissed})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
}

func TestNotifyWithoutPush(t *testing.T) {
	svc, _, pub := newService(t, nil)
	_, err := svc.Notify(context.Background(), Request{UserID: "u1", Type: model.NotificationCallMissed})
	require.NoError(t, err)
	assert.Len(t, pub.All(), 1)
}

func TestNotifyValidation(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, err := svc.Notify(context.Background(), Request{Type: "x"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	_, err = svc.Notify(context.Background(), Request{UserID: "u"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestReadState(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	a, _ := svc.Notify(ctx, Request{UserID: "u1", Type: "a"})
	_, _ = svc.Notify(ctx, Request{UserID: "u1", Type: "b"})
	_, _ = svc.Notify(ctx, Request{UserID: "u1", Type: "c"})

	require.NoError(t, svc.MarkRead(ctx, "u1", a.ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, "u2", a.ID), apperr.ErrNotFound)

	unread, err := svc.List(ctx, "u1", true, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 2)
	assert.Equal(t, "c", unread[0].Type)

	changed, err := svc.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	count, _ := svc.UnreadCount(ctx, "u1")
	assert.Zero(t, count)
}
