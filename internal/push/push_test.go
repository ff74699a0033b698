package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSender struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordSender) Send(_ context.Context, userID string, _ Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID)
	return r.err
}

func TestMultiSenderContinuesAfterFailure(t *testing.T) {
	bad := &recordSender{err: errors.New("down")}
	good := &recordSender{}
	m := NewMultiSender().Add("web", bad).Add("fcm", good).Add("none", nil)

	err := m.Send(context.Background(), "u1", Message{Title: "t"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "web: down")
	assert.Equal(t, []string{"u1"}, good.calls)
	assert.Equal(t, 2, m.Len())
}

func TestClientSend(t *testing.T) {
	var got NotifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notify", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	err := c.Send(context.Background(), "seller-1", Message{Title: "Ann", Body: "hello", Data: map[string]string{"type": "new_message"}})

	require.NoError(t, err)
	assert.Equal(t, "seller-1", got.UserID)
	assert.Equal(t, "hello", got.Body)
	assert.Equal(t, "new_message", got.Data["type"])
}

func TestClientSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Send(context.Background(), "u", Message{})
	assert.Error(t, err)
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient("")
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Send(context.Background(), "u", Message{}))
	assert.NoError(t, c.Subscribe(context.Background(), "u", PushSubscription{}))
}

type fakeDevices struct {
	tokens  map[string][]string
	removed []string
}

func (f *fakeDevices) AddDevice(_ context.Context, userID, token string) error {
	f.tokens[userID] = append(f.tokens[userID], token)
	return nil
}

func (f *fakeDevices) RemoveDevice(_ context.Context, _ string, token string) error {
	f.removed = append(f.removed, token)
	return nil
}

func (f *fakeDevices) Devices(_ context.Context, userID string) ([]string, error) {
	return f.tokens[userID], nil
}

type fakeMulticast struct {
	sent []*messaging.MulticastMessage
	resp func(tokens []string) *messaging.BatchResponse
}

func (f *fakeMulticast) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, m)
	return f.resp(m.Tokens), nil
}

func TestFCMSenderSendsToAllDevices(t *testing.T) {
	devices := &fakeDevices{tokens: map[string][]string{"u1": {"a", "b"}}}
	client := &fakeMulticast{resp: func(tokens []string) *messaging.BatchResponse {
		out := &messaging.BatchResponse{}
		for range tokens {
			out.Responses = append(out.Responses, &messaging.SendResponse{Success: true})
			out.SuccessCount++
		}
		return out
	}}
	s := &FCMSender{client: client, devices: devices}

	err := s.Send(context.Background(), "u1", Message{Title: "Call", Body: "Incoming", Data: map[string]string{"type": "call_incoming"}})

	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, []string{"a", "b"}, client.sent[0].Tokens)
	assert.Equal(t, "Call", client.sent[0].Notification.Title)
	assert.Equal(t, "call_incoming", client.sent[0].Data["type"])
}

func TestFCMSenderNoDevices(t *testing.T) {
	client := &fakeMulticast{}
	s := &FCMSender{client: client, devices: &fakeDevices{tokens: map[string][]string{}}}

	assert.NoError(t, s.Send(context.Background(), "nobody", Message{}))
	assert.Empty(t, client.sent)
}

func TestFCMSenderCountsFailures(t *testing.T) {
	devices := &fakeDevices{tokens: map[string][]string{"u1": {"ok", "broken"}}}
	client := &fakeMulticast{resp: func(tokens []string) *messaging.BatchResponse {
		return &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Success: false, Error: errors.New("internal")},
			},
		}
	}}
	s := &FCMSender{client: client, devices: devices}

	err := s.Send(context.Background(), "u1", Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Empty(t, devices.removed)
}

func TestEnsureVAPIDKeysFromEnv(t *testing.T) {
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	keys, err := EnsureVAPIDKeys(t.TempDir() + "/vapid.json")
	require.NoError(t, err)
	assert.Equal(t, "pub", keys.PublicKey)
}

func TestEnsureVAPIDKeysGeneratesAndReuses(t *testing.T) {
	t.Setenv("VAPID_PUBLIC_KEY", "")
	t.Setenv("VAPID_PRIVATE_KEY", "")
	path := t.TempDir() + "/nested/vapid.json"

	first, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	second, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)

	assert.NotEmpty(t, first.PublicKey)
	assert.Equal(t, first, second)
}
