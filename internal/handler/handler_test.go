package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/call"
	"github.com/marketchat/internal/callback"
	"github.com/marketchat/internal/chat"
	"github.com/marketchat/internal/config"
	"github.com/marketchat/internal/event/eventtest"
	"github.com/marketchat/internal/media"
	"github.com/marketchat/internal/middleware"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/notify"
	"github.com/marketchat/internal/push"
	"github.com/marketchat/internal/storage/memory"
	"github.com/marketchat/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router chi.Router
	store  *memory.Store
	pub    *eventtest.Recorder
	chat   *chat.Service
	calls  *call.Service
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimit:          config.RateLimitConfig{PerIPPerMinute: 10000, PerUserPerMinute: 10000},
		CORSAllowedOrigins: "*",
		Media:              config.MediaConfig{AppID: "app", TokenTTL: time.Hour},
		Call:               config.CallConfig{PollInterval: 2 * time.Second, PollMaxAttempts: 30, RingTimeout: time.Minute},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	store.PutShop(model.Shop{ID: "shop1", SellerID: "seller1", Name: "Tea House", AudioCallsEnabled: true, VideoCallsEnabled: true})
	store.PutUser(model.UserProfile{ID: "cust1", Name: "Anna"})

	pub := &eventtest.Recorder{}
	notifySvc := notify.NewService(store, pub, nil)
	chatSvc := chat.NewService(store, store, pub, notifySvc)
	callSvc := call.NewService(store, store, media.NewJWTIssuer("app", "cert", time.Hour), pub, notifySvc, call.WithTimeline(chatSvc))
	callbackSvc := callback.NewService(store, store, notifySvc)

	cfg := testConfig()
	hub := ws.NewHub(0, nil)
	r := NewRouter(cfg, Handlers{
		Chat:         NewChatHandler(chatSvc),
		Call:         NewCallHandler(callSvc),
		Callback:     NewCallbackHandler(callbackSvc),
		Notification: NewNotificationHandler(notifySvc),
		Push:         NewPushHandler(push.NewClient(""), memory.New()),
		Config:       NewConfigHandler(cfg),
		WS:           NewWSHandler(hub, nil, ws.ClientOptions{}, "*"),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}, middleware.HeaderAuth)
	return &testEnv{router: r, store: store, pub: pub, chat: chatSvc, calls: callSvc}
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) openConversation(t *testing.T) model.Conversation {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/conversations", "cust1", `{"shopId":"shop1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[model.Conversation](t, rec)
}

func TestHealthAndCallConfig(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", "").Code)

	rec := env.do(t, http.MethodGet, "/api/config/call", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2000), got["pollIntervalMs"])
	assert.Equal(t, float64(30), got["pollMaxAttempts"])
	assert.Equal(t, "app", got["appId"])
}

func TestRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessageOverREST(t *testing.T) {
	env := newTestEnv(t)
	conv := env.openConversation(t)
	assert.Equal(t, "seller1", conv.SellerID)

	path := "/api/conversations/" + conv.ID + "/messages"
	first := env.do(t, http.MethodPost, path, "cust1", `{"content":"Is the oolong in stock?","clientMessageId":"c-1"}`)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	retry := env.do(t, http.MethodPost, path, "cust1", `{"content":"Is the oolong in stock?","clientMessageId":"c-1"}`)
	require.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, decode[model.Message](t, first).ID, decode[model.Message](t, retry).ID)

	rec := env.do(t, http.MethodGet, path, "seller1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]model.Message](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleCustomer, msgs[0].SenderRole)

	rec = env.do(t, http.MethodGet, "/api/conversations?role=seller", "seller1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]model.Conversation](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].SellerUnread)

	rec = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/read", "seller1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"marked": 1}, decode[map[string]int](t, rec))
}

func TestCloseConversationOverREST(t *testing.T) {
	env := newTestEnv(t)
	conv := env.openConversation(t)

	rec := env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/close", "seller1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[model.Conversation](t, rec).IsActive)

	rec = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", "cust1", `{"content":"still there?"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageErrors(t *testing.T) {
	env := newTestEnv(t)
	conv := env.openConversation(t)
	path := "/api/conversations/" + conv.ID + "/messages"

	tests := []struct {
		name   string
		user   string
		path   string
		body   string
		status int
		code   string
	}{
		{"outsider", "mallory", path, `{"content":"hi"}`, http.StatusForbidden, apperr.CodeUnauthorized},
		{"unknown conversation", "cust1", "/api/conversations/nope/messages", `{"content":"hi"}`, http.StatusNotFound, apperr.CodeNotFound},
		{"broken json", "cust1", path, `{"content":`, http.StatusBadRequest, apperr.CodeBadRequest},
		{"bad image url", "cust1", path, `{"messageType":"image","imageUrl":"not a url"}`, http.StatusBadRequest, apperr.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Code)
		})
	}
}

func TestCallLifecycleOverREST(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/calls", "cust1", `{"shopId":"shop1","callType":"audio"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[model.VideoCall](t, rec)
	assert.Equal(t, model.CallRequested, c.Status)

	rec = env.do(t, http.MethodGet, "/api/calls/"+c.ID+"/token", "cust1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeCallNotActive, decode[errorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/calls/"+c.ID+"/accept", "cust1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/calls/"+c.ID+"/accept", "seller1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decode[call.AcceptResult](t, rec)
	assert.Equal(t, model.CallAccepted, accepted.Call.Status)
	assert.NotEmpty(t, accepted.Credential.Token)

	rec = env.do(t, http.MethodGet, "/api/calls/"+c.ID+"/token", "cust1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, c.ChannelName, decode[media.Credential](t, rec).Channel)

	rec = env.do(t, http.MethodPost, "/api/calls/"+c.ID+"/decline", "seller1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeInvalidTransition, decode[errorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/calls/"+c.ID+"/end", "cust1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CallCompleted, decode[model.VideoCall](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/calls/"+c.ID+"/invoice", "seller1", `{"description":"1kg oolong","price":4200,"quantity":1}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestScheduleCallbackOverREST(t *testing.T) {
	env := newTestEnv(t)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	rec := env.do(t, http.MethodPost, "/api/callbacks", "cust1", fmt.Sprintf(`{"shopId":"shop1","scheduledAt":%q}`, past))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidSchedule, decode[errorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/callbacks", "cust1", `{"shopId":"shop1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidSchedule, decode[errorResponse](t, rec).Code)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = env.do(t, http.MethodPost, "/api/callbacks", "cust1", fmt.Sprintf(`{"shopId":"shop1","scheduledAt":%q,"reason":"no_answer"}`, future))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/callbacks?scope=seller", "seller1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ScheduledCallback](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/callbacks?scope=everyone", "seller1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushDisabledIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/push/subscribe", "cust1", `{"endpoint":"https://push.example/1","keys":{"p256dh":"a","auth":"b"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWriteAppErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperr.NotFound("call", nil), http.StatusNotFound, apperr.CodeNotFound},
		{"wrapped transition", fmt.Errorf("call.End: %w", apperr.InvalidTransition("requested", "completed")), http.StatusConflict, apperr.CodeInvalidTransition},
		{"calls disabled", apperr.CallsDisabled("video"), http.StatusForbidden, apperr.CodeCallsDisabled},
		{"credentials", apperr.CredentialIssuanceFailed(errors.New("down")), http.StatusBadGateway, apperr.CodeCredentialIssuanceFailed},
		{"timeout", fmt.Errorf("repo: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, apperr.CodeUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAppError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			got := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, got.Code)
			assert.NotContains(t, got.Error, "boom")
		})
	}
}

func TestQueryTime(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?before=1700000000000", nil)
	got, err := queryTime(r, "before")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), *got)

	r = httptest.NewRequest(http.MethodGet, "/?before=2024-05-01T10:00:00Z", nil)
	got, err = queryTime(r, "before")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	r = httptest.NewRequest(http.MethodGet, "/?before=yesterday", nil)
	_, err = queryTime(r, "before")
	assert.True(t, apperr.HasCode(err, apperr.CodeBadRequest))
}
