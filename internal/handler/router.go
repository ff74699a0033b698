package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/marketchat/internal/config"
	"github.com/marketchat/internal/metrics"
	"github.com/marketchat/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers собирает все обработчики api-сервиса.
type Handlers struct {
	Chat           *ChatHandler
	Call           *CallHandler
	Callback       *CallbackHandler
	Notification   *NotificationHandler
	Push           *PushHandler
	Config         *ConfigHandler
	WS             *WSHandler
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
}

// NewRouter строит chi-роутер. auth кладёт user_id в контекст
// (AuthServiceValidate в проде, HeaderAuth в -dev и тестах).
func NewRouter(cfg *config.Config, h Handlers, auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog(h.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if h.MetricsHandler == nil {
		h.MetricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", h.MetricsHandler)
	r.Get("/api/config/push", h.Config.GetPushConfig)
	r.Get("/api/config/call", h.Config.GetCallConfig)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.RateLimit(cfg.RateLimit.PerIPPerMinute, cfg.RateLimit.PerUserPerMinute))

		r.Post("/api/conversations", h.Chat.OpenConversation)
		r.Get("/api/conversations", h.Chat.ListConversations)
		r.Get("/api/conversations/{id}/messages", h.Chat.ListMessages)
		r.Post("/api/conversations/{id}/messages", h.Chat.SendMessage)
		r.Post("/api/conversations/{id}/read", h.Chat.MarkRead)
		r.Post("/api/conversations/{id}/close", h.Chat.CloseConversation)

		r.Post("/api/calls", h.Call.Request)
		r.Get("/api/calls", h.Call.List)
		r.Get("/api/calls/{id}", h.Call.Get)
		r.Post("/api/calls/{id}/accept", h.Call.Accept)
		r.Post("/api/calls/{id}/decline", h.Call.Decline)
		r.Post("/api/calls/{id}/cancel", h.Call.Cancel)
		r.Post("/api/calls/{id}/end", h.Call.End)
		r.Get("/api/calls/{id}/token", h.Call.Token)
		r.Post("/api/calls/{id}/invoice", h.Call.Invoice)

		r.Post("/api/callbacks", h.Callback.Schedule)
		r.Get("/api/callbacks", h.Callback.List)

		r.Get("/api/notifications", h.Notification.List)
		r.Post("/api/notifications/read-all", h.Notification.MarkAllRead)
		r.Post("/api/notifications/{id}/read", h.Notification.MarkRead)

		r.Post("/api/push/subscribe", h.Push.Subscribe)
		r.Delete("/api/push/subscribe", h.Push.Unsubscribe)
		r.Post("/api/push/devices", h.Push.RegisterDevice)
		r.Delete("/api/push/devices", h.Push.RemoveDevice)
	})

	// WebSocket без rate limit: одно долгоживущее соединение
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/ws", h.WS.ServeWS)
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
