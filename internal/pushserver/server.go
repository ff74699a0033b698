// Package pushserver: микросервис Web Push: подписки в Redis, отправка через VAPID.
package pushserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/push"
)

const notifyTimeout = 10 * time.Second

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

type Server struct {
	subs     Subscriptions
	vapid    *webpush.Options
	send     sendFunc
	validate *validator.Validate
}

// New создаёт сервер. Без ключей VAPID подписки сохраняются, но отправка не выполняется.
func New(subs Subscriptions, keys *push.VAPIDKeys) *Server {
	s := &Server{
		subs:     subs,
		send:     webpush.SendNotificationWithContext,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		s.vapid = &webpush.Options{
			Subscriber:      "marketchat-push",
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/vapid-public", s.handleVAPIDPublic)
	r.Route("/api", func(r chi.Router) {
		r.Post("/subscribe", s.handleSubscribe)
		r.Delete("/subscribe", s.handleUnsubscribe)
		r.Post("/notify", s.handleNotify)
	})
	return r
}

func (s *Server) handleVAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.vapid == nil {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(s.vapid.VAPIDPublicKey))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req push.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || s.validate.Struct(req.Subscription) != nil {
		http.Error(w, "user_id and subscription (endpoint, keys.p256dh, keys.auth) required", http.StatusBadRequest)
		return
	}
	if err := s.subs.Add(r.Context(), req.UserID, req.Subscription); err != nil {
		logger.Errorf("subscribe: %v", err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req push.UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "user_id and endpoint required", http.StatusBadRequest)
		return
	}
	if err := s.subs.Remove(r.Context(), req.UserID, req.Endpoint); err != nil {
		logger.Errorf("unsubscribe: %v", err)
		http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req push.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), notifyTimeout)
	defer cancel()
	subs, err := s.subs.List(ctx, req.UserID)
	if err != nil {
		logger.Errorf("notify: %v", err)
		http.Error(w, "failed to get subscriptions", http.StatusInternalServerError)
		return
	}
	if s.vapid == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": req.Title, "body": req.Body, "data": req.Data})
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := s.send(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		// подписка отозвана браузером
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := s.subs.Remove(ctx, req.UserID, sub.Endpoint); err != nil {
				logger.Errorf("remove stale subscription: %v", err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
