package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/middleware"
	"github.com/marketchat/internal/ws"
)

type WSHandler struct {
	registry       ws.Registry
	events         ws.EventHandler
	opts           ws.ClientOptions
	allowedOrigins string
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(registry ws.Registry, events ws.EventHandler, opts ws.ClientOptions, allowedOrigins string) *WSHandler {
	return &WSHandler{
		registry:       registry,
		events:         events,
		opts:           opts,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS: GET /ws. Одно соединение на вкладку/устройство; у пользователя их может быть несколько.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.registry, h.events, conn, userID, h.opts)
	client.Start(ctx, cancel)
	h.registry.Register(client)
}
