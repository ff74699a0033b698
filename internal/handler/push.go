package handler

import (
	"net/http"

	"github.com/marketchat/internal/push"
	"github.com/marketchat/internal/storage"
)

// PushHandler обрабатывает подписку на пуши: web push через push-сервис
// и FCM-токены мобильных устройств. Нулевой клиент или store: канал выключен.
type PushHandler struct {
	client  *push.Client
	devices storage.DeviceStore
}

func NewPushHandler(client *push.Client, devices storage.DeviceStore) *PushHandler {
	return &PushHandler{client: client, devices: devices}
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription push.PushSubscription `json:"subscription"`
}

// Subscribe сохраняет подписку на push-сервисе для текущего пользователя.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.client == nil || !h.client.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "web push disabled")
		return
	}
	var req SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := h.client.Subscribe(ctx, userID, req.Subscription); err != nil {
		writeError(w, http.StatusBadGateway, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.client == nil || !h.client.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "web push disabled")
		return
	}
	var req UnsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := h.client.Unsubscribe(ctx, userID, req.Endpoint); err != nil {
		writeError(w, http.StatusBadGateway, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deviceRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// RegisterDevice: POST /api/push/devices {token}
func (h *PushHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	h.device(w, r, true)
}

// RemoveDevice: DELETE /api/push/devices {token}
func (h *PushHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	h.device(w, r, false)
}

func (h *PushHandler) device(w http.ResponseWriter, r *http.Request, add bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.devices == nil {
		writeError(w, http.StatusServiceUnavailable, "mobile push disabled")
		return
	}
	var req deviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	var err error
	if add {
		err = h.devices.AddDevice(ctx, userID, req.Token)
	} else {
		err = h.devices.RemoveDevice(ctx, userID, req.Token)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
