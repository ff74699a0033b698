package handler

import (
	"net/http"

	"github.com/marketchat/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	webPush := h.cfg.Push.ServiceURL != "" && h.cfg.Push.VAPIDPublicKey != ""
	resp := map[string]any{
		"enabled":    webPush,
		"fcmEnabled": h.cfg.Push.FCMCredentialsFile != "",
	}
	if webPush {
		resp["vapidPublicKey"] = h.cfg.Push.VAPIDPublicKey
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCallConfig возвращает контракт опроса GET /api/calls/{id}/token и таймаут звонка.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"appId":           h.cfg.Media.AppID,
		"pollIntervalMs":  h.cfg.Call.PollInterval.Milliseconds(),
		"pollMaxAttempts": h.cfg.Call.PollMaxAttempts,
		"ringTimeoutMs":   h.cfg.Call.RingTimeout.Milliseconds(),
		"tokenTtlSeconds": int(h.cfg.Media.TokenTTL.Seconds()),
	})
}
