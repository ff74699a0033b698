package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/marketchat/internal/notify"
)

type NotificationHandler struct {
	svc *notify.Service
}

func NewNotificationHandler(svc *notify.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// List: GET /api/notifications?unread=true&limit=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	list, err := h.svc.List(ctx, userID, queryBool(r, "unread"), queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	unread, err := h.svc.UnreadCount(ctx, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list, "unreadCount": unread})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := h.svc.MarkRead(ctx, userID, chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	n, err := h.svc.MarkAllRead(ctx, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}
