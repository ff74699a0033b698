package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/marketchat/internal/chat"
	"github.com/marketchat/internal/model"
)

// ChatHandler: REST-дубль realtime-событий чата с теми же побочными эффектами.
type ChatHandler struct {
	svc *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type openConversationRequest struct {
	ShopID string `json:"shopId" validate:"required"`
}

// OpenConversation: POST /api/conversations, вызывает покупатель.
func (h *ChatHandler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req openConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	conv, err := h.svc.GetOrCreateConversation(ctx, userID, req.ShopID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListConversations: GET /api/conversations?role=customer|seller
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	role := model.SenderRole(r.URL.Query().Get("role"))
	if role == "" {
		role = model.RoleCustomer
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	list, err := h.svc.ListConversations(ctx, userID, role, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListMessages: GET /api/conversations/{id}/messages?before=&limit=
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	before, err := queryTime(r, "before")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	msgs, err := h.svc.ListMessages(ctx, userID, chi.URLParam(r, "id"), before, queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content         string            `json:"content" validate:"max=4000"`
	MessageType     model.MessageType `json:"messageType"`
	ImageURL        string            `json:"imageUrl" validate:"omitempty,url"`
	ClientMessageID string            `json:"clientMessageId" validate:"max=100"`
}

// SendMessage: POST /api/conversations/{id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	msg, err := h.svc.SendMessage(ctx, chat.SendMessageInput{
		UserID:          userID,
		ConversationID:  chi.URLParam(r, "id"),
		Content:         req.Content,
		Type:            req.MessageType,
		ImageURL:        req.ImageURL,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead: POST /api/conversations/{id}/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	n, err := h.svc.MarkRead(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// CloseConversation: POST /api/conversations/{id}/close
func (h *ChatHandler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	conv, err := h.svc.CloseConversation(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
