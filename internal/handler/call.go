package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/marketchat/internal/call"
	"github.com/marketchat/internal/model"
)

type CallHandler struct {
	svc *call.Service
}

func NewCallHandler(svc *call.Service) *CallHandler {
	return &CallHandler{svc: svc}
}

type requestCallRequest struct {
	ShopID   string         `json:"shopId" validate:"required"`
	CallType model.CallType `json:"callType" validate:"omitempty,oneof=audio video"`
}

// Request: POST /api/calls
func (h *CallHandler) Request(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req requestCallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	c, err := h.svc.RequestCall(ctx, userID, req.ShopID, req.CallType)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// List: GET /api/calls?role=customer|seller
func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
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
	calls, err := h.svc.ListCalls(ctx, userID, role, queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// Get: GET /api/calls/{id}; клиент опрашивает статус, пока звонок звонит.
func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	c, err := h.svc.GetCall(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CallHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	res, err := h.svc.AcceptCall(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CallHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.DeclineCall)
}

func (h *CallHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CancelCall)
}

func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.EndCall)
}

// Token: GET /api/calls/{id}/token: запасной путь, если call_accepted не дошёл по сокету.
func (h *CallHandler) Token(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	cred, err := h.svc.GetToken(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// Invoice: POST /api/calls/{id}/invoice, продавец после завершённого звонка.
func (h *CallHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req call.InvoiceInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	inv, err := h.svc.CreateInvoice(ctx, userID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

type callAction func(ctx context.Context, userID, callID string) (*model.VideoCall, error)

func (h *CallHandler) transition(w http.ResponseWriter, r *http.Request, action callAction) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	c, err := action(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
