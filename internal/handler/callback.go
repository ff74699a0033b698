package handler

import (
	"net/http"
	"time"

	"github.com/marketchat/internal/callback"
	"github.com/marketchat/internal/model"
)

type CallbackHandler struct {
	svc *callback.Service
}

func NewCallbackHandler(svc *callback.Service) *CallbackHandler {
	return &CallbackHandler{svc: svc}
}

type scheduleRequest struct {
	ShopID      string               `json:"shopId" validate:"required"`
	ScheduledAt time.Time            `json:"scheduledAt"`
	Reason      model.CallbackReason `json:"reason" validate:"omitempty,oneof=shop_unavailable declined no_answer"`
	Note        string               `json:"note" validate:"max=2000"`
}

// Schedule: POST /api/callbacks, покупатель просит перезвонить.
func (h *CallbackHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	cb, err := h.svc.Schedule(ctx, callback.ScheduleInput{
		CustomerID:  userID,
		ShopID:      req.ShopID,
		ScheduledAt: req.ScheduledAt,
		Reason:      req.Reason,
		Note:        req.Note,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cb)
}

// List: GET /api/callbacks?scope=seller|customer (по умолчанию customer).
func (h *CallbackHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	var (
		list []model.ScheduledCallback
		err  error
	)
	switch r.URL.Query().Get("scope") {
	case "seller":
		list, err = h.svc.ListForSeller(ctx, userID)
	case "", "customer":
		list, err = h.svc.ListForCustomer(ctx, userID)
	default:
		writeError(w, http.StatusBadRequest, "scope must be seller or customer")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
