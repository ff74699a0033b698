package model

import "time"

type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackCompleted CallbackStatus = "completed"
	CallbackCancelled CallbackStatus = "cancelled"
)

type CallbackReason string

const (
	ReasonShopUnavailable CallbackReason = "shop_unavailable"
	ReasonDeclined        CallbackReason = "declined"
	ReasonNoAnswer        CallbackReason = "no_answer"
)

func (r CallbackReason) Valid() bool {
	switch r {
	case ReasonShopUnavailable, ReasonDeclined, ReasonNoAnswer:
		return true
	}
	return false
}

type ScheduledCallback struct {
	ID          string         `json:"id"`
	ShopID      string         `json:"shopId"`
	SellerID    string         `json:"sellerId"`
	CustomerID  string         `json:"customerId"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	Reason      CallbackReason `json:"reason,omitempty"`
	Note        string         `json:"note,omitempty"`
	Status      CallbackStatus `json:"status"`
	RemindedAt  *time.Time     `json:"remindedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
