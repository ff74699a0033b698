package model

import "time"

// Notification types persisted by the fanout.
const (
	NotificationNewMessage        = "new_message"
	NotificationCallIncoming      = "call_incoming"
	NotificationCallMissed        = "call_missed"
	NotificationCallInvoice       = "call_invoice"
	NotificationCallbackScheduled = "callback_scheduled"
	NotificationCallbackDue       = "callback_due"
)

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	IsRead    bool              `json:"isRead"`
	DedupKey  string            `json:"-"`
	CreatedAt time.Time         `json:"createdAt"`
}
