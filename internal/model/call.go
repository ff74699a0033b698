package model

import "time"

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus: requested -> accepted -> completed, requested -> cancelled.
type CallStatus string

const (
	CallRequested CallStatus = "requested"
	CallAccepted  CallStatus = "accepted"
	CallCompleted CallStatus = "completed"
	CallCancelled CallStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallCancelled
}

type VideoCall struct {
	ID          string     `json:"id"`
	ShopID      string     `json:"shopId"`
	SellerID    string     `json:"sellerId"`
	CustomerID  string     `json:"customerId"`
	CallType    CallType   `json:"callType"`
	ChannelName string     `json:"channelName"`
	Status      CallStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	Duration    int        `json:"duration"` // seconds
	EndedBy     string     `json:"endedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// RoleOf reports which side userID is on in the call.
func (c *VideoCall) RoleOf(userID string) (SenderRole, bool) {
	switch userID {
	case "":
		return "", false
	case c.CustomerID:
		return RoleCustomer, true
	case c.SellerID:
		return RoleSeller, true
	}
	return "", false
}

// CallTransition is a conditional status change: applied only while the call is in From.
type CallTransition struct {
	CallID string
	From   CallStatus
	To     CallStatus
	At     time.Time
	By     string
}

// InvoiceTTL is how long a post-call invoice stays payable.
const InvoiceTTL = 15 * time.Minute

// CallInvoice is offered by the seller after a completed call. Price is in minor units.
type CallInvoice struct {
	ID          string    `json:"id"`
	CallID      string    `json:"callId"`
	ShopID      string    `json:"shopId"`
	SellerID    string    `json:"sellerId"`
	CustomerID  string    `json:"customerId"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Quantity    int       `json:"quantity"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ParticipantID returns the user on the given side of the call.
func (c *VideoCall) ParticipantID(role SenderRole) string {
	if role == RoleSeller {
		return c.SellerID
	}
	return c.CustomerID
}
