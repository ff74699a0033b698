package model

import "time"

// SenderRole is the side of a conversation a participant is on.
type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleSeller   SenderRole = "seller"
)

// Other returns the opposite side of the conversation.
func (r SenderRole) Other() SenderRole {
	if r == RoleCustomer {
		return RoleSeller
	}
	return RoleCustomer
}

func (r SenderRole) Valid() bool {
	return r == RoleCustomer || r == RoleSeller
}

// Conversation is the persistent record for one (customer, shop) pair.
type Conversation struct {
	ID                string     `json:"id"`
	ShopID            string     `json:"shopId"`
	CustomerID        string     `json:"customerId"`
	SellerID          string     `json:"sellerId"`
	LastMessage       string     `json:"lastMessage"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
	LastMessageSender string     `json:"lastMessageSender,omitempty"`
	CustomerUnread    int        `json:"customerUnread"`
	SellerUnread      int        `json:"sellerUnread"`
	IsActive          bool       `json:"isActive"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// RoleOf reports which side userID is on. ok is false for non-participants.
func (c *Conversation) RoleOf(userID string) (role SenderRole, ok bool) {
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

// ParticipantID returns the user on the given side.
func (c *Conversation) ParticipantID(role SenderRole) string {
	if role == RoleSeller {
		return c.SellerID
	}
	return c.CustomerID
}

// UnreadFor returns the unread counter of the given side.
func (c *Conversation) UnreadFor(role SenderRole) int {
	if role == RoleSeller {
		return c.SellerUnread
	}
	return c.CustomerUnread
}
