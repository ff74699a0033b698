// Package event holds the realtime wire contract: event names, typed payloads
// and room naming. Services publish through Publisher without knowing about sockets.
package event

import (
	"strings"
	"time"

	"github.com/marketchat/internal/model"
)

type Type string

// Client -> server.
const (
	JoinConversation  Type = "join_conversation"
	LeaveConversation Type = "leave_conversation"
	SendMessage       Type = "send_message"
	Typing            Type = "typing"
	MarkRead          Type = "mark_read"
	RequestCall       Type = "request_call"
	AcceptCall        Type = "accept_call"
	DeclineCall       Type = "decline_call"
	CancelCall        Type = "cancel_call"
	EndCall           Type = "end_call"
)

// Server -> client.
const (
	Joined              Type = "joined_conversation"
	NewMessage          Type = "new_message"
	ConversationUpdated Type = "conversation_updated"
	UserTyping          Type = "user_typing"
	MessagesMarkedRead  Type = "messages_marked_read"
	CallIncoming        Type = "call_incoming"
	CallRequested       Type = "call_requested"
	CallAccepted        Type = "call_accepted"
	CallDeclined        Type = "call_declined"
	CallCancelled       Type = "call_cancelled"
	CallEnded           Type = "call_ended"
	NewNotification     Type = "new_notification"
	Error               Type = "error"
)

// Publisher delivers events to logical users and rooms. Implementations never block
// the caller on a slow connection and silently drop events for offline users.
type Publisher interface {
	SendToUser(userID string, t Type, payload any)
	SendToRoom(room string, t Type, payload any)
	SendToRoomExcept(room, exceptUserID string, t Type, payload any)
}

const (
	conversationRoomPrefix = "conversation:"
	callRoomPrefix         = "call:"
)

func ConversationRoom(conversationID string) string { return conversationRoomPrefix + conversationID }

func CallRoom(callID string) string { return callRoomPrefix + callID }

// IsConversationRoom reports whether room names a conversation and returns its ID.
func IsConversationRoom(room string) (string, bool) {
	id, ok := strings.CutPrefix(room, conversationRoomPrefix)
	return id, ok && id != ""
}

type JoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

type NewMessagePayload struct {
	Message *model.Message `json:"message"`
}

type ConversationUpdatedPayload struct {
	ConversationID  string     `json:"conversationId"`
	LastMessage     string     `json:"lastMessage"`
	LastMessageAt   *time.Time `json:"lastMessageAt,omitempty"`
	UnreadIncrement int        `json:"unreadIncrement"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkedReadPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

type CallIncomingPayload struct {
	CallID       string         `json:"callId"`
	CustomerID   string         `json:"customerId"`
	CustomerName string         `json:"customerName"`
	ShopID       string         `json:"shopId"`
	ShopName     string         `json:"shopName"`
	CallType     model.CallType `json:"callType"`
	ChannelName  string         `json:"channelName"`
}

type CallAcceptedPayload struct {
	CallID      string `json:"callId"`
	ChannelName string `json:"channelName"`
	Token       string `json:"token"`
	UID         uint32 `json:"uid"`
	AppID       string `json:"appId"`
}

// CallStatusPayload is sent for call_declined and call_cancelled.
type CallStatusPayload struct {
	CallID string           `json:"callId"`
	Status model.CallStatus `json:"status"`
}

type CallEndedPayload struct {
	CallID   string `json:"callId"`
	Duration int    `json:"duration"`
	EndedBy  string `json:"endedBy"`
	// IsIncoming is true for the party that received the call (the seller).
	IsIncoming bool `json:"isIncoming"`
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType Type   `json:"requestType,omitempty"`
}
