package ws

import (
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/model"
)

// IncomingMessage is what the client sends to the server.
// Only the fields relevant to Type are set.
type IncomingMessage struct {
	Type           event.Type `json:"type"`
	ConversationID string     `json:"conversationId,omitempty"`

	// send_message
	Content         string            `json:"content,omitempty"`
	MessageType     model.MessageType `json:"messageType,omitempty"`
	ImageURL        string            `json:"imageUrl,omitempty"`
	ClientMessageID string            `json:"clientMessageId,omitempty"`

	// typing
	IsTyping bool `json:"isTyping,omitempty"`

	// calls
	CallID   string         `json:"callId,omitempty"`
	ShopID   string         `json:"shopId,omitempty"`
	CallType model.CallType `json:"callType,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses the typed structs from package event.
type OutgoingMessage struct {
	Type    event.Type `json:"type"`
	Payload any        `json:"payload"`
}
