package model

import (
	"time"
	"unicode/utf8"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeSystem      MessageType = "system"
	MessageTypeCallStarted MessageType = "call_started"
	MessageTypeCallEnded   MessageType = "call_ended"
)

// ServerOnly reports whether clients are forbidden to send messages of this type.
func (t MessageType) ServerOnly() bool {
	switch t {
	case MessageTypeSystem, MessageTypeCallStarted, MessageTypeCallEnded:
		return true
	}
	return false
}

// Message is immutable after creation except for ReadAt.
type Message struct {
	ID              string      `json:"id"`
	ConversationID  string      `json:"conversationId"`
	SenderID        string      `json:"senderId"`
	SenderRole      SenderRole  `json:"senderType"`
	Content         string      `json:"content"`
	Type            MessageType `json:"messageType"`
	ImageURL        string      `json:"imageUrl,omitempty"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
	ReadAt          *time.Time  `json:"readAt,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// PreviewLimit is the rune length of conversation previews and push bodies.
const PreviewLimit = 100

// Preview is the text shown in conversation lists and notifications.
func (m *Message) Preview() string {
	if m.Type == MessageTypeImage && m.Content == "" {
		return "Photo"
	}
	return Truncate(m.Content, PreviewLimit)
}

// Truncate cuts s to limit runes, appending "…" when something was cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}
