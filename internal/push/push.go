// Package push delivers notifications outside the app: web push through the
// push microservice and mobile push through Firebase Cloud Messaging.
package push

import (
	"context"
	"errors"
	"fmt"
)

// Message is one external push. Data must be flat strings (FCM requirement).
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type Sender interface {
	Send(ctx context.Context, userID string, msg Message) error
}

// MultiSender sends through every configured channel; one failing channel does
// not stop the others.
type MultiSender struct {
	senders []namedSender
}

type namedSender struct {
	name   string
	sender Sender
}

func NewMultiSender() *MultiSender {
	return &MultiSender{}
}

// Add registers a channel. nil senders are ignored.
func (m *MultiSender) Add(name string, s Sender) *MultiSender {
	if s != nil {
		m.senders = append(m.senders, namedSender{name: name, sender: s})
	}
	return m
}

func (m *MultiSender) Len() int { return len(m.senders) }

func (m *MultiSender) Send(ctx context.Context, userID string, msg Message) error {
	var errs []error
	for _, s := range m.senders {
		if err := s.sender.Send(ctx, userID, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
