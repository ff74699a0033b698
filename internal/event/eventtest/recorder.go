// Package eventtest records published events for service tests.
package eventtest

import (
	"sync"

	"github.com/marketchat/internal/event"
)

type Sent struct {
	Kind    string // user, room
	Target  string
	Except  string
	Type    event.Type
	Payload any
}

// Recorder implements event.Publisher by remembering every call.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func (r *Recorder) add(s Sent) {
	r.mu.Lock()
	r.sent = append(r.sent, s)
	r.mu.Unlock()
}

func (r *Recorder) SendToUser(userID string, t event.Type, payload any) {
	r.add(Sent{Kind: "user", Target: userID, Type: t, Payload: payload})
}

func (r *Recorder) SendToRoom(room string, t event.Type, payload any) {
	r.add(Sent{Kind: "room", Target: room, Type: t, Payload: payload})
}

func (r *Recorder) SendToRoomExcept(room, exceptUserID string, t event.Type, payload any) {
	r.add(Sent{Kind: "room", Target: room, Except: exceptUserID, Type: t, Payload: payload})
}

func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// OfType returns the recorded events of type t in publish order.
func (r *Recorder) OfType(t event.Type) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// To returns the events sent directly to userID.
func (r *Recorder) To(userID string) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.Kind == "user" && s.Target == userID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
