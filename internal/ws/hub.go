package ws

import (
	"context"
	"sync"

	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/metrics"
)

// Registry tracks live connections by user and by room. Delivery is always to a
// logical user or room, never to a single connection, except SendToClient for
// direct replies (errors, join acks).
type Registry interface {
	event.Publisher
	Register(c *Client)
	Unregister(c *Client)
	IsOnline(userID string) bool
	JoinRoom(c *Client, room string)
	LeaveRoom(c *Client, room string)
	SendToClient(c *Client, t event.Type, payload any)
}

// Hub is the in-process Registry. State lives only in memory: after a restart
// everyone is offline until they reconnect.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{}
	owners      map[*Client]string
	rooms       map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}
	total       int
	maxConns    int
	metrics     *metrics.Metrics

	// onPresence fires when a user's first connection arrives or last one leaves.
	onPresence func(userID string, online bool)

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int, m *metrics.Metrics) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		owners:      make(map[*Client]string),
		rooms:       make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
		maxConns:    maxConns,
		metrics:     m,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// done first: pumps exiting during shutdown must not block on unregister.
			close(h.done)
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect under the lock, close connections outside it.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.owners))
	for c := range h.owners {
		all = append(all, c)
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.owners = make(map[*Client]string)
	h.rooms = make(map[string]map[*Client]struct{})
	h.memberships = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns || c.closed() {
		h.dropMembershipsLocked(c)
		h.mu.Unlock()
		if !c.closed() {
			logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		}
		c.Close()
		return
	}
	if _, ok := h.owners[c]; ok {
		h.mu.Unlock()
		return
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.owners[c] = c.userID
	h.total++
	first := len(set) == 1
	h.mu.Unlock()

	h.metrics.ConnOpened()
	if first && h.onPresence != nil {
		h.onPresence(c.userID, true)
	}
}

func (h *Hub) removeClient(c *Client) {
	// Close first: JoinRoom checks closed() under the lock, so no membership
	// can be added after the cleanup below.
	c.Close()

	h.mu.Lock()
	h.dropMembershipsLocked(c)
	userID, ok := h.owners[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.owners, c)
	set := h.clients[userID]
	delete(set, c)
	h.total--
	last := len(set) == 0
	if last {
		delete(h.clients, userID)
	}
	h.mu.Unlock()

	h.metrics.ConnClosed()
	if last && h.onPresence != nil {
		h.onPresence(userID, false)
	}
}

func (h *Hub) dropMembershipsLocked(c *Client) {
	for room := range h.memberships[c] {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.memberships, c)
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// JoinRoom binds one connection to a room. Idempotent.
func (h *Hub) JoinRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed() {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	joined, ok := h.memberships[c]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[c] = joined
	}
	joined[room] = struct{}{}
}

func (h *Hub) LeaveRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.memberships[c]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.memberships, c)
		}
	}
}

// RoomSize returns the number of connections bound to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) SendToUser(userID string, t event.Type, payload any) {
	h.mu.RLock()
	targets := snapshot(h.clients[userID], "")
	h.mu.RUnlock()
	h.deliver(targets, OutgoingMessage{Type: t, Payload: payload})
}

func (h *Hub) SendToRoom(room string, t event.Type, payload any) {
	h.SendToRoomExcept(room, "", t, payload)
}

// SendToRoomExcept delivers to every connection in room except those owned by exceptUserID.
func (h *Hub) SendToRoomExcept(room, exceptUserID string, t event.Type, payload any) {
	h.mu.RLock()
	targets := snapshot(h.rooms[room], exceptUserID)
	h.mu.RUnlock()
	h.deliver(targets, OutgoingMessage{Type: t, Payload: payload})
}

func (h *Hub) SendToClient(c *Client, t event.Type, payload any) {
	h.sendToClient(c, OutgoingMessage{Type: t, Payload: payload})
}

func snapshot(set map[*Client]struct{}, exceptUserID string) []*Client {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		if exceptUserID != "" && c.userID == exceptUserID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (h *Hub) deliver(targets []*Client, msg OutgoingMessage) {
	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}
