package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/marketchat/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(h *Hub, userID string, buf int) *Client {
	c := NewClient(h, nil, nil, userID, ClientOptions{SendBufferSize: buf})
	h.addClient(c)
	return c
}

func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestSendToUserReachesEveryDevice(t *testing.T) {
	h := NewHub(10, nil)
	phone := newTestClient(h, "u1", 8)
	laptop := newTestClient(h, "u1", 8)
	other := newTestClient(h, "u2", 8)

	h.SendToUser("u1", event.NewNotification, "hi")

	assert.Len(t, drain(phone), 1)
	assert.Len(t, drain(laptop), 1)
	assert.Empty(t, drain(other))
}

func TestSendToOfflineUserIsDropped(t *testing.T) {
	h := NewHub(10, nil)
	assert.NotPanics(t, func() { h.SendToUser("ghost", event.NewNotification, nil) })
	assert.False(t, h.IsOnline("ghost"))
}

func TestOnlineUntilLastConnectionLeaves(t *testing.T) {
	h := NewHub(10, nil)
	var events []bool
	h.onPresence = func(_ string, online bool) { events = append(events, online) }

	a := newTestClient(h, "u1", 8)
	b := newTestClient(h, "u1", 8)
	assert.True(t, h.IsOnline("u1"))

	h.removeClient(a)
	assert.True(t, h.IsOnline("u1"))

	h.removeClient(b)
	assert.False(t, h.IsOnline("u1"))
	assert.Equal(t, []bool{true, false}, events)
	assert.Equal(t, 0, h.Connections())
}

func TestRoomDeliveryAndExcept(t *testing.T) {
	h := NewHub(10, nil)
	customer := newTestClient(h, "customer", 8)
	seller := newTestClient(h, "seller", 8)
	outsider := newTestClient(h, "outsider", 8)

	room := event.ConversationRoom("c1")
	h.JoinRoom(customer, room)
	h.JoinRoom(seller, room)
	h.JoinRoom(seller, room)
	assert.Equal(t, 2, h.RoomSize(room))

	h.SendToRoom(room, event.NewMessage, "m")
	assert.Len(t, drain(customer), 1)
	assert.Len(t, drain(seller), 1)
	assert.Empty(t, drain(outsider))

	h.SendToRoomExcept(room, "customer", event.UserTyping, "t")
	assert.Empty(t, drain(customer))
	assert.Len(t, drain(seller), 1)

	h.LeaveRoom(seller, room)
	h.SendToRoom(room, event.NewMessage, "m2")
	assert.Empty(t, drain(seller))
	assert.Len(t, drain(customer), 1)
}

func TestDisconnectCleansRooms(t *testing.T) {
	h := NewHub(10, nil)
	c := newTestClient(h, "u1", 8)
	h.JoinRoom(c, "conversation:a")
	h.JoinRoom(c, "call:b")

	h.removeClient(c)

	assert.Equal(t, 0, h.RoomSize("conversation:a"))
	assert.Equal(t, 0, h.RoomSize("call:b"))
	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Empty(t, h.memberships)
	assert.Empty(t, h.rooms)
}

func TestJoinAfterCloseIsIgnored(t *testing.T) {
	h := NewHub(10, nil)
	c := newTestClient(h, "u1", 8)
	h.removeClient(c)

	h.JoinRoom(c, "conversation:a")
	assert.Equal(t, 0, h.RoomSize("conversation:a"))
}

func TestConnectionLimit(t *testing.T) {
	h := NewHub(1, nil)
	newTestClient(h, "u1", 8)
	rejected := newTestClient(h, "u2", 8)

	assert.True(t, rejected.closed())
	assert.False(t, h.IsOnline("u2"))
}

func TestSlowClientIsClosed(t *testing.T) {
	h := NewHub(10, nil)
	slow := newTestClient(h, "slow", 1)
	fast := newTestClient(h, "fast", 8)
	room := "conversation:x"
	h.JoinRoom(slow, room)
	h.JoinRoom(fast, room)

	h.SendToRoom(room, event.NewMessage, 1)
	h.SendToRoom(room, event.NewMessage, 2)

	assert.True(t, slow.closed())
	assert.Len(t, drain(fast), 2)
}

func TestConcurrentSendsAndJoins(t *testing.T) {
	h := NewHub(100, nil)
	clients := make([]*Client, 20)
	for i := range clients {
		clients[i] = newTestClient(h, "u", 512)
	}

	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(2)
		go func(c *Client) {
			defer wg.Done()
			h.JoinRoom(c, "conversation:r")
		}(clients[i])
		go func() {
			defer wg.Done()
			h.SendToUser("u", event.NewNotification, "n")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, h.RoomSize("conversation:r"))
}

func TestBackplaneDeliverEnvelope(t *testing.T) {
	h := NewHub(10, nil)
	b := &Backplane{hub: h, instance: "i1"}
	customer := newTestClient(h, "customer", 8)
	seller := newTestClient(h, "seller", 8)
	h.JoinRoom(customer, "conversation:c1")
	h.JoinRoom(seller, "conversation:c1")

	payload, err := json.Marshal(event.TypingPayload{ConversationID: "c1", UserID: "customer", IsTyping: true})
	require.NoError(t, err)
	data, err := json.Marshal(envelope{
		Instance: "i2",
		Kind:     targetRoom,
		Target:   "conversation:c1",
		Except:   "customer",
		Event:    event.UserTyping,
		Payload:  payload,
	})
	require.NoError(t, err)

	b.handle(data)

	assert.Empty(t, drain(customer))
	got := drain(seller)
	require.Len(t, got, 1)
	assert.Equal(t, event.UserTyping, got[0].Type)
	raw, err := json.Marshal(got[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user_typing","payload":{"conversationId":"c1","userId":"customer","isTyping":true}}`, string(raw))

	b.handle([]byte("not json"))
	b.handle([]byte(`{"kind":"user","target":"seller","event":"new_notification","payload":{"id":"n1"}}`))
	assert.Len(t, drain(seller), 1)
}

func TestBackplanePresenceNetsQuickReconnects(t *testing.T) {
	h := NewHub(10, nil)
	// nil Redis client: any command would panic, so a zero delta must stay local
	b := NewBackplane(h, nil)
	b.trackPresence("u1", true)
	b.trackPresence("u1", false)
	b.trackPresence("u2", false)
	b.trackPresence("u2", true)

	b.mu.Lock()
	assert.Equal(t, map[string]int64{"u1": 0, "u2": 0}, b.pending)
	b.mu.Unlock()

	b.flushPresence(context.Background())
	assert.Empty(t, b.pending)
}
