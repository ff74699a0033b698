package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	fanoutChannel  = "rtc:fanout"
	presencePrefix = "rtc:presence:"
	presenceTTL    = 24 * time.Hour
	publishTimeout = 2 * time.Second
)

const (
	targetUser = "user"
	targetRoom = "room"
)

// envelope is one fanout frame on the Redis channel.
type envelope struct {
	Instance string          `json:"instance"`
	Kind     string          `json:"kind"`
	Target   string          `json:"target"`
	Except   string          `json:"except,omitempty"`
	Event    event.Type      `json:"event"`
	Payload  json.RawMessage `json:"payload"`
}

// Backplane is a Registry that spreads user and room delivery across instances
// through Redis pub/sub. Connections and rooms stay in the local Hub; every
// instance delivers each published envelope to its own connections.
type Backplane struct {
	hub      *Hub
	rdb      *redis.Client
	instance string

	// pending holds per-user presence deltas not yet applied to Redis. One
	// goroutine flushes them, so a disconnect never overtakes its connect.
	mu      sync.Mutex
	pending map[string]int64
	wake    chan struct{}
}

func NewBackplane(hub *Hub, rdb *redis.Client) *Backplane {
	b := &Backplane{
		hub:      hub,
		rdb:      rdb,
		instance: uuid.NewString(),
		pending:  make(map[string]int64),
		wake:     make(chan struct{}, 1),
	}
	hub.onPresence = b.trackPresence
	return b
}

func (b *Backplane) Register(c *Client)               { b.hub.Register(c) }
func (b *Backplane) Unregister(c *Client)             { b.hub.Unregister(c) }
func (b *Backplane) JoinRoom(c *Client, room string)  { b.hub.JoinRoom(c, room) }
func (b *Backplane) LeaveRoom(c *Client, room string) { b.hub.LeaveRoom(c, room) }
func (b *Backplane) SendToClient(c *Client, t event.Type, payload any) {
	b.hub.SendToClient(c, t, payload)
}

// IsOnline checks local connections first, then the shared presence counter.
func (b *Backplane) IsOnline(userID string) bool {
	if b.hub.IsOnline(userID) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n, err := b.rdb.Get(ctx, presencePrefix+userID).Int()
	if err != nil {
		if err != redis.Nil {
			logger.Errorf("backplane: presence user=%s: %v", userID, err)
		}
		return false
	}
	return n > 0
}

func (b *Backplane) SendToUser(userID string, t event.Type, payload any) {
	b.publish(envelope{Kind: targetUser, Target: userID, Event: t}, payload)
}

func (b *Backplane) SendToRoom(room string, t event.Type, payload any) {
	b.publish(envelope{Kind: targetRoom, Target: room, Event: t}, payload)
}

func (b *Backplane) SendToRoomExcept(room, exceptUserID string, t event.Type, payload any) {
	b.publish(envelope{Kind: targetRoom, Target: room, Except: exceptUserID, Event: t}, payload)
}

func (b *Backplane) publish(env envelope, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("backplane: marshal %s: %v", env.Event, err)
		return
	}
	env.Instance = b.instance
	env.Payload = raw
	data, err := json.Marshal(env)
	if err != nil {
		logger.Errorf("backplane: marshal envelope %s: %v", env.Event, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, fanoutChannel, data).Err(); err != nil {
		// Redis down: at least the connections on this instance get the event.
		logger.Errorf("backplane: publish %s to %s: %v", env.Event, env.Target, err)
		b.deliver(env)
	}
}

// Run consumes the fanout channel until ctx is done.
func (b *Backplane) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, fanoutChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("backplane subscribe: %w", err)
	}
	logger.Infof("backplane: subscribed to %s instance=%s", fanoutChannel, b.instance)
	go b.presenceLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle([]byte(msg.Payload))
		}
	}
}

func (b *Backplane) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Errorf("backplane: bad envelope: %v", err)
		return
	}
	b.deliver(env)
}

func (b *Backplane) deliver(env envelope) {
	switch env.Kind {
	case targetUser:
		b.hub.SendToUser(env.Target, env.Event, env.Payload)
	case targetRoom:
		b.hub.SendToRoomExcept(env.Target, env.Except, env.Event, env.Payload)
	default:
		logger.Errorf("backplane: unknown envelope kind %q", env.Kind)
	}
}

func (b *Backplane) trackPresence(userID string, online bool) {
	b.mu.Lock()
	if online {
		b.pending[userID]++
	} else {
		b.pending[userID]--
	}
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Backplane) presenceLoop(ctx context.Context) {
	for {
		b.flushPresence(ctx)
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		}
	}
}

// flushPresence applies the net delta of each user in one INCRBY. A quick
// connect/disconnect nets to zero and never touches Redis.
func (b *Backplane) flushPresence(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[string]int64)
	b.mu.Unlock()

	for userID, delta := range batch {
		if delta == 0 {
			continue
		}
		key := presencePrefix + userID
		opCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		pipe := b.rdb.TxPipeline()
		n := pipe.IncrBy(opCtx, key, delta)
		pipe.Expire(opCtx, key, presenceTTL)
		_, err := pipe.Exec(opCtx)
		if err == nil && n.Val() <= 0 {
			err = b.rdb.Del(opCtx, key).Err()
		}
		cancel()
		if err != nil {
			logger.Errorf("backplane: presence user=%s delta=%d: %v", userID, delta, err)
		}
	}
}
