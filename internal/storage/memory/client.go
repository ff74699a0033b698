package memory

import (
	"context"
	"sort"
	"sync"
)

const maxDevicesPerUser = 20

// Client keeps FCM device tokens in process memory (-dev without Redis).
type Client struct {
	mu      sync.RWMutex
	devices map[string]map[string]struct{}
}

func New() *Client {
	return &Client{devices: make(map[string]map[string]struct{})}
}

func (c *Client) Close() error { return nil }

func (c *Client) AddDevice(_ context.Context, userID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.devices[userID]
	if !ok {
		set = make(map[string]struct{})
		c.devices[userID] = set
	}
	if _, exists := set[token]; !exists && len(set) >= maxDevicesPerUser {
		for old := range set {
			delete(set, old)
			break
		}
	}
	set[token] = struct{}{}
	return nil
}

func (c *Client) RemoveDevice(_ context.Context, userID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.devices[userID]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(c.devices, userID)
		}
	}
	return nil
}

func (c *Client) Devices(_ context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.devices[userID]))
	for t := range c.devices[userID] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
