package storage

import (
	"context"
)

// DeviceStore keeps FCM registration tokens per user.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type DeviceStore interface {
	AddDevice(ctx context.Context, userID, token string) error
	RemoveDevice(ctx context.Context, userID, token string) error
	Devices(ctx context.Context, userID string) ([]string, error)
	Close() error
}
