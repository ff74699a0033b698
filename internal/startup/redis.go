package startup

import (
	"context"
	"time"

	redisstorage "github.com/marketchat/internal/storage/redis"
)

// ConnectRedisWithRetry нужен backplane'у, реестру устройств и push-сервису.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	var client *redisstorage.Client
	retryUntil("redis", maxWait, logPrefix, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(ctx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client
}
