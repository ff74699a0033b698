package pushserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketchat/internal/push"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// Subscriptions хранит браузерные подписки пользователя.
type Subscriptions interface {
	Add(ctx context.Context, userID string, sub push.PushSubscription) error
	List(ctx context.Context, userID string) ([]push.PushSubscription, error)
	Remove(ctx context.Context, userID, endpoint string) error
}

// RedisSubscriptions: список push:subs:{user}, последние maxSubsPerUser, TTL 30 дней.
type RedisSubscriptions struct {
	rdb *redis.Client
}

func NewRedisSubscriptions(rdb *redis.Client) *RedisSubscriptions {
	return &RedisSubscriptions{rdb: rdb}
}

func (s *RedisSubscriptions) Add(ctx context.Context, userID string, sub push.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subscription encode: %w", err)
	}
	key := redisKeyPrefix + userID
	// повторная подписка того же endpoint не должна плодить дубли
	if err := s.Remove(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	return nil
}

func (s *RedisSubscriptions) List(ctx context.Context, userID string) ([]push.PushSubscription, error) {
	items, err := s.rdb.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	subs := make([]push.PushSubscription, 0, len(items))
	for _, item := range items {
		var sub push.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *RedisSubscriptions) Remove(ctx context.Context, userID, endpoint string) error {
	key := redisKeyPrefix + userID
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis lrange: %w", err)
	}
	for _, item := range items {
		var sub push.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			if err := s.rdb.LRem(ctx, key, 0, item).Err(); err != nil {
				return fmt.Errorf("redis lrem: %w", err)
			}
		}
	}
	return nil
}
