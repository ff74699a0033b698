package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	devicesPrefix = "push:fcm:"
	// DeviceTTL: токен, не обновлённый 60 дней, удаляется.
	DeviceTTL = 60 * 24 * time.Hour
	// MaxDevicesPerUser: потолок токенов на пользователя.
	MaxDevicesPerUser = 20
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Wrap оборачивает уже подключённый клиент (общий с backplane).
func Wrap(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

// Raw отдаёт исходный клиент для pub/sub.
func (c *Client) Raw() *redis.Client { return c.cli }

func (c *Client) Close() error {
	return c.cli.Close()
}

// AddDevice добавляет токен в push:fcm:{user} и продлевает TTL.
func (c *Client) AddDevice(ctx context.Context, userID, token string) error {
	key := devicesPrefix + userID
	n, err := c.cli.SCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis scard: %w", err)
	}
	if n >= MaxDevicesPerUser {
		isMember, err := c.cli.SIsMember(ctx, key, token).Result()
		if err != nil {
			return fmt.Errorf("redis sismember: %w", err)
		}
		if !isMember {
			// освобождаем место: выкидываем любой старый токен
			c.cli.SPop(ctx, key)
		}
	}
	pipe := c.cli.TxPipeline()
	pipe.SAdd(ctx, key, token)
	pipe.Expire(ctx, key, DeviceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add device: %w", err)
	}
	return nil
}

func (c *Client) RemoveDevice(ctx context.Context, userID, token string) error {
	return c.cli.SRem(ctx, devicesPrefix+userID, token).Err()
}

// Devices возвращает FCM-токены пользователя; пустой список, если их нет.
func (c *Client) Devices(ctx context.Context, userID string) ([]string, error) {
	tokens, err := c.cli.SMembers(ctx, devicesPrefix+userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return tokens, err
}
