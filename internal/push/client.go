package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client вызывает микросервис web-push. Пустой base URL: все методы no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Enabled() bool { return c.baseURL != "" }

type SubscribeRequest struct {
	UserID       string           `json:"user_id"`
	Subscription PushSubscription `json:"subscription"`
}

// PushSubscription: подписка из PushManager браузера.
type PushSubscription struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

type UnsubscribeRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
}

// NotifyRequest: тело POST /api/notify.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Subscribe сохраняет подписку пользователя на push-сервисе.
func (c *Client) Subscribe(ctx context.Context, userID string, sub PushSubscription) error {
	if c.baseURL == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{UserID: userID, Subscription: sub})
}

// Unsubscribe удаляет подписку по endpoint.
func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if c.baseURL == "" {
		return nil
	}
	return c.do(ctx, http.MethodDelete, "/api/subscribe", UnsubscribeRequest{UserID: userID, Endpoint: endpoint})
}

// Send реализует Sender через POST /api/notify.
func (c *Client) Send(ctx context.Context, userID string, msg Message) error {
	if c.baseURL == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/notify", NotifyRequest{
		UserID: userID,
		Title:  msg.Title,
		Body:   msg.Body,
		Data:   msg.Data,
	})
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push %s %s: %d", method, path, resp.StatusCode)
	}
	return nil
}
