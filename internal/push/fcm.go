package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/marketchat/internal/logger"
	"google.golang.org/api/option"
)

// FCM caps multicast at 500 tokens per request.
const fcmBatchSize = 500

// DeviceStore keeps the FCM registration tokens of each user.
type DeviceStore interface {
	AddDevice(ctx context.Context, userID, token string) error
	RemoveDevice(ctx context.Context, userID, token string) error
	Devices(ctx context.Context, userID string) ([]string, error)
}

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender pushes to every registered device of a user and prunes tokens FCM
// reports as unregistered.
type FCMSender struct {
	client  multicastClient
	devices DeviceStore
}

// NewFCMSender initialises the Firebase app from a service account file.
func NewFCMSender(ctx context.Context, credentialsFile, projectID string, devices DeviceStore) (*FCMSender, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &FCMSender{client: client, devices: devices}, nil
}

func (s *FCMSender) Send(ctx context.Context, userID string, msg Message) error {
	tokens, err := s.devices.Devices(ctx, userID)
	if err != nil {
		return fmt.Errorf("fcm devices: %w", err)
	}
	var failed int
	for start := 0; start < len(tokens); start += fcmBatchSize {
		end := min(start+fcmBatchSize, len(tokens))
		batch := tokens[start:end]
		resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
			Android:      &messaging.AndroidConfig{Priority: "high"},
		})
		if err != nil {
			return fmt.Errorf("fcm send: %w", err)
		}
		for i, r := range resp.Responses {
			if r.Success {
				continue
			}
			if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
				if err := s.devices.RemoveDevice(ctx, userID, batch[i]); err != nil {
					logger.Errorf("fcm: prune token user=%s: %v", userID, err)
				}
				continue
			}
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("fcm: %d of %d deliveries failed", failed, len(tokens))
	}
	return nil
}
