package services

import (
	"context"
	"fmt"

	"geocaching-backend/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushNotifier sends APNs notifications to cache creators
type PushNotifier struct {
	client *apns2.Client
	topic  string
	users  repository.UserRepository
}

var _ Notifier = (*PushNotifier)(nil)

// PushConfig locates the APNs signing key
type PushConfig struct {
	KeyPath    string
	KeyID      string
	TeamID     string
	Topic      string
	Production bool
}

// NewPushNotifier creates a token authenticated APNs notifier
func NewPushNotifier(cfg PushConfig, users repository.UserRepository) (*PushNotifier, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return NewPushNotifierFromClient(client, cfg.Topic, users), nil
}

// NewPushNotifierFromClient wraps an existing APNs client
func NewPushNotifierFromClient(client *apns2.Client, topic string, users repository.UserRepository) *PushNotifier {
	return &PushNotifier{client: client, topic: topic, users: users}
}

// NotifyCacheFound pushes to the creator's device. Creators without a
// registered device are skipped.
func (p *PushNotifier) NotifyCacheFound(ctx context.Context, event CacheFoundEvent) error {
	creator, err := p.users.GetByID(ctx, event.CreatorID)
	if err != nil {
		return fmt.Errorf("failed to load cache creator: %w", err)
	}
	if creator.PushToken == nil || *creator.PushToken == "" {
		return nil
	}

	notification := &apns2.Notification{
		DeviceToken: *creator.PushToken,
		Topic:       p.topic,
		Payload: payload.NewPayload().
			AlertTitle("Cache found").
			AlertBody("Your cache was found").
			Sound("default").
			Custom("cache_id", event.CacheID),
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}

	log.Debug().
		Str("cache_id", event.CacheID).
		Str("creator_id", event.CreatorID).
		Str("apns_id", res.ApnsID).
		Msg("Push notification sent")
	return nil
}
