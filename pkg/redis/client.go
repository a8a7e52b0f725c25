package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

// Client is the delivery cache: a short-lived record of platform message ids
// already persisted, consulted before the database on webhook redelivery.
type Client struct {
	client valkey.Client
}

const (
	seenMessageKeyPrefix = "seen_message:"
	seenMessageTTL       = 24 * time.Hour
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

func seenKey(platform domain.Platform, platformMessageID string) string {
	return seenMessageKeyPrefix + string(platform) + ":" + platformMessageID
}

// MarkMessageSeen records that platformMessageID has been stored.
func (c *Client) MarkMessageSeen(ctx context.Context, platform domain.Platform, platformMessageID string) error {
	key := seenKey(platform, platformMessageID)

	err := c.client.Do(ctx, c.client.B().Set().Key(key).Value("1").Ex(seenMessageTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache seen message: %w", err)
	}

	logger.Debugf("Cached seen message %s in Redis", key)

	return nil
}

func (c *Client) IsMessageSeen(ctx context.Context, platform domain.Platform, platformMessageID string) (bool, error) {
	key := seenKey(platform, platformMessageID)

	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check seen message: %w", err)
	}

	return n > 0, nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
