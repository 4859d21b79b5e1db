package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Wikid82/cerberus/internal/config"
	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/models"
)

type blockMessage struct {
	Origin string           `json:"origin"`
	Block  models.BlockedIP `json:"block"`
}

// BlockBroadcaster propagates automatic blocks between replicas over a Redis
// pub/sub channel so an address blocked on one instance is rejected by all of
// them before the next rule refresh.
type BlockBroadcaster struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewBlockBroadcaster returns a broadcaster for cfg, or nil when no Redis
// address is configured.
func NewBlockBroadcaster(cfg config.RedisConfig) *BlockBroadcaster {
	if cfg.Addr == "" {
		return nil
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "cerberus:blocks"
	}
	return &BlockBroadcaster{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     4,
			DialTimeout:  5 * time.Second,
			WriteTimeout: 3 * time.Second,
		}),
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Ping checks the connection.
func (b *BlockBroadcaster) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish announces a block to the other replicas.
func (b *BlockBroadcaster) Publish(ctx context.Context, block models.BlockedIP) error {
	payload, err := json.Marshal(blockMessage{Origin: b.origin, Block: block})
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe calls apply for every block published by another replica until
// ctx is cancelled.
func (b *BlockBroadcaster) Subscribe(ctx context.Context, apply func(models.BlockedIP)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m blockMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				logger.Component("broadcast").WithError(err).Warn("Ignoring malformed block message")
				continue
			}
			if m.Origin == b.origin {
				continue
			}
			apply(m.Block)
		}
	}
}

// Close releases the Redis connection.
func (b *BlockBroadcaster) Close() error {
	return b.client.Close()
}
