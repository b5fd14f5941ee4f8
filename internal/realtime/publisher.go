package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"botnest/internal/chat"
)

// RedisPublisher pushes pipeline events through redis pub/sub so every
// instance behind the load balancer sees every publish, not just the one that
// handled the message.
type RedisPublisher struct {
	redis  *redis.Client
	prefix string
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{redis: rdb, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, event chat.MessageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.redis.Publish(ctx, p.prefix+":"+topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Bridge relays redis pub/sub traffic into the local hub. One bridge runs per
// instance for the lifetime of the process.
type Bridge struct {
	redis  *redis.Client
	prefix string
	hub    *Hub
	logger zerolog.Logger
}

func NewBridge(rdb *redis.Client, prefix string, hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{redis: rdb, prefix: prefix, hub: hub, logger: logger}
}

// Run blocks relaying messages until ctx is cancelled or the subscription
// breaks.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.redis.PSubscribe(ctx, b.prefix+":*")
	defer sub.Close()

	// Wait for the subscription to be live before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	b.logger.Info().Str("pattern", b.prefix+":*").Msg("realtime bridge subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, b.prefix+":")
			b.hub.Broadcast(topic, []byte(msg.Payload))
		}
	}
}

// HubPublisher broadcasts straight into the local hub, bypassing redis. Used
// by tests and single-instance deployments.
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, topic string, event chat.MessageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.hub.Broadcast(topic, payload)
	return nil
}
