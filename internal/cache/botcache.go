// Package cache holds the read-through chatbot-config cache. Entries expire
// by TTL only; writes do not invalidate, so freshness is best-effort within
// the configured window.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"botnest/internal/storage"
)

type BotLoader interface {
	GetActiveChatbot(ctx context.Context, id string) (storage.Chatbot, error)
}

type BotCache struct {
	redis  *redis.Client
	loader BotLoader
	ttl    time.Duration
}

func NewBotCache(rdb *redis.Client, loader BotLoader, ttl time.Duration) *BotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BotCache{redis: rdb, loader: loader, ttl: ttl}
}

// GetActiveChatbot serves the widget-surface bot lookup. A cache failure is
// never fatal: the store remains the source of truth.
func (c *BotCache) GetActiveChatbot(ctx context.Context, id string) (storage.Chatbot, error) {
	key := botKey(id)

	if raw, err := c.redis.Get(ctx, key).Result(); err == nil {
		var b storage.Chatbot
		if err := json.Unmarshal([]byte(raw), &b); err == nil {
			return b, nil
		}
		_ = c.redis.Del(ctx, key).Err()
	}

	b, err := c.loader.GetActiveChatbot(ctx, id)
	if err != nil {
		return storage.Chatbot{}, err
	}

	if payload, err := json.Marshal(b); err == nil {
		_ = c.redis.Set(ctx, key, payload, c.ttl).Err()
	}
	return b, nil
}

func botKey(id string) string {
	return fmt.Sprintf("botnest:bot:%s", id)
}
