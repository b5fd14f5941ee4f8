package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"botnest/internal/storage"
)

type countingLoader struct {
	bot   storage.Chatbot
	err   error
	calls int
}

func (l *countingLoader) GetActiveChatbot(ctx context.Context, id string) (storage.Chatbot, error) {
	l.calls++
	if l.err != nil {
		return storage.Chatbot{}, l.err
	}
	return l.bot, nil
}

func TestReadThrough(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	loader := &countingLoader{bot: storage.Chatbot{
		ID:            "bot-1",
		Name:          "Support",
		KnowledgeBase: []string{"We open at 9am", "We close at 5pm"},
		Settings:      storage.DefaultBotSettings(),
		Active:        true,
	}}
	c := NewBotCache(rdb, loader, time.Minute)

	b, err := c.GetActiveChatbot(context.Background(), "bot-1")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if b.Name != "Support" || len(b.KnowledgeBase) != 2 {
		t.Fatalf("unexpected bot: %+v", b)
	}
	if loader.calls != 1 {
		t.Fatalf("expected 1 store call, got %d", loader.calls)
	}

	b, err = c.GetActiveChatbot(context.Background(), "bot-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if b.KnowledgeBase[0] != "We open at 9am" {
		t.Fatalf("cache lost knowledge base ordering: %+v", b.KnowledgeBase)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cached hit, store called %d times", loader.calls)
	}
}

func TestExpiryFallsBackToStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	loader := &countingLoader{bot: storage.Chatbot{ID: "bot-1", Active: true}}
	c := NewBotCache(rdb, loader, time.Second)

	if _, err := c.GetActiveChatbot(context.Background(), "bot-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := c.GetActiveChatbot(context.Background(), "bot-1"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, store called %d times", loader.calls)
	}
}

func TestNotFoundIsNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	loader := &countingLoader{err: storage.ErrNotFound}
	c := NewBotCache(rdb, loader, time.Minute)

	if _, err := c.GetActiveChatbot(context.Background(), "missing"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.GetActiveChatbot(context.Background(), "missing"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound on repeat, got %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected store hit per lookup, got %d", loader.calls)
	}
}
