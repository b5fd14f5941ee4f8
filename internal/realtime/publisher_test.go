package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"botnest/internal/chat"
)

func TestRedisPublisherReachesHubThroughBridge(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewBridge(rdb, "botnest:events", hub, zerolog.Nop())
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- bridge.Run(ctx) }()

	events, unsubscribe := hub.Subscribe(chat.ConversationTopic("c1"))
	defer unsubscribe()

	pub := NewRedisPublisher(rdb, "botnest:events")
	sent := chat.MessageEvent{
		Type:           chat.EventMessage,
		ConversationID: "c1",
		ChatbotID:      "b1",
		Role:           "assistant",
		Content:        "hello",
		Timestamp:      time.Now().UTC(),
	}

	// The bridge subscribes asynchronously; retry until the publish lands.
	var got chat.MessageEvent
	deadline := time.After(2 * time.Second)
	for {
		if err := pub.Publish(ctx, chat.ConversationTopic("c1"), sent); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case payload := <-events:
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if got.Content != "hello" || got.ConversationID != "c1" || got.Type != chat.EventMessage {
				t.Fatalf("unexpected event %+v", got)
			}
			cancel()
			<-bridgeDone
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("event never reached the hub")
		}
	}
}

func TestHubPublisherBroadcastsLocally(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	events, unsubscribe := hub.Subscribe(chat.ChatbotTopic("b1"))
	defer unsubscribe()

	pub := NewHubPublisher(hub)
	err := pub.Publish(context.Background(), chat.ChatbotTopic("b1"), chat.MessageEvent{
		Type:      chat.EventMessage,
		ChatbotID: "b1",
		Content:   "hi",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	var got chat.MessageEvent
	if err := json.Unmarshal(recvOne(t, events), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ChatbotID != "b1" || got.Content != "hi" {
		t.Fatalf("unexpected event %+v", got)
	}
}
