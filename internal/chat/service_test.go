package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"botnest/internal/providers"
	"botnest/internal/storage"
)

type stubProvider struct {
	reply   string
	err     error
	chunks  []string
	lastReq providers.ChatRequest
}

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	p.lastReq = req
	if p.err != nil {
		return providers.ChatResponse{}, p.err
	}
	return providers.ChatResponse{Text: p.reply}, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, req providers.ChatRequest) (<-chan providers.Fragment, error) {
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	out := make(chan providers.Fragment, len(p.chunks))
	for _, c := range p.chunks {
		out <- providers.Fragment{Text: c}
	}
	close(out)
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	topic string
	event MessageEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event MessageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, event: event})
	return nil
}

func (p *recordingPublisher) byType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []publishedEvent{}
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedBot(t *testing.T, store *storage.Store, settings storage.BotSettings) storage.Chatbot {
	t.Helper()
	user, err := store.CreateUser(context.Background(), "owner@example.com", "hash", "Owner")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bot, err := store.CreateChatbot(context.Background(), storage.Chatbot{
		UserID:        user.ID,
		Name:          "Support",
		Personality:   "You are helpful.",
		KnowledgeBase: []string{"We open at 9am"},
		Settings:      settings,
	})
	if err != nil {
		t.Fatalf("create chatbot: %v", err)
	}
	return bot
}

func newTestService(t *testing.T, store *storage.Store, provider providers.Provider, pub Publisher) *Service {
	t.Helper()
	gw := NewGateway(GatewayConfig{
		Provider: provider,
		Model:    "test-model",
		Timeout:  5 * time.Second,
		Logger:   zerolog.Nop(),
	})
	return NewService(ServiceConfig{
		Store:         store,
		Gateway:       gw,
		Publisher:     pub,
		HistoryWindow: 3,
		Logger:        zerolog.Nop(),
	})
}

func TestHandleVisitorMessagePersistsBothTurns(t *testing.T) {
	store := openTestStore(t)
	bot := seedBot(t, store, storage.DefaultBotSettings())
	provider := &stubProvider{reply: "We open at 9am."}
	pub := &recordingPublisher{}
	svc := newTestService(t, store, provider, pub)

	reply, err := svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", "What are your hours?", nil)
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply.Message.Content != "We open at 9am." {
		t.Fatalf("unexpected reply %q", reply.Message.Content)
	}
	if reply.UsedFallback {
		t.Fatal("successful generation should not report fallback")
	}

	msgs, err := store.ListMessages(context.Background(), reply.ConversationID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected visitor + assistant rows, got %d", len(msgs))
	}
	if msgs[0].Role != storage.RoleVisitor || msgs[1].Role != storage.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}

	usage, err := store.GetUsageStats(context.Background(), bot.UserID)
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if usage.MessagesTotal != 2 {
		t.Fatalf("expected 2 counted messages, got %d", usage.MessagesTotal)
	}

	events := pub.byType(EventMessage)
	if len(events) != 4 {
		t.Fatalf("expected 2 messages on 2 topics each, got %d events", len(events))
	}
}

func TestHandleVisitorMessageUnknownChatbot(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store, &stubProvider{reply: "x"}, nil)

	_, err := svc.HandleVisitorMessage(context.Background(), uuid.NewString(), "sess-1", "hi", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleVisitorMessageInactiveChatbot(t *testing.T) {
	store := openTestStore(t)
	bot := seedBot(t, store, storage.DefaultBotSettings())
	if err := store.SetChatbotActive(context.Background(), bot.ID, bot.UserID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	svc := newTestService(t, store, &stubProvider{reply: "x"}, nil)

	_, err := svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", "hi", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive bot, got %v", err)
	}
}

func TestFailingProviderServesFallbackAndPersistsIt(t *testing.T) {
	store := openTestStore(t)
	settings := storage.DefaultBotSettings()
	settings.FallbackMessage = "I cannot assist with that."
	bot := seedBot(t, store, settings)
	svc := newTestService(t, store, &stubProvider{err: errors.New("upstream down")}, nil)

	reply, err := svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", "What are your hours?", nil)
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if !reply.UsedFallback {
		t.Fatal("expected fallback reply")
	}
	if reply.Message.Content != "I cannot assist with that." {
		t.Fatalf("unexpected fallback text %q", reply.Message.Content)
	}

	msgs, err := store.ListMessages(context.Background(), reply.ConversationID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "I cannot assist with that." {
		t.Fatalf("fallback reply must be persisted, got %+v", msgs)
	}
}

func TestHistoryWindowIsBounded(t *testing.T) {
	store := openTestStore(t)
	bot := seedBot(t, store, storage.DefaultBotSettings())
	provider := &stubProvider{reply: "ok"}
	svc := newTestService(t, store, provider, nil)

	for i := 0; i < 6; i++ {
		if _, err := svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", fmt.Sprintf("turn %d", i), nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	if len(provider.lastReq.History) > 3 {
		t.Fatalf("history window exceeded: %d turns", len(provider.lastReq.History))
	}
	if provider.lastReq.UserPrompt != "turn 5" {
		t.Fatalf("incoming message should be the latest turn, got %q", provider.lastReq.UserPrompt)
	}
	for _, turn := range provider.lastReq.History {
		if turn.Content == "turn 5" {
			t.Fatal("incoming message must not be duplicated into history")
		}
	}
}

func TestStreamingForwardsFragments(t *testing.T) {
	store := openTestStore(t)
	settings := storage.DefaultBotSettings()
	settings.Streaming = true
	bot := seedBot(t, store, settings)
	pub := &recordingPublisher{}
	svc := newTestService(t, store, &stubProvider{chunks: []string{"We open ", "at 9am."}}, pub)

	reply, err := svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", "hours?", nil)
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if reply.Message.Content != "We open at 9am." {
		t.Fatalf("joined stream mismatch: %q", reply.Message.Content)
	}

	fragments := pub.byType(EventFragment)
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragment events, got %d", len(fragments))
	}
	for _, f := range fragments {
		if f.topic != ConversationTopic(reply.ConversationID) {
			t.Fatalf("fragments belong on the conversation topic only, got %q", f.topic)
		}
	}
}

func TestClosedConversationRejectsMessages(t *testing.T) {
	store := openTestStore(t)
	bot := seedBot(t, store, storage.DefaultBotSettings())
	svc := newTestService(t, store, &stubProvider{reply: "ok"}, nil)

	reply, err := svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", "hi", nil)
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if err := store.EndConversation(context.Background(), reply.ConversationID); err != nil {
		t.Fatalf("end conversation: %v", err)
	}

	_, err = svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", "still there?", nil)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestVisitorInfoRoundTrip(t *testing.T) {
	store := openTestStore(t)
	settings := storage.DefaultBotSettings()
	settings.CollectVisitorInfo = true
	bot := seedBot(t, store, settings)
	svc := newTestService(t, store, &stubProvider{reply: "ok"}, nil)

	info := map[string]string{"email": "visitor@example.com", "name": "Pat"}
	reply, err := svc.HandleVisitorMessage(context.Background(), bot.ID, "sess-1", "hi", info)
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}

	conv, err := store.GetConversation(context.Background(), reply.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	got, err := svc.VisitorInfo(conv)
	if err != nil {
		t.Fatalf("visitor info: %v", err)
	}
	if got["email"] != "visitor@example.com" || got["name"] != "Pat" {
		t.Fatalf("unexpected visitor info %+v", got)
	}
}
