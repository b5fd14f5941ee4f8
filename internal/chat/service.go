package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"botnest/internal/crypto"
	"botnest/internal/metrics"
	"botnest/internal/storage"
)

// Publisher is the realtime capability. Delivery is best-effort and
// at-most-once; a publish failure never fails the pipeline.
type Publisher interface {
	Publish(ctx context.Context, topic string, event MessageEvent) error
}

const (
	EventMessage  = "message"
	EventFragment = "fragment"
)

type MessageEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	ChatbotID      string    `json:"chatbotId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

func ChatbotTopic(chatbotID string) string {
	return "chatbot:" + chatbotID
}

// BotSource yields widget-visible chatbot config; in production it is the
// redis read-through cache in front of the store.
type BotSource interface {
	GetActiveChatbot(ctx context.Context, id string) (storage.Chatbot, error)
}

// Service runs the conversation pipeline: find-or-create the conversation,
// persist the visitor turn, assemble the prompt, generate, persist the
// reply, notify listeners.
type Service struct {
	store         *storage.Store
	bots          BotSource
	gateway       *Gateway
	publisher     Publisher
	keyring       *crypto.Keyring
	historyWindow int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type ServiceConfig struct {
	Store         *storage.Store
	Bots          BotSource
	Gateway       *Gateway
	Publisher     Publisher
	Keyring       *crypto.Keyring
	HistoryWindow int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func NewService(cfg ServiceConfig) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HistoryWindow < 1 {
		cfg.HistoryWindow = 10
	}
	bots := cfg.Bots
	if bots == nil {
		bots = cfg.Store
	}
	return &Service{
		store:         cfg.Store,
		bots:          bots,
		gateway:       cfg.Gateway,
		publisher:     cfg.Publisher,
		keyring:       cfg.Keyring,
		historyWindow: cfg.HistoryWindow,
		logger:        cfg.Logger,
		metrics:       m,
	}
}

type Reply struct {
	ConversationID string
	Message        storage.Message
	UsedFallback   bool
}

// HandleVisitorMessage processes one inbound widget message end to end. The
// reply is always produced: upstream failures surface as the chatbot's
// fallback text, already persisted like any other assistant message.
func (s *Service) HandleVisitorMessage(ctx context.Context, chatbotID, sessionID, content string, visitorInfo map[string]string) (Reply, error) {
	bot, err := s.bots.GetActiveChatbot(ctx, chatbotID)
	if err != nil {
		return Reply{}, err
	}

	conv, err := s.store.GetOrCreateConversation(ctx, bot.ID, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("get or create conversation: %w", err)
	}
	if !conv.Open() {
		return Reply{}, ErrClosed
	}

	if err := s.recordVisitorInfo(ctx, bot, conv, visitorInfo); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("failed to record visitor info")
	}

	visitorMsg, err := s.store.AppendMessage(ctx, conv.ID, storage.RoleVisitor, content)
	if err != nil {
		return Reply{}, fmt.Errorf("append visitor message: %w", err)
	}
	s.metrics.MessagesTotal.WithLabelValues(storage.RoleVisitor).Inc()
	if err := s.store.IncrementMessageUsage(ctx, bot.UserID, int64(len(content))); err != nil {
		s.logger.Warn().Err(err).Str("user_id", bot.UserID).Msg("failed to bump usage counters")
	}
	s.notify(ctx, bot.ID, messageEvent(bot.ID, visitorMsg))

	prompt, err := s.buildPrompt(ctx, bot, conv.ID, visitorMsg)
	if err != nil {
		return Reply{}, err
	}

	logger := s.logger.With().Str("chatbot_id", bot.ID).Str("conversation_id", conv.ID).Logger()
	gw := s.gateway.withLogger(logger)
	var onFragment func(string)
	if bot.Settings.Streaming {
		onFragment = func(fragment string) {
			s.notify(ctx, bot.ID, MessageEvent{
				Type:           EventFragment,
				ConversationID: conv.ID,
				ChatbotID:      bot.ID,
				Role:           storage.RoleAssistant,
				Content:        fragment,
				Timestamp:      time.Now().UTC(),
			})
		}
	}
	text, usedFallback := gw.Reply(ctx, bot, prompt, onFragment)

	replyMsg, err := s.store.AppendMessage(ctx, conv.ID, storage.RoleAssistant, text)
	if err != nil {
		return Reply{}, fmt.Errorf("persist reply: %w", err)
	}
	s.metrics.MessagesTotal.WithLabelValues(storage.RoleAssistant).Inc()
	if err := s.store.IncrementMessageUsage(ctx, bot.UserID, int64(len(text))); err != nil {
		s.logger.Warn().Err(err).Str("user_id", bot.UserID).Msg("failed to bump usage counters")
	}
	s.notify(ctx, bot.ID, messageEvent(bot.ID, replyMsg))

	return Reply{ConversationID: conv.ID, Message: replyMsg, UsedFallback: usedFallback}, nil
}

// buildPrompt loads the recent window excluding the message being answered.
func (s *Service) buildPrompt(ctx context.Context, bot storage.Chatbot, conversationID string, incoming storage.Message) (PromptContext, error) {
	recent, err := s.store.RecentMessages(ctx, conversationID, s.historyWindow+1)
	if err != nil {
		return PromptContext{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]storage.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == incoming.ID {
			continue
		}
		history = append(history, m)
	}
	if len(history) > s.historyWindow {
		history = history[len(history)-s.historyWindow:]
	}
	return BuildPrompt(bot, history, incoming.Content), nil
}

func (s *Service) recordVisitorInfo(ctx context.Context, bot storage.Chatbot, conv storage.Conversation, info map[string]string) error {
	if !bot.Settings.CollectVisitorInfo || len(info) == 0 || conv.VisitorInfo != nil {
		return nil
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode visitor info: %w", err)
	}
	stored := string(payload)
	if s.keyring != nil {
		if stored, err = s.keyring.Seal(payload); err != nil {
			return fmt.Errorf("seal visitor info: %w", err)
		}
	}
	return s.store.SetVisitorInfo(ctx, conv.ID, stored)
}

// VisitorInfo decrypts stored visitor metadata for owner dashboards.
func (s *Service) VisitorInfo(conv storage.Conversation) (map[string]string, error) {
	if conv.VisitorInfo == nil {
		return nil, nil
	}
	raw := []byte(*conv.VisitorInfo)
	if s.keyring != nil {
		opened, err := s.keyring.Open(*conv.VisitorInfo)
		if err != nil {
			return nil, fmt.Errorf("open visitor info: %w", err)
		}
		raw = opened
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode visitor info: %w", err)
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, chatbotID string, event MessageEvent) {
	if s.publisher == nil {
		return
	}
	topics := []string{ConversationTopic(event.ConversationID), ChatbotTopic(chatbotID)}
	if event.Type == EventFragment {
		topics = topics[:1]
	}
	for _, topic := range topics {
		if err := s.publisher.Publish(ctx, topic, event); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("realtime publish failed")
		}
	}
}

func messageEvent(chatbotID string, m storage.Message) MessageEvent {
	return MessageEvent{
		Type:           EventMessage,
		ConversationID: m.ConversationID,
		ChatbotID:      chatbotID,
		Role:           m.Role,
		Content:        m.Content,
		Timestamp:      m.CreatedAt,
	}
}
