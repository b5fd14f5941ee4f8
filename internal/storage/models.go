package storage

import "time"

const (
	RoleVisitor   = "visitor"
	RoleAssistant = "assistant"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Disabled     bool
	CreatedAt    time.Time
}

// BotSettings is the flat behavior blob stored on a chatbot. Temperature is
// passed through to the upstream provider unmodified; ResponseDelayMs only
// delays emission and has no other semantics.
type BotSettings struct {
	MaxTokens          int     `json:"max_tokens"`
	Temperature        float64 `json:"temperature"`
	ResponseDelayMs    int     `json:"response_delay_ms"`
	FallbackMessage    string  `json:"fallback_message"`
	CollectVisitorInfo bool    `json:"collect_visitor_info"`
	Streaming          bool    `json:"streaming"`
}

func DefaultBotSettings() BotSettings {
	return BotSettings{
		MaxTokens:       512,
		Temperature:     0.7,
		FallbackMessage: "Sorry, I can't help with that right now.",
	}
}

type Chatbot struct {
	ID            string
	UserID        string
	Name          string
	Description   string
	Personality   string
	KnowledgeBase []string
	Appearance    map[string]string
	Settings      BotSettings
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Conversation struct {
	ID          string
	ChatbotID   string
	SessionID   string
	VisitorInfo *string
	StartedAt   time.Time
	EndedAt     *time.Time
}

func (c Conversation) Open() bool {
	return c.EndedAt == nil
}

type Message struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

type UsageStats struct {
	UserID          string
	MessagesPeriod  int64
	MessagesTotal   int64
	ChatbotsCreated int64
	StorageBytes    int64
	UpdatedAt       time.Time
}

type BotAnalytics struct {
	Conversations int64
	Messages      int64
	VisitorTurns  int64
}
