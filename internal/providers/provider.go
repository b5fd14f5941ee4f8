package providers

import "context"

type Turn struct {
	Role    string
	Content string
}

type ChatRequest struct {
	Model        string
	SystemPrompt string
	History      []Turn
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

type ChatResponse struct {
	Text string
}

// Fragment is one piece of a streamed completion. A non-nil Err terminates
// the stream; the channel is closed after the final fragment either way.
type Fragment struct {
	Text string
	Err  error
}

// Provider is the capability boundary to the external generative-language
// service. Streams are finite and cannot be restarted.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan Fragment, error)
}
