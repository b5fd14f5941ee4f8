package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"botnest/internal/metrics"
	"botnest/internal/providers"
	"botnest/internal/storage"
)

// Gateway owns the call to the external generative-language service. It is
// the only place where upstream failures exist: callers always get text back,
// either the model's reply or the chatbot's configured fallback.
type Gateway struct {
	provider providers.Provider
	model    string
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type GatewayConfig struct {
	Provider providers.Provider
	Model    string
	Timeout  time.Duration
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func NewGateway(cfg GatewayConfig) *Gateway {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Gateway{
		provider: cfg.Provider,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

// withLogger returns a copy that logs through a request-scoped logger, so
// failures carry conversation correlation ids.
func (g *Gateway) withLogger(logger zerolog.Logger) *Gateway {
	cp := *g
	cp.logger = logger
	return &cp
}

// Reply generates the assistant's reply for one visitor message. When the
// chatbot streams and onFragment is non-nil, each fragment is handed to it
// before the joined text is returned. usedFallback reports whether the text
// is the configured fallback rather than model output.
func (g *Gateway) Reply(ctx context.Context, bot storage.Chatbot, prompt PromptContext, onFragment func(string)) (text string, usedFallback bool) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := providers.ChatRequest{
		Model:        g.model,
		SystemPrompt: prompt.System,
		History:      prompt.History,
		UserPrompt:   prompt.Incoming,
		MaxTokens:    bot.Settings.MaxTokens,
		Temperature:  bot.Settings.Temperature,
	}

	start := time.Now()
	var reply string
	var err error
	if bot.Settings.Streaming && onFragment != nil {
		reply, err = g.streamReply(callCtx, bot, req, onFragment)
	} else {
		var resp providers.ChatResponse
		resp, err = g.provider.Chat(callCtx, req)
		reply = resp.Text
	}
	g.metrics.AIRequestDuration.Observe(time.Since(start).Seconds())

	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExternalService, err)
		class := classifyError(err)
		g.metrics.AIFailures.WithLabelValues(class).Inc()
		g.metrics.FallbackReplies.Inc()
		g.logger.Error().
			Err(err).
			Str("chatbot_id", bot.ID).
			Str("error_class", class).
			Msg("generation failed, serving fallback")
		return g.fallbackText(bot), true
	}

	g.applyDelay(ctx, bot)
	return reply, false
}

func (g *Gateway) streamReply(ctx context.Context, bot storage.Chatbot, req providers.ChatRequest, onFragment func(string)) (string, error) {
	stream, err := g.provider.ChatStream(ctx, req)
	if err != nil {
		return "", err
	}

	delayed := false
	var sb strings.Builder
	for f := range stream {
		if f.Err != nil {
			return "", f.Err
		}
		if !delayed {
			g.applyDelay(ctx, bot)
			delayed = true
		}
		sb.WriteString(f.Text)
		onFragment(f.Text)
	}
	return sb.String(), ctx.Err()
}

// applyDelay holds the reply back for the configured pacing interval. Purely
// presentational; a cancelled request skips it.
func (g *Gateway) applyDelay(ctx context.Context, bot storage.Chatbot) {
	delay := time.Duration(bot.Settings.ResponseDelayMs) * time.Millisecond
	if delay <= 0 {
		return
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (g *Gateway) fallbackText(bot storage.Chatbot) string {
	if strings.TrimSpace(bot.Settings.FallbackMessage) != "" {
		return bot.Settings.FallbackMessage
	}
	return storage.DefaultBotSettings().FallbackMessage
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "upstream"
	}
}
