package chat

import (
	"strings"

	"botnest/internal/providers"
	"botnest/internal/storage"
)

// PromptContext is the fully assembled input for one generation call:
// system instruction (personality plus knowledge grounding), the recent
// turn history oldest-first, and the incoming visitor message.
type PromptContext struct {
	System   string
	History  []providers.Turn
	Incoming string
}

const defaultPersonality = "You are a helpful assistant for this business. Answer briefly and politely."

// BuildPrompt is deterministic: identical chatbot config and history always
// produce the identical context.
func BuildPrompt(bot storage.Chatbot, history []storage.Message, incoming string) PromptContext {
	var sb strings.Builder

	personality := strings.TrimSpace(bot.Personality)
	if personality == "" {
		personality = defaultPersonality
	}
	sb.WriteString(personality)

	if len(bot.KnowledgeBase) > 0 {
		sb.WriteString("\n\nAnswer using the following information when it is relevant:\n")
		for _, entry := range bot.KnowledgeBase {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			sb.WriteString("- ")
			sb.WriteString(entry)
			sb.WriteString("\n")
		}
	}

	turns := make([]providers.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, providers.Turn{Role: m.Role, Content: m.Content})
	}

	return PromptContext{
		System:   strings.TrimSpace(sb.String()),
		History:  turns,
		Incoming: incoming,
	}
}
