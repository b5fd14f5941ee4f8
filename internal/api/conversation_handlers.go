package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"botnest/internal/storage"
)

type conversationResponse struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"sessionId"`
	VisitorInfo map[string]string `json:"visitorInfo,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
}

type messageResponse struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func toMessageResponse(m storage.Message) messageResponse {
	return messageResponse{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
}

// ownedConversation resolves a conversation through its chatbot's owner.
func (s *Server) ownedConversation(r *http.Request, conversationID string) (storage.Conversation, error) {
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	if _, err := s.ownedChatbot(r, conv.ChatbotID); err != nil {
		return storage.Conversation{}, err
	}
	return conv, nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	bot, err := s.ownedChatbot(r, chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	convs, err := s.store.ListConversations(r.Context(), bot.ID)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		resp := conversationResponse{
			ID:        c.ID,
			SessionID: c.SessionID,
			StartedAt: c.StartedAt,
			EndedAt:   c.EndedAt,
		}
		if info, err := s.chat.VisitorInfo(c); err == nil {
			resp.VisitorInfo = info
		} else {
			s.logger.Warn().Err(err).Str("conversation_id", c.ID).Msg("could not decode visitor info")
		}
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r, chi.URLParam(r, "conversationID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ownedConversation(r, chi.URLParam(r, "conversationID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	if err := s.store.EndConversation(r.Context(), conv.ID); err != nil {
		respondError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
