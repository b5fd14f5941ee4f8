package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"botnest/internal/chat"
)

type widgetMessageRequest struct {
	SessionID   string            `json:"sessionId" validate:"required,max=128"`
	Content     string            `json:"content" validate:"required,max=4000"`
	VisitorInfo map[string]string `json:"userInfo" validate:"omitempty,max=16"`
}

type widgetMessageResponse struct {
	ConversationID string          `json:"conversationId"`
	Message        messageResponse `json:"message"`
	UsedFallback   bool            `json:"usedFallback"`
}

// handleWidgetConfig serves the embed bootstrap: presentation only, never the
// personality or knowledge base.
func (s *Server) handleWidgetConfig(w http.ResponseWriter, r *http.Request) {
	bot, err := s.bots.GetActiveChatbot(r.Context(), chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":                 bot.ID,
		"name":               bot.Name,
		"appearance":         bot.Appearance,
		"collectVisitorInfo": bot.Settings.CollectVisitorInfo,
		"streaming":          bot.Settings.Streaming,
	})
}

func (s *Server) handleWidgetMessage(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")

	var req widgetMessageRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}

	if s.limiter != nil {
		allowed, _, resetAt, err := s.limiter.Allow(r.Context(), chatbotID, req.SessionID, time.Now())
		if err != nil {
			respondError(w, s.logger, err)
			return
		}
		if !allowed {
			s.metrics.RateLimited.Inc()
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respondError(w, s.logger, chat.ErrRateLimited)
			return
		}
	}

	reply, err := s.chat.HandleVisitorMessage(r.Context(), chatbotID, req.SessionID, req.Content, req.VisitorInfo)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, widgetMessageResponse{
		ConversationID: reply.ConversationID,
		Message:        toMessageResponse(reply.Message),
		UsedFallback:   reply.UsedFallback,
	})
}
