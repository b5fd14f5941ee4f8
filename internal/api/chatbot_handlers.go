package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"botnest/internal/chat"
	"botnest/internal/storage"
)

type chatbotRequest struct {
	Name          string               `json:"name" validate:"required,max=200"`
	Description   string               `json:"description" validate:"max=2000"`
	Personality   string               `json:"personality" validate:"max=8000"`
	KnowledgeBase []string             `json:"knowledgeBase" validate:"max=200,dive,max=8000"`
	Appearance    map[string]string    `json:"appearance"`
	Settings      *storage.BotSettings `json:"settings"`
}

type chatbotResponse struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Personality   string              `json:"personality"`
	KnowledgeBase []string            `json:"knowledgeBase"`
	Appearance    map[string]string   `json:"appearance"`
	Settings      storage.BotSettings `json:"settings"`
	Active        bool                `json:"active"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

func toChatbotResponse(b storage.Chatbot) chatbotResponse {
	return chatbotResponse{
		ID:            b.ID,
		Name:          b.Name,
		Description:   b.Description,
		Personality:   b.Personality,
		KnowledgeBase: b.KnowledgeBase,
		Appearance:    b.Appearance,
		Settings:      b.Settings,
		Active:        b.Active,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

// ownedChatbot loads a chatbot and enforces that the authenticated user owns
// it.
func (s *Server) ownedChatbot(r *http.Request, chatbotID string) (storage.Chatbot, error) {
	bot, err := s.store.GetChatbot(r.Context(), chatbotID)
	if err != nil {
		return storage.Chatbot{}, err
	}
	if bot.UserID != UserID(r.Context()) {
		return storage.Chatbot{}, chat.ErrUnauthorized
	}
	return bot, nil
}

func (s *Server) handleCreateChatbot(w http.ResponseWriter, r *http.Request) {
	var req chatbotRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}

	settings := storage.DefaultBotSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	bot, err := s.store.CreateChatbot(r.Context(), storage.Chatbot{
		UserID:        UserID(r.Context()),
		Name:          req.Name,
		Description:   req.Description,
		Personality:   req.Personality,
		KnowledgeBase: req.KnowledgeBase,
		Appearance:    req.Appearance,
		Settings:      settings,
	})
	if err != nil {
		respondError(w, s.logger, err)
		return
	}

	s.logger.Info().Str("chatbot_id", bot.ID).Str("user_id", bot.UserID).Msg("chatbot created")
	respondJSON(w, http.StatusCreated, toChatbotResponse(bot))
}

func (s *Server) handleListChatbots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.store.ListChatbots(r.Context(), UserID(r.Context()))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	out := make([]chatbotResponse, 0, len(bots))
	for _, b := range bots {
		out = append(out, toChatbotResponse(b))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChatbot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.ownedChatbot(r, chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toChatbotResponse(bot))
}

func (s *Server) handleUpdateChatbot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.ownedChatbot(r, chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}

	var req chatbotRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}

	bot.Name = req.Name
	bot.Description = req.Description
	bot.Personality = req.Personality
	bot.KnowledgeBase = req.KnowledgeBase
	bot.Appearance = req.Appearance
	if req.Settings != nil {
		bot.Settings = *req.Settings
	}
	updated, err := s.store.UpdateChatbot(r.Context(), bot)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toChatbotResponse(updated))
}

// handleDeleteChatbot deactivates rather than deletes; conversations and
// messages stay queryable from the dashboard.
func (s *Server) handleDeleteChatbot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.ownedChatbot(r, chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	if err := s.store.SetChatbotActive(r.Context(), bot.ID, bot.UserID, false); err != nil {
		respondError(w, s.logger, err)
		return
	}
	s.logger.Info().Str("chatbot_id", bot.ID).Msg("chatbot deactivated")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	bot, err := s.ownedChatbot(r, chi.URLParam(r, "chatbotID"))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	a, err := s.store.ChatbotAnalytics(r.Context(), bot.ID)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{
		"conversations": a.Conversations,
		"messages":      a.Messages,
		"visitorTurns":  a.VisitorTurns,
	})
}
