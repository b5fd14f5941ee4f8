package api

import (
	"net/http"
	"time"

	"botnest/internal/storage"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" validate:"required,max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type updateMeRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUserResponse(u storage.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Email, hash, req.Name)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	token, err := s.auth.IssueToken(user.ID, time.Now())
	if err != nil {
		respondError(w, s.logger, err)
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user registered")
	respondJSON(w, http.StatusCreated, authResponse{Token: token, User: toUserResponse(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user.Disabled || !s.auth.CheckPassword(req.Password, user.PasswordHash) {
		respondError(w, s.logger, ErrInvalidCredentials)
		return
	}
	token, err := s.auth.IssueToken(user.ID, time.Now())
	if err != nil {
		respondError(w, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, authResponse{Token: token, User: toUserResponse(user)})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUserByID(r.Context(), UserID(r.Context()))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		respondError(w, s.logger, err)
		return
	}

	userID := UserID(r.Context())
	if err := s.store.UpdateUserProfile(r.Context(), userID, req.Name); err != nil {
		respondError(w, s.logger, err)
		return
	}
	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

// handleDeleteMe soft-disables the account; the auth middleware rejects its
// tokens from then on. Rows are kept.
func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if err := s.store.DisableUser(r.Context(), userID); err != nil {
		respondError(w, s.logger, err)
		return
	}
	s.logger.Info().Str("user_id", userID).Msg("account disabled")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetUsageStats(r.Context(), UserID(r.Context()))
	if err != nil {
		respondError(w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{
		"messagesPeriod":  stats.MessagesPeriod,
		"messagesTotal":   stats.MessagesTotal,
		"chatbotsCreated": stats.ChatbotsCreated,
		"storageBytes":    stats.StorageBytes,
	})
}
