package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"botnest/internal/auth"
	"botnest/internal/chat"
	"botnest/internal/storage"
)

// ErrInvalidCredentials covers both unknown emails and wrong passwords so the
// login endpoint never reveals which one failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		message = "internal server error"
	}
	respondJSON(w, status, errorResponse{Error: message})
}

func statusFor(err error) (int, string) {
	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Error()
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return http.StatusBadRequest, "invalid field: " + verrs[0].Field()
	}

	switch {
	case errors.Is(err, storage.ErrEmailTaken):
		return http.StatusConflict, storage.ErrEmailTaken.Error()
	case errors.Is(err, chat.ErrClosed):
		return http.StatusConflict, chat.ErrClosed.Error()
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chat.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, chat.ErrRateLimited):
		return http.StatusTooManyRequests, chat.ErrRateLimited.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// decodeJSON decodes and validates one request body.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &chat.ValidationError{Reason: "malformed JSON body"}
	}
	if err := s.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}
