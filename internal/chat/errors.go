package chat

import (
	"errors"

	"botnest/internal/storage"
)

// Domain error taxonomy. ErrExternalService never crosses the HTTP boundary:
// the gateway converts it into the chatbot's fallback reply.
var (
	ErrNotFound        = storage.ErrNotFound
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrExternalService = errors.New("external service error")
	ErrClosed          = errors.New("conversation has ended")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}
