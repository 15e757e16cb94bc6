// Package api provides HTTP handlers for the missiontalk API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/ashureev/missiontalk/internal/session"
)

// Conversations is the session workflow the handlers drive.
type Conversations interface {
	StartConversation(ctx context.Context, userID, scenarioID string) (*session.StartResult, error)
	SendMessage(ctx context.Context, userID, sessionID, message string) (*session.TurnResult, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListScenarios(ctx context.Context) ([]*domain.Scenario, error)
}

var _ Conversations = (*session.Service)(nil)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a workflow error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrScenarioNotFound), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err with its mapped status. Server-side failures get a
// generic message so storage details stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		switch {
		case errors.Is(err, domain.ErrInvalidScenario):
			msg = "scenario definition is invalid"
		case errors.Is(err, domain.ErrInvalidSession):
			msg = "session data is invalid"
		default:
			msg = "internal server error"
		}
		slog.Error("Request failed", "error", err)
	}
	Error(w, status, msg)
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is required", domain.ErrInvalidRequest)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", domain.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidRequest)
	}
	return nil
}

// requirePost rejects every method but POST with a JSON 405.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	Error(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}
