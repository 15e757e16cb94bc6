// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/missiontalk/internal/domain"
)

// ErrNotFound is returned by writes that target a missing record.
// Reads report a missing record as (nil, nil).
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting scenarios and sessions.
type Repository interface {
	// GetScenario retrieves a scenario by id.
	GetScenario(ctx context.Context, scenarioID string) (*domain.Scenario, error)

	// UpsertScenario creates or replaces a scenario definition.
	UpsertScenario(ctx context.Context, scenario *domain.Scenario) error

	// ListScenarios returns all scenarios ordered by id.
	ListScenarios(ctx context.Context) ([]*domain.Scenario, error)

	// CreateSession stores a new session and returns its id.
	// A session without an id is assigned a fresh one.
	CreateSession(ctx context.Context, session *domain.Session) (string, error)

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSession merges a turn delta into a stored session.
	// EndedAt is only written when the delta carries one.
	UpdateSession(ctx context.Context, sessionID string, delta domain.SessionDelta) error

	// DeleteEndedSessionsBefore removes ended sessions whose end time precedes cutoff.
	DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

var _ Repository = (*SQLiteStore)(nil)
