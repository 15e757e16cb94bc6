// Package domain contains core domain types for the missiontalk application.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a session. It moves from active to ended at most once.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Role tags the speaker of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single history entry.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Mission tracks one completion criterion inside a session.
// Completed flips to true once and never back.
type Mission struct {
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
	StampID     string     `json:"stampId"`
}

// Session is one user's live instance of a scenario.
type Session struct {
	ID                  string             `json:"id"`
	UserID              string             `json:"userId"`
	ScenarioID          string             `json:"scenarioId"`
	ScenarioName        string             `json:"scenarioName"`
	ScenarioDescription string             `json:"scenarioDescription"`
	BotInitialMessage   string             `json:"botInitialMessage"`
	History             []Turn             `json:"history"`
	Missions            map[string]Mission `json:"missions"`
	Status              Status             `json:"status"`
	StartedAt           time.Time          `json:"startTime"`
	EndedAt             *time.Time         `json:"endTime"`
	SystemInstruction   string             `json:"systemInstruction"`
	AnalysisCriteria    AnalysisCriteria   `json:"analysisCriteria"`
}

// IsEnded reports whether the session has been terminated.
func (s *Session) IsEnded() bool {
	return s.Status == StatusEnded
}

// Validate checks that the session carries what a turn needs.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.SystemInstruction) == "" {
		return fmt.Errorf("%w: system instruction is missing", ErrInvalidSession)
	}
	if s.AnalysisCriteria == nil {
		return fmt.Errorf("%w: analysis criteria are missing", ErrInvalidSession)
	}
	switch s.Status {
	case StatusActive, StatusEnded:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, s.Status)
	}
	return nil
}

// Apply merges a delta into the session, mirroring the store's partial update.
func (s *Session) Apply(d SessionDelta) {
	s.History = d.History
	s.Missions = d.Missions
	s.Status = d.Status
	if d.EndedAt != nil {
		s.EndedAt = d.EndedAt
	}
}

// SessionDelta is the set of fields a turn writes back.
// EndedAt is non-nil only on the turn that ends the session.
type SessionDelta struct {
	History  []Turn             `json:"history"`
	Missions map[string]Mission `json:"missions"`
	Status   Status             `json:"status"`
	EndedAt  *time.Time         `json:"endTime,omitempty"`
}

// CloneMissions returns a copy of a mission map; CompletedAt pointers are copied too.
func CloneMissions(in map[string]Mission) map[string]Mission {
	out := make(map[string]Mission, len(in))
	for id, m := range in {
		if m.CompletedAt != nil {
			ts := *m.CompletedAt
			m.CompletedAt = &ts
		}
		out[id] = m
	}
	return out
}
