// Package session runs the conversation state machine: it builds sessions
// from scenarios and advances them one user message at a time.
package session

import (
	"fmt"
	"time"

	"github.com/ashureev/missiontalk/internal/domain"
)

// Bootstrap builds the initial session for userID from a scenario.
// The session is not persisted and has no id yet.
func Bootstrap(sc *domain.Scenario, userID string, now time.Time) (*domain.Session, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: scenario is nil", domain.ErrInvalidScenario)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	missions := make(map[string]domain.Mission, len(sc.InitialMissions))
	for id, tmpl := range sc.InitialMissions {
		stamp := tmpl.StampID
		if stamp == "" {
			stamp = domain.DefaultStampID
		}
		missions[id] = domain.Mission{
			Description: tmpl.Description,
			StampID:     stamp,
		}
	}

	return &domain.Session{
		UserID:              userID,
		ScenarioID:          sc.ID,
		ScenarioName:        sc.Name(),
		ScenarioDescription: sc.UserDescription(),
		BotInitialMessage:   sc.OpeningMessage(),
		History:             []domain.Turn{},
		Missions:            missions,
		Status:              domain.StatusActive,
		StartedAt:           now.UTC(),
		SystemInstruction:   sc.SystemInstruction,
		AnalysisCriteria:    sc.AnalysisCriteria.Clone(),
	}, nil
}
