package domain

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// KeywordSuffix marks an analysis criteria key as a mission keyword list.
	KeywordSuffix = "_keywords"
	// TerminationCriteriaKey is the reserved criteria key holding termination cues.
	TerminationCriteriaKey = "termination_keywords"
	// ReservedMissionID is the mission id that would collide with the termination key.
	ReservedMissionID = "termination"

	// DefaultStampID is used when a scenario mission does not name a stamp.
	DefaultStampID = "stamp_initial"
	// DefaultDescription is shown when a scenario has no user-facing description.
	DefaultDescription = "No description provided."
	// DefaultBotInitialMessage greets the user when a scenario has no opening line.
	DefaultBotInitialMessage = "Hello!"
)

// MissionTemplate is a mission as authored in a scenario, before any session exists.
type MissionTemplate struct {
	Description string `json:"description"`
	StampID     string `json:"stampId"`
}

// AnalysisCriteria maps criteria keys to keyword or semantic cue lists.
// Keys ending in KeywordSuffix name missions; TerminationCriteriaKey is reserved.
type AnalysisCriteria map[string][]string

// MissionIDs returns the mission ids referenced by the criteria, sorted.
func (c AnalysisCriteria) MissionIDs() []string {
	ids := make([]string, 0, len(c))
	for key := range c {
		if key == TerminationCriteriaKey || !strings.HasSuffix(key, KeywordSuffix) {
			continue
		}
		id := strings.TrimSuffix(key, KeywordSuffix)
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Keywords returns the cues associated with a mission id.
func (c AnalysisCriteria) Keywords(missionID string) []string {
	return c[missionID+KeywordSuffix]
}

// TerminationKeywords returns the cues that signal the user wants to stop.
func (c AnalysisCriteria) TerminationKeywords() []string {
	return c[TerminationCriteriaKey]
}

// Clone returns a deep copy of the criteria.
func (c AnalysisCriteria) Clone() AnalysisCriteria {
	if c == nil {
		return nil
	}
	out := make(AnalysisCriteria, len(c))
	for k, v := range c {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Scenario is a static dialogue template. It is read-only once loaded.
type Scenario struct {
	ID                string                     `json:"id"`
	DisplayName       string                     `json:"name,omitempty"`
	Description       string                     `json:"description,omitempty"`
	InitialBotMessage string                     `json:"botInitialMessage,omitempty"`
	SystemInstruction string                     `json:"systemInstruction"`
	InitialMissions   map[string]MissionTemplate `json:"initialMissions"`
	AnalysisCriteria  AnalysisCriteria           `json:"analysisCriteria"`
}

// Name returns the display name, falling back to the scenario id.
func (s *Scenario) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}

// UserDescription returns the user-facing description or its default.
func (s *Scenario) UserDescription() string {
	if s.Description != "" {
		return s.Description
	}
	return DefaultDescription
}

// OpeningMessage returns the first bot utterance of the scenario.
func (s *Scenario) OpeningMessage() string {
	if s.InitialBotMessage != "" {
		return s.InitialBotMessage
	}
	return DefaultBotInitialMessage
}

// Validate checks the fields every session built from this scenario depends on.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.SystemInstruction) == "" {
		return fmt.Errorf("%w: system instruction is required", ErrInvalidScenario)
	}
	if s.InitialMissions == nil {
		return fmt.Errorf("%w: initial missions are required", ErrInvalidScenario)
	}
	if s.AnalysisCriteria == nil {
		return fmt.Errorf("%w: analysis criteria are required", ErrInvalidScenario)
	}
	for id := range s.InitialMissions {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: mission id cannot be empty", ErrInvalidScenario)
		}
		if id == ReservedMissionID {
			return fmt.Errorf("%w: mission id %q collides with the termination criteria", ErrInvalidScenario, id)
		}
	}
	return nil
}
