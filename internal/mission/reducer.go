// Package mission holds the pure mission progress rules. No I/O happens here.
package mission

import (
	"sort"
	"time"

	"github.com/ashureev/missiontalk/internal/domain"
)

// Analysis reports whether the current turn completes a mission.
type Analysis interface {
	Completes(missionID string) bool
}

// Reduce applies one turn's analysis to a mission map.
//
// The input map is never modified. Missions already completed are left as they
// are. A mission the analysis does not mention stays incomplete. Newly completed
// ids are returned in mission id order and share the timestamp now.
func Reduce(missions map[string]domain.Mission, analysis Analysis, now time.Time) (map[string]domain.Mission, []string) {
	updated := domain.CloneMissions(missions)
	completed := []string{}
	if analysis == nil {
		return updated, completed
	}

	ids := make([]string, 0, len(updated))
	for id := range updated {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m := updated[id]
		if m.Completed || !analysis.Completes(id) {
			continue
		}
		ts := now
		m.Completed = true
		m.CompletedAt = &ts
		updated[id] = m
		completed = append(completed, id)
	}
	return updated, completed
}

// Progress summarizes how many missions are done.
func Progress(missions map[string]domain.Mission) (done, total int) {
	for _, m := range missions {
		if m.Completed {
			done++
		}
	}
	return done, len(missions)
}
