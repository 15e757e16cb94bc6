package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/ashureev/missiontalk/internal/store"
)

// scriptedGenerator answers chat calls with chat and analysis calls with analysis.
type scriptedGenerator struct {
	mu       sync.Mutex
	chat     agent.Result
	analysis agent.Result
	chatReqs []agent.GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req agent.GenerateRequest) agent.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req.JSONOutput {
		return g.analysis
	}
	g.chatReqs = append(g.chatReqs, req)
	return g.chat
}

func (g *scriptedGenerator) Close() error { return nil }

func (g *scriptedGenerator) chatCalls() []agent.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]agent.GenerateRequest(nil), g.chatReqs...)
}

func newTestOrchestrator(gen agent.Generator, now time.Time) *Orchestrator {
	o := NewOrchestrator(
		agent.NewResponder(gen, "chat", nil),
		agent.NewAnalyzer(gen, "analysis", nil),
		time.Second,
		nil,
	)
	o.now = func() time.Time { return now }
	return o
}

type fakeRepo struct {
	mu        sync.Mutex
	scenarios map[string]*domain.Scenario
	sessions  map[string]*domain.Session
	nextID    int

	getScenarioErr error
	createErr      error
	updateErr      error
	updates        int
}

var _ store.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		scenarios: map[string]*domain.Scenario{},
		sessions:  map[string]*domain.Session{},
	}
}

func (r *fakeRepo) GetScenario(_ context.Context, id string) (*domain.Scenario, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getScenarioErr != nil {
		return nil, r.getScenarioErr
	}
	return r.scenarios[id], nil
}

func (r *fakeRepo) UpsertScenario(_ context.Context, sc *domain.Scenario) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[sc.ID] = sc
	return nil
}

func (r *fakeRepo) ListScenarios(context.Context) ([]*domain.Scenario, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Scenario, 0, len(r.scenarios))
	for _, sc := range r.scenarios {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) CreateSession(_ context.Context, sess *domain.Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return "", r.createErr
	}
	r.nextID++
	id := fmt.Sprintf("sess-%d", r.nextID)
	stored := *sess
	stored.ID = id
	r.sessions[id] = &stored
	return id, nil
}

func (r *fakeRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	cp.History = append([]domain.Turn(nil), sess.History...)
	cp.Missions = domain.CloneMissions(sess.Missions)
	return &cp, nil
}

func (r *fakeRepo) UpdateSession(_ context.Context, id string, delta domain.SessionDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	sess, ok := r.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	r.updates++
	sess.Apply(delta)
	return nil
}

func (r *fakeRepo) DeleteEndedSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, sess := range r.sessions {
		if sess.IsEnded() && sess.EndedAt != nil && sess.EndedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

var errDiskFull = errors.New("disk full")
