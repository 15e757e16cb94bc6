package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/ashureev/missiontalk/internal/domain"
)

func newTestService(repo *fakeRepo, gen agent.Generator) *Service {
	svc := NewService(repo, newTestOrchestrator(gen, turnTime), nil, nil)
	svc.now = func() time.Time { return turnTime }
	return svc
}

func TestStartConversation(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.scenarios["cafe"] = greetScenario()
	svc := newTestService(repo, &scriptedGenerator{})

	res, err := svc.StartConversation(context.Background(), "user-1", "cafe")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	if res.SessionID == "" || res.Session.ID != res.SessionID {
		t.Fatalf("unexpected ids: %+v", res)
	}
	stored := repo.sessions[res.SessionID]
	if stored == nil || stored.UserID != "user-1" || !stored.StartedAt.Equal(turnTime) {
		t.Fatalf("unexpected stored session: %+v", stored)
	}
}

func TestStartConversationErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	repo := newFakeRepo()
	svc := newTestService(repo, &scriptedGenerator{})
	if _, err := svc.StartConversation(ctx, "", "cafe"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.StartConversation(ctx, "u", "missing"); !errors.Is(err, ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}

	bad := greetScenario()
	bad.SystemInstruction = ""
	repo.scenarios["bad"] = bad
	if _, err := svc.StartConversation(ctx, "u", "bad"); !errors.Is(err, domain.ErrInvalidScenario) {
		t.Fatalf("expected ErrInvalidScenario, got %v", err)
	}

	repo.scenarios["cafe"] = greetScenario()
	repo.createErr = errDiskFull
	if _, err := svc.StartConversation(ctx, "u", "cafe"); !errors.Is(err, ErrStorage) || !errors.Is(err, errDiskFull) {
		t.Fatalf("expected storage error, got %v", err)
	}

	repo.getScenarioErr = errDiskFull
	if _, err := svc.StartConversation(ctx, "u", "cafe"); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestSendMessagePersistsTurn(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.scenarios["cafe"] = greetScenario()
	gen := &scriptedGenerator{
		chat:     agent.TextResult("Hi! Coffee?"),
		analysis: agent.TextResult(`{"completes_greet": true}`),
	}
	svc := newTestService(repo, gen)
	ctx := context.Background()

	start, err := svc.StartConversation(ctx, "user-1", "cafe")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	res, err := svc.SendMessage(ctx, "user-1", start.SessionID, "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.BotMessage != "Hi! Coffee?" || len(res.NewlyCompleted) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	stored, err := svc.GetSession(ctx, start.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(stored.History) != 2 || !stored.Missions["greet"].Completed {
		t.Fatalf("turn not persisted: %+v", stored)
	}
}

func TestSendMessageAcceptsWhitespaceMessage(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.scenarios["cafe"] = greetScenario()
	svc := newTestService(repo, &scriptedGenerator{chat: agent.TextResult("Hm?"), analysis: agent.TextResult("{}")})
	ctx := context.Background()

	start, err := svc.StartConversation(ctx, "u", "cafe")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	res, err := svc.SendMessage(ctx, "u", start.SessionID, "  ")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.BotMessage != "Hm?" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendMessageErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newFakeRepo()
	repo.scenarios["cafe"] = greetScenario()
	svc := newTestService(repo, &scriptedGenerator{chat: agent.TextResult("ok"), analysis: agent.TextResult("{}")})

	if _, err := svc.SendMessage(ctx, "u", "s", ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.SendMessage(ctx, "u", "missing", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	start, err := svc.StartConversation(ctx, "u", "cafe")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	repo.sessions[start.SessionID].AnalysisCriteria = nil
	if _, err := svc.SendMessage(ctx, "u", start.SessionID, "hi"); !errors.Is(err, domain.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	repo.sessions[start.SessionID].AnalysisCriteria = greetScenario().AnalysisCriteria

	repo.updateErr = errDiskFull
	res, err := svc.SendMessage(ctx, "u", start.SessionID, "hi")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if res != nil {
		t.Fatal("turn result returned although the write failed")
	}
	if repo.updates != 0 {
		t.Fatalf("unexpected updates: %d", repo.updates)
	}
}

func TestPurgeEndedSessions(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	old := turnTime.Add(-48 * time.Hour)
	repo.sessions["a"] = &domain.Session{ID: "a", Status: domain.StatusEnded, EndedAt: &old}
	repo.sessions["b"] = &domain.Session{ID: "b", Status: domain.StatusActive}

	if n := purgeEndedSessions(context.Background(), repo, turnTime.Add(-24*time.Hour)); n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, ok := repo.sessions["b"]; !ok {
		t.Fatal("active session purged")
	}
}

func TestStartRetentionWorkerStopsWithContext(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	old := time.Now().Add(-time.Hour)
	repo.mu.Lock()
	repo.sessions["a"] = &domain.Session{ID: "a", Status: domain.StatusEnded, EndedAt: &old}
	repo.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRetentionWorker(ctx, repo, time.Minute, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		repo.mu.Lock()
		n := len(repo.sessions)
		repo.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("retention worker did not purge the ended session")
}
