package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/ashureev/missiontalk/internal/domain"
)

var turnTime = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func greetScenario() *domain.Scenario {
	return &domain.Scenario{
		ID:                "cafe",
		SystemInstruction: "S",
		InitialMissions: map[string]domain.MissionTemplate{
			"greet": {Description: "Say hi", StampID: "s1"},
		},
		AnalysisCriteria: domain.AnalysisCriteria{
			"greet_keywords":       {"hello"},
			"termination_keywords": {"bye"},
		},
	}
}

func bootstrapGreet(t *testing.T) *domain.Session {
	t.Helper()
	sess, err := Bootstrap(greetScenario(), "user-1", turnTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	sess.ID = "sess-1"
	return sess
}

func TestBootstrap(t *testing.T) {
	t.Parallel()

	sess := bootstrapGreet(t)
	greet, ok := sess.Missions["greet"]
	if !ok || greet.Completed || greet.CompletedAt != nil || greet.StampID != "s1" || greet.Description != "Say hi" {
		t.Fatalf("unexpected mission: %#v", greet)
	}
	if sess.Status != domain.StatusActive || sess.EndedAt != nil {
		t.Fatalf("unexpected status: %s %v", sess.Status, sess.EndedAt)
	}
	if sess.History == nil || len(sess.History) != 0 {
		t.Fatalf("expected empty history, got %#v", sess.History)
	}
	if sess.SystemInstruction != "S" || len(sess.AnalysisCriteria) != 2 {
		t.Fatalf("scenario data not copied: %+v", sess)
	}
	if sess.ScenarioName != "cafe" || sess.ScenarioDescription != domain.DefaultDescription || sess.BotInitialMessage != domain.DefaultBotInitialMessage {
		t.Fatalf("defaults not applied: %+v", sess)
	}
}

func TestBootstrapRejectsInvalidScenario(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*domain.Scenario){
		"blank instruction": func(sc *domain.Scenario) { sc.SystemInstruction = " " },
		"nil missions":      func(sc *domain.Scenario) { sc.InitialMissions = nil },
		"nil criteria":      func(sc *domain.Scenario) { sc.AnalysisCriteria = nil },
		"reserved mission": func(sc *domain.Scenario) {
			sc.InitialMissions["termination"] = domain.MissionTemplate{Description: "x"}
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sc := greetScenario()
			mutate(sc)
			if _, err := Bootstrap(sc, "u", turnTime); !errors.Is(err, domain.ErrInvalidScenario) {
				t.Fatalf("expected ErrInvalidScenario, got %v", err)
			}
		})
	}
	if _, err := Bootstrap(nil, "u", turnTime); !errors.Is(err, domain.ErrInvalidScenario) {
		t.Fatalf("expected ErrInvalidScenario for nil scenario, got %v", err)
	}
}

func TestAdvanceTurnCompletesMission(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		chat:     agent.TextResult("Hello! What can I get you?"),
		analysis: agent.TextResult(`{"completes_greet": true, "termination_requested": false}`),
	}
	sess := bootstrapGreet(t)

	res, err := newTestOrchestrator(gen, turnTime).AdvanceTurn(context.Background(), sess, "hello there")
	if err != nil {
		t.Fatalf("AdvanceTurn failed: %v", err)
	}

	greet := res.Delta.Missions["greet"]
	if !greet.Completed || greet.CompletedAt == nil || !greet.CompletedAt.Equal(turnTime) {
		t.Fatalf("greet not completed: %#v", greet)
	}
	if !reflect.DeepEqual(res.NewlyCompleted, []string{"greet"}) {
		t.Fatalf("NewlyCompleted = %v", res.NewlyCompleted)
	}
	if res.Status != domain.StatusActive || res.Delta.EndedAt != nil || res.Ended {
		t.Fatalf("status changed: %s", res.Status)
	}
	want := []domain.Turn{
		{Role: domain.RoleUser, Text: "hello there"},
		{Role: domain.RoleModel, Text: "Hello! What can I get you?"},
	}
	if !reflect.DeepEqual(res.Delta.History, want) {
		t.Fatalf("history = %#v", res.Delta.History)
	}
	if sess.Missions["greet"].Completed || len(sess.History) != 0 {
		t.Fatal("input session was modified")
	}

	calls := gen.chatCalls()
	if len(calls) != 1 {
		t.Fatalf("expected one chat call, got %d", len(calls))
	}
	if msgs := calls[0].Messages; len(msgs) != 1 || msgs[0].Text != "hello there" || calls[0].SystemInstruction != "S" {
		t.Fatalf("unexpected chat request: %+v", calls[0])
	}
}

func TestAdvanceTurnTermination(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		chat:     agent.TextResult("Goodbye!"),
		analysis: agent.TextResult(`{"completes_greet": false, "termination_requested": true}`),
	}
	res, err := newTestOrchestrator(gen, turnTime).AdvanceTurn(context.Background(), bootstrapGreet(t), "bye")
	if err != nil {
		t.Fatalf("AdvanceTurn failed: %v", err)
	}
	if res.Status != domain.StatusEnded || !res.Ended {
		t.Fatalf("expected ended, got %s", res.Status)
	}
	if res.Delta.EndedAt == nil || !res.Delta.EndedAt.Equal(turnTime) {
		t.Fatalf("EndedAt = %v", res.Delta.EndedAt)
	}
	if res.NewlyCompleted == nil || len(res.NewlyCompleted) != 0 {
		t.Fatalf("NewlyCompleted = %#v", res.NewlyCompleted)
	}
}

func TestAdvanceTurnGenerationFailure(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		chat:     agent.FailedResult(errors.New("upstream 503")),
		analysis: agent.TextResult(`{"completes_greet": true}`),
	}
	res, err := newTestOrchestrator(gen, turnTime).AdvanceTurn(context.Background(), bootstrapGreet(t), "hello")
	if err != nil {
		t.Fatalf("AdvanceTurn failed: %v", err)
	}
	if res.BotMessage != agent.ApologyFailed {
		t.Fatalf("BotMessage = %q", res.BotMessage)
	}
	h := res.Delta.History
	if len(h) != 1 || h[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user turn, got %#v", h)
	}
	if !reflect.DeepEqual(res.NewlyCompleted, []string{"greet"}) {
		t.Fatalf("analysis did not run: %v", res.NewlyCompleted)
	}
}

func TestAdvanceTurnBlockedAndEmptyReplies(t *testing.T) {
	t.Parallel()

	for name, chat := range map[string]agent.Result{
		"blocked": agent.BlockedResult("SAFETY"),
		"empty":   agent.EmptyResult(),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			gen := &scriptedGenerator{chat: chat, analysis: agent.TextResult(`{}`)}
			res, err := newTestOrchestrator(gen, turnTime).AdvanceTurn(context.Background(), bootstrapGreet(t), "hello")
			if err != nil {
				t.Fatalf("AdvanceTurn failed: %v", err)
			}
			if len(res.Delta.History) != 1 {
				t.Fatalf("model turn recorded: %#v", res.Delta.History)
			}
		})
	}
}

func TestAdvanceTurnUnparsableAnalysis(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		chat:     agent.TextResult("Hi!"),
		analysis: agent.TextResult("The user greeted me, so greet is complete."),
	}
	sess := bootstrapGreet(t)
	res, err := newTestOrchestrator(gen, turnTime).AdvanceTurn(context.Background(), sess, "hello")
	if err != nil {
		t.Fatalf("AdvanceTurn failed: %v", err)
	}
	if !reflect.DeepEqual(res.Delta.Missions, sess.Missions) {
		t.Fatalf("missions changed: %#v", res.Delta.Missions)
	}
	if len(res.NewlyCompleted) != 0 || res.Status != domain.StatusActive {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAdvanceTurnOnEndedSessionIsFrozen(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		chat:     agent.TextResult("We are closed."),
		analysis: agent.TextResult(`{"completes_greet": true, "termination_requested": true}`),
	}
	o := newTestOrchestrator(gen, turnTime)

	sess := bootstrapGreet(t)
	first, err := o.AdvanceTurn(context.Background(), sess, "bye")
	if err != nil {
		t.Fatalf("first AdvanceTurn failed: %v", err)
	}
	sess.Apply(first.Delta)
	endedAt := *sess.EndedAt

	o.now = func() time.Time { return turnTime.Add(time.Hour) }
	second, err := o.AdvanceTurn(context.Background(), sess, "hello again")
	if err != nil {
		t.Fatalf("second AdvanceTurn failed: %v", err)
	}
	if second.Status != domain.StatusEnded || second.Ended {
		t.Fatalf("status changed on frozen session: %s ended=%v", second.Status, second.Ended)
	}
	if second.Delta.EndedAt != nil {
		t.Fatal("end time re-stamped")
	}
	if len(second.NewlyCompleted) != 0 {
		t.Fatalf("missions changed on frozen session: %v", second.NewlyCompleted)
	}
	if !reflect.DeepEqual(second.Delta.Missions, sess.Missions) {
		t.Fatal("mission map changed on frozen session")
	}
	if second.BotMessage != "We are closed." {
		t.Fatalf("generation skipped: %q", second.BotMessage)
	}

	sess.Apply(second.Delta)
	if !sess.EndedAt.Equal(endedAt) || sess.Status != domain.StatusEnded {
		t.Fatalf("end state changed: %s %v", sess.Status, sess.EndedAt)
	}
}

func TestAdvanceTurnHistoryIsAppendOnly(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{chat: agent.TextResult("Sure."), analysis: agent.TextResult(`{}`)}
	o := newTestOrchestrator(gen, turnTime)
	sess := bootstrapGreet(t)

	for i, msg := range []string{"one", "two", "three"} {
		prior := append([]domain.Turn(nil), sess.History...)
		res, err := o.AdvanceTurn(context.Background(), sess, msg)
		if err != nil {
			t.Fatalf("AdvanceTurn %d failed: %v", i, err)
		}
		h := res.Delta.History
		if len(h) != len(prior)+2 {
			t.Fatalf("turn %d: history grew by %d", i, len(h)-len(prior))
		}
		for j := range prior {
			if h[j] != prior[j] {
				t.Fatalf("turn %d: history entry %d rewritten: %+v", i, j, h[j])
			}
		}
		if h[len(prior)].Role != domain.RoleUser || h[len(prior)].Text != msg {
			t.Fatalf("turn %d: user turn not appended: %+v", i, h[len(prior)])
		}
		sess.Apply(res.Delta)
	}

	// The full prior conversation is sent to the generator.
	calls := gen.chatCalls()
	if got := len(calls[2].Messages); got != 5 {
		t.Fatalf("third call sent %d messages, want 5", got)
	}
}

func TestAdvanceTurnRejectsInvalidSession(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(&scriptedGenerator{}, turnTime)
	tests := map[string]func(*domain.Session){
		"blank instruction": func(s *domain.Session) { s.SystemInstruction = "" },
		"nil criteria":      func(s *domain.Session) { s.AnalysisCriteria = nil },
		"bad status":        func(s *domain.Session) { s.Status = "paused" },
	}
	for name, mutate := range tests {
		sess := bootstrapGreet(t)
		mutate(sess)
		if _, err := o.AdvanceTurn(context.Background(), sess, "hi"); !errors.Is(err, domain.ErrInvalidSession) {
			t.Errorf("%s: expected ErrInvalidSession, got %v", name, err)
		}
	}
	if _, err := o.AdvanceTurn(context.Background(), nil, "hi"); !errors.Is(err, domain.ErrInvalidSession) {
		t.Errorf("nil session: expected ErrInvalidSession, got %v", err)
	}
}
