package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/ashureev/missiontalk/internal/mission"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/ashureev/missiontalk/internal/session")

// Responder produces the bot reply for a turn.
type Responder interface {
	Respond(ctx context.Context, userMessage string, history []domain.Turn, systemInstruction string) string
}

// Analyzer classifies a user message against scenario criteria.
type Analyzer interface {
	Analyze(ctx context.Context, userMessage string, criteria domain.AnalysisCriteria) agent.AnalysisResult
}

// TurnResult is everything one turn produces.
type TurnResult struct {
	BotMessage     string
	Status         domain.Status
	NewlyCompleted []string
	Delta          domain.SessionDelta
	// Ended is true only on the turn that moved the session to ended.
	Ended bool
}

// Orchestrator advances a session by one user message.
type Orchestrator struct {
	responder   Responder
	analyzer    Analyzer
	callTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator. callTimeout bounds each external
// call; zero leaves them bounded only by ctx.
func NewOrchestrator(responder Responder, analyzer Analyzer, callTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		responder:   responder,
		analyzer:    analyzer,
		callTimeout: callTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// AdvanceTurn computes the reply and the state change for userMessage.
//
// The session itself is not modified. Only an invalid session is an error;
// generation and analysis problems surface as apology text and a default analysis.
// Once a session has ended its missions, status and end time no longer change,
// but replies are still generated and recorded.
func (o *Orchestrator) AdvanceTurn(ctx context.Context, sess *domain.Session, userMessage string) (*TurnResult, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: session is nil", domain.ErrInvalidSession)
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "session.AdvanceTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("session.status", string(sess.Status)),
	)

	history := make([]domain.Turn, 0, len(sess.History)+2)
	history = append(history, sess.History...)
	history = append(history, domain.Turn{Role: domain.RoleUser, Text: userMessage})

	frozen := sess.IsEnded()

	var (
		reply    string
		analysis agent.AnalysisResult
		g        errgroup.Group
	)
	g.Go(func() error {
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		reply = o.responder.Respond(callCtx, userMessage, history, sess.SystemInstruction)
		return nil
	})
	if !frozen {
		g.Go(func() error {
			callCtx, cancel := o.callContext(ctx)
			defer cancel()
			analysis = o.analyzer.Analyze(callCtx, userMessage, sess.AnalysisCriteria)
			return nil
		})
	}
	// Both calls absorb their own failures, so the group never returns an error.
	_ = g.Wait()

	if reply != "" && !agent.IsApology(reply) {
		history = append(history, domain.Turn{Role: domain.RoleModel, Text: reply})
	}

	res := &TurnResult{
		BotMessage: reply,
		Status:     sess.Status,
	}

	if frozen {
		res.NewlyCompleted = []string{}
		res.Delta = domain.SessionDelta{
			History:  history,
			Missions: domain.CloneMissions(sess.Missions),
			Status:   domain.StatusEnded,
		}
		span.SetAttributes(attribute.Bool("session.frozen", true))
		return res, nil
	}

	now := o.now()
	missions, completed := mission.Reduce(sess.Missions, analysis, now)
	res.NewlyCompleted = completed

	var endedAt *time.Time
	if analysis.TerminationRequested() {
		res.Status = domain.StatusEnded
		res.Ended = true
		endedAt = &now
	}

	res.Delta = domain.SessionDelta{
		History:  history,
		Missions: missions,
		Status:   res.Status,
		EndedAt:  endedAt,
	}

	span.SetAttributes(
		attribute.StringSlice("session.completed_missions", completed),
		attribute.Bool("session.ended", res.Ended),
	)
	if len(completed) > 0 || res.Ended {
		o.logger.Info("session progressed",
			"session_id", sess.ID,
			"completed_missions", completed,
			"status", res.Status,
		)
	}
	return res, nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.callTimeout)
}
