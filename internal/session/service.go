package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/ashureev/missiontalk/internal/store"
)

var (
	// ErrScenarioNotFound indicates the requested scenario does not exist.
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorage wraps failures of the storage collaborator.
	ErrStorage = errors.New("storage failure")
)

// StartResult is returned when a conversation begins.
type StartResult struct {
	SessionID string
	Session   *domain.Session
}

// Service applies the persistence policy around bootstrap and turns.
type Service struct {
	repo   store.Repository
	orch   *Orchestrator
	convo  agent.ConversationLogger
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a session service.
func NewService(repo store.Repository, orch *Orchestrator, convo agent.ConversationLogger, logger *slog.Logger) *Service {
	if convo == nil {
		convo = agent.NoopConversationLogger()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		orch:   orch,
		convo:  convo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// StartConversation creates and stores a new session for userID in scenarioID.
func (s *Service) StartConversation(ctx context.Context, userID, scenarioID string) (*StartResult, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(scenarioID) == "" {
		return nil, fmt.Errorf("%w: userId and scenario are required", domain.ErrInvalidRequest)
	}

	sc, err := s.repo.GetScenario(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidScenario) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read scenario %s: %w", ErrStorage, scenarioID, err)
	}
	if sc == nil {
		return nil, fmt.Errorf("%w: %s", ErrScenarioNotFound, scenarioID)
	}

	sess, err := Bootstrap(sc, userID, s.now())
	if err != nil {
		return nil, err
	}

	id, err := s.repo.CreateSession(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %w", ErrStorage, err)
	}
	sess.ID = id

	s.logger.Info("session started",
		"session_id", id,
		"user_id", userID,
		"scenario_id", scenarioID,
		"missions", len(sess.Missions),
	)
	s.convo.Log(agent.ConversationLogEvent{
		UserID:     userID,
		SessionID:  id,
		Channel:    "session",
		Direction:  "outbound",
		EventType:  "bot_initial_message",
		ContentRaw: sess.BotInitialMessage,
		Meta:       map[string]any{"scenario_id": scenarioID},
	})

	return &StartResult{SessionID: id, Session: sess}, nil
}

// SendMessage advances sessionID by one user message and stores the result.
// The turn result is only returned once it has been stored.
func (s *Service) SendMessage(ctx context.Context, userID, sessionID, message string) (*TurnResult, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" || message == "" {
		return nil, fmt.Errorf("%w: userId, sessionId and message are required", domain.ErrInvalidRequest)
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		s.logger.Warn("message for session owned by another user",
			"session_id", sessionID,
			"user_id", userID,
			"owner_id", sess.UserID,
		)
	}

	s.convo.Log(agent.ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "session",
		Direction:  "inbound",
		EventType:  "user_message",
		ContentRaw: message,
	})

	res, err := s.orch.AdvanceTurn(ctx, sess, message)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSession(ctx, sessionID, res.Delta); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: update session %s: %w", ErrStorage, sessionID, err)
	}

	s.convo.Log(agent.ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "session",
		Direction:  "outbound",
		EventType:  "bot_message",
		ContentRaw: res.BotMessage,
		Meta: map[string]any{
			"status":             string(res.Status),
			"completed_missions": res.NewlyCompleted,
			"apology":            agent.IsApology(res.BotMessage),
		},
	})

	return res, nil
}

// GetSession loads a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: sessionId is required", domain.ErrInvalidRequest)
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSession) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read session %s: %w", ErrStorage, sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// ListScenarios returns the scenario catalog.
func (s *Service) ListScenarios(ctx context.Context) ([]*domain.Scenario, error) {
	scenarios, err := s.repo.ListScenarios(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list scenarios: %w", ErrStorage, err)
	}
	return scenarios, nil
}

// Ping reports whether storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
