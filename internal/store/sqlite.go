package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/ashureev/missiontalk/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while a turn is being written.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS scenarios (
		scenario_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		bot_initial_message TEXT NOT NULL DEFAULT '',
		system_instruction TEXT NOT NULL,
		missions_json TEXT NOT NULL,
		criteria_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		scenario_name TEXT NOT NULL,
		scenario_description TEXT NOT NULL,
		bot_initial_message TEXT NOT NULL,
		history_json TEXT NOT NULL,
		missions_json TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		system_instruction TEXT NOT NULL,
		criteria_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at) WHERE status = 'ended';
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const scenarioColumns = `scenario_id, name, description, bot_initial_message,
	system_instruction, missions_json, criteria_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner) (*domain.Scenario, error) {
	var sc domain.Scenario
	var missionsJSON, criteriaJSON string
	if err := row.Scan(
		&sc.ID, &sc.DisplayName, &sc.Description, &sc.InitialBotMessage,
		&sc.SystemInstruction, &missionsJSON, &criteriaJSON,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(missionsJSON), &sc.InitialMissions); err != nil {
		return nil, fmt.Errorf("%w: decode missions of %q: %v", domain.ErrInvalidScenario, sc.ID, err)
	}
	if err := json.Unmarshal([]byte(criteriaJSON), &sc.AnalysisCriteria); err != nil {
		return nil, fmt.Errorf("%w: decode criteria of %q: %v", domain.ErrInvalidScenario, sc.ID, err)
	}
	return &sc, nil
}

// GetScenario retrieves a scenario by id.
func (s *SQLiteStore) GetScenario(ctx context.Context, scenarioID string) (*domain.Scenario, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE scenario_id = ?`, scenarioID)
	sc, err := scanScenario(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scenario row: %w", err)
	}
	return sc, nil
}

// UpsertScenario creates or replaces a scenario definition.
func (s *SQLiteStore) UpsertScenario(ctx context.Context, sc *domain.Scenario) error {
	missionsJSON, err := json.Marshal(sc.InitialMissions)
	if err != nil {
		return fmt.Errorf("encode missions: %w", err)
	}
	criteriaJSON, err := json.Marshal(sc.AnalysisCriteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}

	query := `
	INSERT INTO scenarios (` + scenarioColumns + `, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(scenario_id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		bot_initial_message = excluded.bot_initial_message,
		system_instruction = excluded.system_instruction,
		missions_json = excluded.missions_json,
		criteria_json = excluded.criteria_json,
		updated_at = excluded.updated_at`

	now := time.Now().UnixMilli()
	return shared.RetryOnConflict(ctx, s.retry, "upsert scenario", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sc.ID, sc.DisplayName, sc.Description, sc.InitialBotMessage,
			sc.SystemInstruction, string(missionsJSON), string(criteriaJSON),
			now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert scenario: %w", err)
		}
		return nil
	})
}

// ListScenarios returns all scenarios ordered by id.
func (s *SQLiteStore) ListScenarios(ctx context.Context) ([]*domain.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios ORDER BY scenario_id`)
	if err != nil {
		return nil, fmt.Errorf("query scenarios: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close scenario rows", "error", closeErr)
		}
	}()

	var scenarios []*domain.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scenario row: %w", err)
		}
		scenarios = append(scenarios, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenarios: %w", err)
	}
	return scenarios, nil
}

// CreateSession stores a new session and returns its id.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) (string, error) {
	id := sess.ID
	if id == "" {
		id = uuid.NewString()
	}

	historyJSON, missionsJSON, err := encodeTurnState(sess.History, sess.Missions)
	if err != nil {
		return "", err
	}
	criteriaJSON, err := json.Marshal(sess.AnalysisCriteria)
	if err != nil {
		return "", fmt.Errorf("encode criteria: %w", err)
	}

	query := `
	INSERT INTO sessions (
		session_id, user_id, scenario_id, scenario_name, scenario_description,
		bot_initial_message, history_json, missions_json, status, started_at,
		ended_at, system_instruction, criteria_json, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, s.retry, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			id, sess.UserID, sess.ScenarioID, sess.ScenarioName, sess.ScenarioDescription,
			sess.BotInitialMessage, historyJSON, missionsJSON, string(sess.Status), sess.StartedAt.UnixMilli(),
			nullableMillis(sess.EndedAt), sess.SystemInstruction, string(criteriaJSON), time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, scenario_id, scenario_name, scenario_description,
		       bot_initial_message, history_json, missions_json, status, started_at,
		       ended_at, system_instruction, criteria_json
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var historyJSON, missionsJSON, criteriaJSON, status string
	var startedAt int64
	var endedAt sql.NullInt64

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.ScenarioID, &sess.ScenarioName, &sess.ScenarioDescription,
		&sess.BotInitialMessage, &historyJSON, &missionsJSON, &status, &startedAt,
		&endedAt, &sess.SystemInstruction, &criteriaJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Status = domain.Status(status)
	sess.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		ts := time.UnixMilli(endedAt.Int64).UTC()
		sess.EndedAt = &ts
	}

	if err := json.Unmarshal([]byte(historyJSON), &sess.History); err != nil {
		return nil, fmt.Errorf("%w: decode history: %v", domain.ErrInvalidSession, err)
	}
	if err := json.Unmarshal([]byte(missionsJSON), &sess.Missions); err != nil {
		return nil, fmt.Errorf("%w: decode missions: %v", domain.ErrInvalidSession, err)
	}
	if err := json.Unmarshal([]byte(criteriaJSON), &sess.AnalysisCriteria); err != nil {
		return nil, fmt.Errorf("%w: decode analysis criteria: %v", domain.ErrInvalidSession, err)
	}

	return &sess, nil
}

// UpdateSession merges a turn delta into a stored session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, delta domain.SessionDelta) error {
	historyJSON, missionsJSON, err := encodeTurnState(delta.History, delta.Missions)
	if err != nil {
		return err
	}

	query := `
	UPDATE sessions SET
		history_json = ?,
		missions_json = ?,
		status = ?,
		ended_at = COALESCE(?, ended_at),
		updated_at = ?
	WHERE session_id = ?`

	return shared.RetryOnConflict(ctx, s.retry, "update session", func() error {
		result, err := s.db.ExecContext(ctx, query,
			historyJSON, missionsJSON, string(delta.Status),
			nullableMillis(delta.EndedAt), time.Now().UnixMilli(), sessionID,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("update session %s: %w", sessionID, ErrNotFound)
		}
		return nil
	})
}

// DeleteEndedSessionsBefore removes ended sessions whose end time precedes cutoff.
func (s *SQLiteStore) DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete ended sessions", func() error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE status = ? AND ended_at IS NOT NULL AND ended_at < ?`,
			string(domain.StatusEnded), cutoff.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("delete ended sessions: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

func encodeTurnState(history []domain.Turn, missions map[string]domain.Mission) (string, string, error) {
	if history == nil {
		history = []domain.Turn{}
	}
	if missions == nil {
		missions = map[string]domain.Mission{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("encode history: %w", err)
	}
	missionsJSON, err := json.Marshal(missions)
	if err != nil {
		return "", "", fmt.Errorf("encode missions: %w", err)
	}
	return string(historyJSON), string(missionsJSON), nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
