package scenario

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/missiontalk/internal/domain"
)

// Writer stores validated scenarios.
type Writer interface {
	UpsertScenario(ctx context.Context, scenario *domain.Scenario) error
}

// ImportFiles validates every file and upserts the valid ones.
// It returns the imported ids and one error per rejected file.
func ImportFiles(ctx context.Context, w Writer, paths []string, logger *slog.Logger) ([]string, []error) {
	if logger == nil {
		logger = slog.Default()
	}

	var imported []string
	var failures []error
	for _, path := range paths {
		sc, err := ParseFile(path)
		if err != nil {
			logger.Warn("scenario rejected", "path", path, "error", err)
			failures = append(failures, err)
			continue
		}
		if err := w.UpsertScenario(ctx, sc); err != nil {
			failures = append(failures, fmt.Errorf("store scenario %s: %w", sc.ID, err))
			continue
		}
		logger.Info("scenario imported", "scenario_id", sc.ID, "path", path, "missions", len(sc.InitialMissions))
		imported = append(imported, sc.ID)
	}
	return imported, failures
}

// ImportDir imports every YAML document in dir.
func ImportDir(ctx context.Context, w Writer, dir string, logger *slog.Logger) ([]string, []error) {
	paths, err := Files(dir)
	if err != nil {
		return nil, []error{err}
	}
	return ImportFiles(ctx, w, paths, logger)
}
