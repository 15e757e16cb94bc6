package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Generator is the external text generation service.
// Implementations never return Go errors from Generate; failures are a Result variant.
type Generator interface {
	// Generate runs one turn-based generation call.
	Generate(ctx context.Context, req GenerateRequest) Result

	// Close releases resources.
	Close() error
}

// Ensure backends implement Generator.
var (
	_ Generator = (*GeminiClient)(nil)
	_ Generator = (*GrpcClient)(nil)
	_ Generator = unavailableGenerator{}
)

// Unavailable returns a generator that fails every call with ErrNotConfigured.
// It stands in when no credential is present so requests degrade instead of crashing.
func Unavailable() Generator {
	return unavailableGenerator{}
}

type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, GenerateRequest) Result {
	return FailedResult(ErrNotConfigured)
}

func (unavailableGenerator) Close() error { return nil }

// IsConfigured reports whether gen can reach a real service.
func IsConfigured(gen Generator) bool {
	if gen == nil {
		return false
	}
	_, missing := gen.(unavailableGenerator)
	return !missing
}

// NewGenerator builds the backend selected in cfg. A missing credential or
// address is not an error: the unavailable generator is returned and a warning logged.
func NewGenerator(ctx context.Context, cfg Config, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendGemini:
		if cfg.APIKey == "" {
			logger.Warn("GEMINI_API_KEY not set, generation and analysis will use fallbacks")
			return Unavailable(), nil
		}
		return NewGeminiClient(ctx, cfg.APIKey, logger)
	case BackendGrpc:
		if cfg.GrpcAddr == "" {
			logger.Warn("GENERATION_GRPC_ADDR not set, generation and analysis will use fallbacks")
			return Unavailable(), nil
		}
		return NewGrpcClient(ctx, cfg.GrpcAddr, logger)
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}
