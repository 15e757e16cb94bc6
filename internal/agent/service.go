package agent

import (
	"context"
	"log/slog"
)

// Service bundles the reply and analysis components over one generator.
type Service struct {
	gen       Generator
	responder *Responder
	analyzer  *Analyzer
}

// NewService builds the backend selected in cfg and the components using it.
func NewService(ctx context.Context, cfg Config, logger *slog.Logger) (*Service, error) {
	gen, err := NewGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewServiceWithGenerator(gen, cfg, logger), nil
}

// NewServiceWithGenerator wires components over an existing generator.
func NewServiceWithGenerator(gen Generator, cfg Config, logger *slog.Logger) *Service {
	if gen == nil {
		gen = Unavailable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultConfig().ChatModel
	}
	analysisModel := cfg.AnalysisModel
	if analysisModel == "" {
		analysisModel = chatModel
	}
	return &Service{
		gen:       gen,
		responder: NewResponder(gen, chatModel, logger.With("component", "responder")),
		analyzer:  NewAnalyzer(gen, analysisModel, logger.With("component", "analyzer")),
	}
}

// Responder returns the reply component.
func (s *Service) Responder() *Responder { return s.responder }

// Analyzer returns the analysis component.
func (s *Service) Analyzer() *Analyzer { return s.analyzer }

// Configured reports whether a real generation backend is in use.
func (s *Service) Configured() bool { return IsConfigured(s.gen) }

// Close releases the generator.
func (s *Service) Close() error {
	return s.gen.Close()
}
