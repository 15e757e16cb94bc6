package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ashureev/missiontalk/internal/domain"
)

// Fixed replies returned in place of generated text. None of them is ever
// recorded as a model turn.
const (
	ApologyNotConfigured = "Sorry, I can't chat right now (API configuration error)."
	ApologyMisconfigured = "Sorry, I can't chat because the chatbot is misconfigured."
	ApologyBlocked       = "Sorry, inappropriate content was detected so I can't answer."
	ApologyFailed        = "Sorry, something went wrong while generating a reply."
)

var apologies = map[string]struct{}{
	ApologyNotConfigured: {},
	ApologyMisconfigured: {},
	ApologyBlocked:       {},
	ApologyFailed:        {},
}

// IsApology reports whether text is one of the fixed fallback replies.
func IsApology(text string) bool {
	_, ok := apologies[text]
	return ok
}

// Responder produces the bot's reply for one turn.
type Responder struct {
	gen    Generator
	model  string
	logger *slog.Logger
}

// NewResponder creates a responder using model on gen.
func NewResponder(gen Generator, model string, logger *slog.Logger) *Responder {
	if gen == nil {
		gen = Unavailable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{gen: gen, model: model, logger: logger}
}

// Respond returns generated text, an empty string when the service produced
// nothing, or one of the apology replies. It never fails.
//
// history is the prior conversation. If its last entry is not already the
// user message, the message is appended before the call.
func (r *Responder) Respond(ctx context.Context, userMessage string, history []domain.Turn, systemInstruction string) string {
	if !IsConfigured(r.gen) {
		r.logger.Warn("reply skipped, generation service not configured")
		return ApologyNotConfigured
	}
	if strings.TrimSpace(systemInstruction) == "" {
		r.logger.Error("reply skipped, system instruction missing")
		return ApologyMisconfigured
	}

	res := r.gen.Generate(ctx, GenerateRequest{
		Model:             r.model,
		SystemInstruction: systemInstruction,
		Messages:          withUserTurn(history, userMessage),
	})

	switch res.Kind {
	case ResultText:
		return res.Text
	case ResultEmpty:
		return ""
	case ResultBlocked:
		r.logger.Warn("reply blocked by generation service", "reason", res.BlockReason)
		return ApologyBlocked
	case ResultFailed:
		if errors.Is(res.Err, ErrNotConfigured) {
			return ApologyNotConfigured
		}
		r.logger.Error("reply generation failed", "error", res.Err)
		return ApologyFailed
	default:
		r.logger.Error("unexpected generation result", "kind", res.Kind.String())
		return ApologyFailed
	}
}

func withUserTurn(history []domain.Turn, userMessage string) []domain.Turn {
	n := len(history)
	if n > 0 && history[n-1].Role == domain.RoleUser && history[n-1].Text == userMessage {
		return history
	}
	out := make([]domain.Turn, 0, n+1)
	out = append(out, history...)
	return append(out, domain.Turn{Role: domain.RoleUser, Text: userMessage})
}
