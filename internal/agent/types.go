// Package agent talks to the external text generation service and turns its
// answers into bot replies and per-turn analysis results.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/missiontalk/internal/domain"
)

// ErrNotConfigured is reported by the generator when no credential was supplied at startup.
var ErrNotConfigured = errors.New("generation service not configured")

// Backend names accepted in Config.Backend.
const (
	BackendGemini = "gemini"
	BackendGrpc   = "grpc"
)

// Config holds generation settings. It is built once at process start and injected.
type Config struct {
	Backend       string
	APIKey        string
	ChatModel     string
	AnalysisModel string
	GrpcAddr      string
	Timeout       time.Duration
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendGemini,
		ChatModel:     "gemini-2.0-flash",
		AnalysisModel: "gemini-2.0-flash",
		Timeout:       30 * time.Second,
	}
}

// GenerateRequest is one call to the generation service.
// Messages is ordered oldest first and ends with the newest user turn.
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	Messages          []domain.Turn
	JSONOutput        bool
}

// ResultKind tags which variant a Result holds.
type ResultKind int

const (
	// ResultText carries usable generated text.
	ResultText ResultKind = iota + 1
	// ResultBlocked means the service refused on moderation grounds.
	ResultBlocked
	// ResultEmpty means the call succeeded but produced no text.
	ResultEmpty
	// ResultFailed means the call itself failed.
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultText:
		return "text"
	case ResultBlocked:
		return "blocked"
	case ResultEmpty:
		return "empty"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the outcome of a generation call. Exactly one variant is set, selected by Kind.
type Result struct {
	Kind        ResultKind
	Text        string
	BlockReason string
	Err         error
}

// TextResult wraps generated text. Blank text yields the Empty variant.
func TextResult(text string) Result {
	if text == "" {
		return EmptyResult()
	}
	return Result{Kind: ResultText, Text: text}
}

// BlockedResult reports a moderation block.
func BlockedResult(reason string) Result {
	return Result{Kind: ResultBlocked, BlockReason: reason}
}

// EmptyResult reports a successful call without text.
func EmptyResult() Result {
	return Result{Kind: ResultEmpty}
}

// FailedResult reports a failed call.
func FailedResult(err error) Result {
	return Result{Kind: ResultFailed, Err: err}
}
