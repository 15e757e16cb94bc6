package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/missiontalk/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

var tracer = otel.Tracer("github.com/ashureev/missiontalk/internal/agent")

// GeminiClient calls the Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini API client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized")
	return &GeminiClient{client: client, logger: logger}, nil
}

// Generate sends the conversation to Gemini.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) Result {
	ctx, span := tracer.Start(ctx, "gemini.GenerateContent")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen.model", req.Model),
		attribute.Int("gen.messages", len(req.Messages)),
		attribute.Bool("gen.json_output", req.JSONOutput),
	)

	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.JSONOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, toContents(req.Messages), cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		return FailedResult(fmt.Errorf("gemini generate content: %w", err))
	}

	res := resultFromResponse(resp)
	span.SetAttributes(attribute.String("gen.result", res.Kind.String()))
	return res
}

// Close is a no-op; the Gemini client holds no long-lived connections.
func (c *GeminiClient) Close() error { return nil }

func toContents(turns []domain.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}

func resultFromResponse(resp *genai.GenerateContentResponse) Result {
	if resp == nil {
		return EmptyResult()
	}
	for _, c := range resp.Candidates {
		if c == nil {
			return EmptyResult()
		}
	}
	if text := resp.Text(); text != "" {
		return TextResult(text)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return BlockedResult(string(resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil &&
		resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return BlockedResult(string(genai.FinishReasonSafety))
	}
	return EmptyResult()
}
