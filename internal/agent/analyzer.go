package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/missiontalk/internal/domain"
)

const (
	// CompletionFieldPrefix prefixes a mission id to name its analysis flag.
	CompletionFieldPrefix = "completes_"
	// TerminationField is the analysis flag for an intent to end the conversation.
	TerminationField = "termination_requested"

	analysisSystemInstruction = "You are a helpful assistant that analyzes user input for a conversational AI application. " +
		"Respond strictly in the requested JSON format. Do not include any preamble or additional text."
)

var errAnalysisNotObject = errors.New("analysis response is not a JSON object")

// CompletionField returns the analysis flag name for a mission id.
func CompletionField(missionID string) string {
	return CompletionFieldPrefix + missionID
}

// Field is one boolean entry of the analysis schema.
type Field struct {
	Name      string
	MissionID string // empty for the termination flag
	Cues      []string
}

// Schema is the analysis output shape derived from a scenario's criteria.
// Mission fields come first in mission id order; the termination field is last.
type Schema struct {
	Fields []Field
}

// BuildSchema derives the analysis schema from criteria. Nil criteria yield
// a schema holding only the termination field.
func BuildSchema(criteria domain.AnalysisCriteria) Schema {
	ids := criteria.MissionIDs()
	fields := make([]Field, 0, len(ids)+1)
	for _, id := range ids {
		fields = append(fields, Field{
			Name:      CompletionField(id),
			MissionID: id,
			Cues:      criteria.Keywords(id),
		})
	}
	fields = append(fields, Field{Name: TerminationField, Cues: criteria.TerminationKeywords()})
	return Schema{Fields: fields}
}

// FieldNames lists the expected flag names in schema order.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// JSONTemplate renders the schema as the JSON shape shown to the model.
func (s Schema) JSONTemplate() string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, f := range s.Fields {
		fmt.Fprintf(&b, "  %q: boolean", f.Name)
		if i < len(s.Fields)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}")
	return b.String()
}

// AnalysisResult is one turn's classification. Every schema field has a value.
type AnalysisResult struct {
	Schema Schema
	Flags  map[string]bool
}

// DefaultResult is the all-false result for schema.
func DefaultResult(schema Schema) AnalysisResult {
	flags := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		flags[f.Name] = false
	}
	return AnalysisResult{Schema: schema, Flags: flags}
}

// Completes reports whether the turn completes missionID.
func (r AnalysisResult) Completes(missionID string) bool {
	return r.Flags[CompletionField(missionID)]
}

// TerminationRequested reports whether the user asked to end the conversation.
func (r AnalysisResult) TerminationRequested() bool {
	return r.Flags[TerminationField]
}

// BuildPrompt constructs the classification prompt for userMessage.
func BuildPrompt(schema Schema, userMessage string) string {
	var b strings.Builder
	b.WriteString("Analyze the user's last input based on the following criteria and respond only in the specified JSON format.\n")
	b.WriteString("```json\n")
	b.WriteString(schema.JSONTemplate())
	b.WriteString("\n```\n")
	b.WriteString("Criteria to check:\n")
	for _, f := range schema.Fields {
		if f.MissionID != "" {
			fmt.Fprintf(&b, "- Completes mission '%s': Does the input express meaning related to %s? If yes, set '%s' to true.\n",
				f.MissionID, formatCues(f.Cues), f.Name)
			continue
		}
		fmt.Fprintf(&b, "- Termination requested: Does the input express a clear intent to end the conversation (e.g., saying goodbye)? Keywords like %s might be relevant. If yes, set '%s' to true.\n",
			formatCues(f.Cues), f.Name)
	}
	fmt.Fprintf(&b, "\nUser input: \"%s\"\n", userMessage)
	b.WriteString("Only respond with the JSON object. Do not include any preamble or additional text.\n")
	return b.String()
}

func formatCues(cues []string) string {
	quoted := make([]string, len(cues))
	for i, c := range cues {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// ParseResult decodes a model reply against schema. Fields missing from the
// object, or holding a non-boolean, are false. Anything other than a JSON
// object is an error.
func ParseResult(schema Schema, raw string) (AnalysisResult, error) {
	var decoded any
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &decoded); err != nil {
		return DefaultResult(schema), fmt.Errorf("decode analysis response: %w", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return DefaultResult(schema), errAnalysisNotObject
	}

	res := DefaultResult(schema)
	for _, f := range schema.Fields {
		if v, ok := obj[f.Name].(bool); ok {
			res.Flags[f.Name] = v
		}
	}
	return res, nil
}

// stripCodeFence removes a surrounding ``` fence and its optional language tag.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(t, "```"); ok {
		t = rest
		if nl := strings.IndexByte(t, '\n'); nl >= 0 && !strings.ContainsAny(t[:nl], "{[") {
			t = t[nl+1:]
		} else {
			t = strings.TrimPrefix(t, "json")
		}
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// Analyzer classifies user messages against scenario criteria.
type Analyzer struct {
	gen    Generator
	model  string
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer using model on gen.
func NewAnalyzer(gen Generator, model string, logger *slog.Logger) *Analyzer {
	if gen == nil {
		gen = Unavailable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{gen: gen, model: model, logger: logger}
}

// Analyze classifies userMessage. It never fails: any problem with the
// criteria, the call or the reply yields DefaultResult.
func (a *Analyzer) Analyze(ctx context.Context, userMessage string, criteria domain.AnalysisCriteria) AnalysisResult {
	schema := BuildSchema(criteria)
	if criteria == nil {
		a.logger.Warn("analysis skipped, criteria missing")
		return DefaultResult(schema)
	}
	if !IsConfigured(a.gen) {
		a.logger.Warn("analysis skipped, generation service not configured")
		return DefaultResult(schema)
	}

	res := a.gen.Generate(ctx, GenerateRequest{
		Model:             a.model,
		SystemInstruction: analysisSystemInstruction,
		Messages:          []domain.Turn{{Role: domain.RoleUser, Text: BuildPrompt(schema, userMessage)}},
		JSONOutput:        true,
	})

	switch res.Kind {
	case ResultText:
		parsed, err := ParseResult(schema, res.Text)
		if err != nil {
			a.logger.Warn("analysis response unusable", "error", err, "raw", res.Text)
			return DefaultResult(schema)
		}
		return parsed
	case ResultBlocked:
		a.logger.Warn("analysis blocked by generation service", "reason", res.BlockReason)
	case ResultEmpty:
		a.logger.Warn("analysis response empty")
	case ResultFailed:
		a.logger.Error("analysis call failed", "error", res.Err)
	}
	return DefaultResult(schema)
}
