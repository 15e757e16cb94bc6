package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaResource = "scenario-v1.json"

// ValidationError is a single problem found in a scenario document.
type ValidationError struct {
	Phase   string `json:"phase"` // structural, semantic, domain
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// GenerateJSONSchema produces the JSON Schema for scenario documents.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Document{})
	s.ID = "https://github.com/ashureev/missiontalk/schemas/scenario-v1.json"
	s.Title = "Missiontalk Scenario v1"
	s.Description = "Schema for missiontalk scenario YAML documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

var compiledSchema = sync.OnceValues(func() (*sjsonschema.Schema, error) {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return nil, err
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schemaResource, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
})

// Validate checks a parsed document against the schema and the domain rules.
func Validate(doc *Document) []*ValidationError {
	if errs := validateSemantic(doc); len(errs) > 0 {
		return errs
	}
	return validateDomain(doc)
}

func validateSemantic(doc *Document) []*ValidationError {
	semantic := func(path, msg string) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Path: path, Message: msg}}
	}

	sch, err := compiledSchema()
	if err != nil {
		return semantic("", err.Error())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return semantic("", fmt.Sprintf("marshal for schema validation: %v", err))
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return semantic("", fmt.Sprintf("unmarshal document: %v", err))
	}

	err = sch.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return semantic("", err.Error())
	}
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, &ValidationError{
			Phase:   "semantic",
			Path:    strings.Join(cause.InstanceLocation, "/"),
			Message: fmt.Sprintf("%v", cause.ErrorKind),
		})
	}
	return errs
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

func validateDomain(doc *Document) []*ValidationError {
	var errs []*ValidationError
	add := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if err := doc.ToScenario().Validate(); err != nil {
		add("", "%v", err)
	}

	criteria := domain.AnalysisCriteria(doc.AnalysisCriteria)
	for _, id := range criteria.MissionIDs() {
		if _, ok := doc.InitialMissions[id]; !ok {
			add("analysisCriteria/"+id+domain.KeywordSuffix, "criteria reference unknown mission %q", id)
		}
	}
	for id := range doc.InitialMissions {
		if len(criteria.Keywords(id)) == 0 {
			add("analysisCriteria", "mission %q has no %s%s cues", id, id, domain.KeywordSuffix)
		}
	}
	return errs
}

// ParseFile loads, validates and converts one scenario file.
func ParseFile(path string) (*domain.Scenario, error) {
	doc, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidScenario, path,
			&ValidationError{Phase: "structural", Message: err.Error()})
	}
	if errs := Validate(doc); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidScenario, path, joinValidationErrors(errs))
	}
	return doc.ToScenario(), nil
}

func joinValidationErrors(errs []*ValidationError) error {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

// ValidationErrors collects every *ValidationError wrapped in err.
func ValidationErrors(err error) []*ValidationError {
	var out []*ValidationError
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case nil:
		case *ValidationError:
			out = append(out, x)
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}
