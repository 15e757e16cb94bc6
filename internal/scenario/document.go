// Package scenario loads scenario documents from YAML and validates them
// before they enter the catalog.
package scenario

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Document is a scenario as authored on disk.
type Document struct {
	ID                string                     `yaml:"id"                          json:"id"                          jsonschema:"required,minLength=1,pattern=^[A-Za-z0-9_-]+$"`
	Name              string                     `yaml:"name,omitempty"              json:"name,omitempty"`
	Description       string                     `yaml:"description,omitempty"       json:"description,omitempty"`
	BotInitialMessage string                     `yaml:"botInitialMessage,omitempty" json:"botInitialMessage,omitempty"`
	SystemInstruction string                     `yaml:"systemInstruction"           json:"systemInstruction"           jsonschema:"required,minLength=1"`
	InitialMissions   map[string]MissionDocument `yaml:"initialMissions"             json:"initialMissions"             jsonschema:"required"`
	AnalysisCriteria  map[string][]string        `yaml:"analysisCriteria"            json:"analysisCriteria"            jsonschema:"required"`
}

// MissionDocument is one authored mission.
type MissionDocument struct {
	Description string `yaml:"description"       json:"description"       jsonschema:"required,minLength=1"`
	StampID     string `yaml:"stampId,omitempty" json:"stampId,omitempty"`
}

// JSONSchemaExtend adds the constraints struct tags cannot express.
func (Document) JSONSchemaExtend(s *jsonschema.Schema) {
	if s.Properties == nil {
		return
	}
	if missions, ok := s.Properties.Get("initialMissions"); ok {
		one := uint64(1)
		missions.MinProperties = &one
		missions.PropertyNames = &jsonschema.Schema{Type: "string", Pattern: `^[A-Za-z0-9_-]+$`}
	}
}

// ToScenario converts the document to its domain form. Missing stamp ids get the default.
func (d *Document) ToScenario() *domain.Scenario {
	missions := make(map[string]domain.MissionTemplate, len(d.InitialMissions))
	for id, m := range d.InitialMissions {
		stamp := m.StampID
		if stamp == "" {
			stamp = domain.DefaultStampID
		}
		missions[id] = domain.MissionTemplate{Description: m.Description, StampID: stamp}
	}

	var criteria domain.AnalysisCriteria
	if d.AnalysisCriteria != nil {
		criteria = domain.AnalysisCriteria(d.AnalysisCriteria).Clone()
	}

	return &domain.Scenario{
		ID:                d.ID,
		DisplayName:       d.Name,
		Description:       d.Description,
		InitialBotMessage: d.BotInitialMessage,
		SystemInstruction: d.SystemInstruction,
		InitialMissions:   missions,
		AnalysisCriteria:  criteria,
	}
}

// Load parses a scenario document with strict unknown-field rejection.
func Load(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &doc, nil
}

// LoadFile reads and parses a scenario document from disk.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Files lists the scenario documents in dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
