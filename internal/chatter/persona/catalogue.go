package persona

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalogue.schema.json
var catalogueSchemaJSON string

var catalogueSchema = jsonschema.MustCompileString("catalogue.schema.json", catalogueSchemaJSON)

// catalogueEntry is the YAML shape of one persona.
type catalogueEntry struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	AvatarURL     string   `yaml:"avatar_url"`
	SystemPrompt  string   `yaml:"system_prompt"`
	Temperature   *float64 `yaml:"temperature"`
	ContextBudget *int     `yaml:"context_budget"`
	Flags         []string `yaml:"flags"`
	Blocked       []string `yaml:"blocked"`
}

type catalogueFile struct {
	Personas []catalogueEntry `yaml:"personas"`
}

// ParseCatalogue decodes a YAML persona catalogue, checks it against the
// embedded JSON schema and returns the personas for guildID with defaults
// applied. Entries are validated against lim as well.
func ParseCatalogue(data []byte, guildID string, lim Limits) ([]Persona, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("persona catalogue: parse yaml: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("persona catalogue: convert to json: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("persona catalogue: decode json: %w", err)
	}
	if err := catalogueSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("persona catalogue: %w", err)
	}

	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("persona catalogue: decode: %w", err)
	}

	seen := make(map[string]bool, len(file.Personas))
	out := make([]Persona, 0, len(file.Personas))
	for i, e := range file.Personas {
		if seen[e.ID] {
			return nil, fmt.Errorf("persona catalogue: personas[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true

		p := Persona{
			GuildID:       guildID,
			ID:            e.ID,
			Name:          e.Name,
			Description:   e.Description,
			AvatarURL:     e.AvatarURL,
			SystemPrompt:  e.SystemPrompt,
			Temperature:   DefaultTemperature,
			ContextBudget: DefaultContextBudget,
			CreatorID:     "catalogue",
			Blocked:       e.Blocked,
		}
		if e.Temperature != nil {
			p.Temperature = *e.Temperature
		}
		if e.ContextBudget != nil {
			p.ContextBudget = *e.ContextBudget
		}
		for _, f := range e.Flags {
			p.Flags = append(p.Flags, Flag(f))
		}
		if err := p.Validate(lim); err != nil {
			return nil, fmt.Errorf("persona catalogue: personas[%d] (%s): %w", i, e.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadCatalogue reads and parses the catalogue file at path.
func LoadCatalogue(path, guildID string, lim Limits) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona catalogue: %w", err)
	}
	return ParseCatalogue(data, guildID, lim)
}

// ApplyCatalogue upserts every persona, keeping the creation time and
// block-list of entries that already exist so edits made in chat survive a
// restart. It returns the number of personas written.
func ApplyCatalogue(ctx context.Context, reg Registry, personas []Persona, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for i := range personas {
		p := personas[i].Clone()
		if existing, err := reg.Get(ctx, p.GuildID, p.ID); err == nil {
			p.CreatedAt = existing.CreatedAt
			for _, id := range existing.Blocked {
				p.Block(id)
			}
		}
		if err := reg.Upsert(ctx, &p); err != nil {
			return i, fmt.Errorf("persona catalogue: upsert %s: %w", p.ID, err)
		}
	}
	logger.Info("persona catalogue applied", "count", len(personas))
	return len(personas), nil
}
