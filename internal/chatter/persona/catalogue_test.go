package persona_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/Chatter/internal/chatter/persona"
)

const sampleCatalogue = `
personas:
  - id: marvin
    name: Marvin
    description: Paranoid android
    system_prompt: |
      You are Marvin. Life? Don't talk to me about life.
    temperature: 0.4
    context_budget: 2048
    flags: [debug]
  - id: eddie
    name: Eddie
    system_prompt: You are the ship's computer, relentlessly cheerful.
`

func TestParseCatalogue(t *testing.T) {
	ps, err := persona.ParseCatalogue([]byte(sampleCatalogue), guild, persona.DefaultLimits())
	if err != nil {
		t.Fatalf("ParseCatalogue: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(ps))
	}
	m := ps[0]
	if m.ID != "marvin" || m.Temperature != 0.4 || m.ContextBudget != 2048 || !m.HasFlag(persona.FlagDebug) || m.GuildID != guild {
		t.Fatalf("unexpected first persona %+v", m)
	}
	e := ps[1]
	if e.Temperature != persona.DefaultTemperature || e.ContextBudget != persona.DefaultContextBudget {
		t.Fatalf("defaults not applied: %+v", e)
	}
}

func TestParseCatalogue_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not yaml", "personas: [", "parse yaml"},
		{"missing personas", "personas_v2: []", "personas"},
		{"missing prompt", "personas:\n  - id: a\n    name: A\n", "system_prompt"},
		{"temperature too high", "personas:\n  - id: a\n    name: A\n    system_prompt: x\n    temperature: 3\n", "temperature"},
		{"fractional budget", "personas:\n  - id: a\n    name: A\n    system_prompt: x\n    context_budget: 10.5\n", "context_budget"},
		{"budget too large", "personas:\n  - id: a\n    name: A\n    system_prompt: x\n    context_budget: 5000\n", "context_budget"},
		{"unknown field", "personas:\n  - id: a\n    name: A\n    system_prompt: x\n    colour: red\n", "colour"},
		{"unknown flag", "personas:\n  - id: a\n    name: A\n    system_prompt: x\n    flags: [turbo]\n", "flags"},
		{"duplicate id", "personas:\n  - id: a\n    name: A\n    system_prompt: x\n  - id: a\n    name: B\n    system_prompt: y\n", "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := persona.ParseCatalogue([]byte(tt.doc), guild, persona.DefaultLimits())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyCatalogue_KeepsChatEdits(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	ps, err := persona.ParseCatalogue([]byte(sampleCatalogue), guild, persona.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if n, err := persona.ApplyCatalogue(ctx, reg, ps, nil); err != nil || n != 2 {
		t.Fatalf("ApplyCatalogue = %d, %v", n, err)
	}

	stored, _ := reg.Get(ctx, guild, "marvin")
	created := stored.CreatedAt
	stored.Block("@troll:example.org")
	reg.Upsert(ctx, stored)

	if _, err := persona.ApplyCatalogue(ctx, reg, ps, nil); err != nil {
		t.Fatal(err)
	}
	again, _ := reg.Get(ctx, guild, "marvin")
	if !again.IsBlocked("@troll:example.org") {
		t.Fatal("block-list edit lost on re-apply")
	}
	if !again.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt changed: %v -> %v", created, again.CreatedAt)
	}
}

func TestLoadCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalogue), 0o600); err != nil {
		t.Fatal(err)
	}
	ps, err := persona.LoadCatalogue(path, guild, persona.DefaultLimits())
	if err != nil {
		t.Fatalf("LoadCatalogue: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("got %d personas, want 2", len(ps))
	}
	if _, err := persona.LoadCatalogue(filepath.Join(t.TempDir(), "missing.yaml"), guild, persona.DefaultLimits()); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
