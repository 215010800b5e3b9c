package persona

import (
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/tokens"
)

func validPersona() Persona {
	return Persona{
		GuildID:       "!space:example.org",
		ID:            "abcd1234",
		Name:          "Marvin",
		Description:   "A paranoid android",
		SystemPrompt:  "You are Marvin, a depressed robot.",
		Temperature:   DefaultTemperature,
		ContextBudget: DefaultContextBudget,
	}
}

func TestValidate(t *testing.T) {
	lim := DefaultLimits()
	tests := []struct {
		name   string
		mutate func(p *Persona)
		field  string
	}{
		{"valid", func(p *Persona) {}, ""},
		{"missing id", func(p *Persona) { p.ID = "" }, "id"},
		{"missing guild", func(p *Persona) { p.GuildID = " " }, "guild"},
		{"empty name", func(p *Persona) { p.Name = "" }, "name"},
		{"long name", func(p *Persona) { p.Name = strings.Repeat("n", 33) }, "name"},
		{"long description", func(p *Persona) { p.Description = strings.Repeat("d", 201) }, "description"},
		{"empty prompt", func(p *Persona) { p.SystemPrompt = "  " }, "system_prompt"},
		{"long prompt", func(p *Persona) { p.SystemPrompt = strings.Repeat("p", 4001) }, "system_prompt"},
		{"cold", func(p *Persona) { p.Temperature = 0.05 }, "temperature"},
		{"hot", func(p *Persona) { p.Temperature = 2.01 }, "temperature"},
		{"edge temperatures", func(p *Persona) { p.Temperature = 2.0 }, ""},
		{"negative budget", func(p *Persona) { p.ContextBudget = -1 }, "context_budget"},
		{"huge budget", func(p *Persona) { p.ContextBudget = 4097 }, "context_budget"},
		{"zero budget", func(p *Persona) { p.ContextBudget = 0 }, ""},
		{"bad avatar", func(p *Persona) { p.AvatarURL = "ftp://x/y.png" }, "avatar_url"},
		{"mxc avatar", func(p *Persona) { p.AvatarURL = "mxc://example.org/abc" }, ""},
		{"unknown flag", func(p *Persona) { p.Flags = []Flag{"turbo"} }, "flags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPersona()
			tt.mutate(&p)
			err := p.Validate(lim)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestBlockList(t *testing.T) {
	p := validPersona()
	if !p.Block("@troll:example.org") {
		t.Fatal("first Block should report true")
	}
	if p.Block("@troll:example.org") {
		t.Fatal("second Block should report false")
	}
	if !p.IsBlocked("@troll:example.org") || p.IsBlocked("") {
		t.Fatal("IsBlocked mismatch")
	}
	clone := p.Clone()
	if !p.Unblock("@troll:example.org") || p.Unblock("@troll:example.org") {
		t.Fatal("Unblock should succeed once")
	}
	if !clone.IsBlocked("@troll:example.org") {
		t.Fatal("Clone must not share the block-list")
	}
}

func TestDefaultName_Deterministic(t *testing.T) {
	a := DefaultName("You are a pirate.")
	if a != DefaultName("You are a pirate.") {
		t.Fatal("same prompt must yield the same name")
	}
	found := false
	for _, n := range ephemeralNames {
		if n == a {
			found = true
		}
	}
	if !found {
		t.Fatalf("%q is not one of the default names", a)
	}
}

func TestNewEphemeral(t *testing.T) {
	lim := DefaultLimits()
	e, err := NewEphemeral("g", "Talk like a pirate.", 1.2, "@ana:x", lim, FlagDebug)
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	if e.Durable() || e.ID() != "" {
		t.Fatal("ephemeral persona must have no identity")
	}
	if e.Name() != DefaultName("Talk like a pirate.") || !e.HasFlag(FlagDebug) {
		t.Fatalf("unexpected persona %+v", e.Snapshot())
	}
	if e.ContextBudget() != DefaultContextBudget || e.Temperature() != 1.2 {
		t.Fatalf("unexpected sampling settings %+v", e.Snapshot())
	}

	_, err = NewEphemeral("g", "x", 3, "@ana:x", lim)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Field != "temperature" {
		t.Fatalf("expected temperature error, got %v", err)
	}
}

func TestAssess(t *testing.T) {
	counter := tokens.CounterFunc(func(text, _ string) int { return len(text) })
	p := validPersona()
	p.ContextBudget = 10

	p.SystemPrompt = "abcd"
	if a := Assess(&p, counter, "m"); a.NeedsWarning() || a.PromptTokens != 4 {
		t.Fatalf("small prompt flagged: %+v", a)
	}
	p.SystemPrompt = "abcde"
	if a := Assess(&p, counter, "m"); !a.OverHalf || a.Exceeds {
		t.Fatalf("half budget: %+v", a)
	}
	p.SystemPrompt = strings.Repeat("x", 11)
	if a := Assess(&p, counter, "m"); !a.Exceeds || !a.NeedsWarning() {
		t.Fatalf("over budget: %+v", a)
	}
}

func TestStatsAverage(t *testing.T) {
	if (Stats{}).AverageTokens() != 0 {
		t.Fatal("empty stats average must be 0")
	}
	if got := (Stats{Messages: 4, Tokens: 10}).AverageTokens(); got != 2.5 {
		t.Fatalf("AverageTokens = %v", got)
	}
}
