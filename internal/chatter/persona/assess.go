package persona

import "github.com/bdobrica/Chatter/internal/chatter/tokens"

// Assessment describes how much of the context budget the system prompt
// consumes on its own.
type Assessment struct {
	PromptTokens int
	Budget       int
	// OverHalf is set when the prompt takes at least half the budget,
	// leaving little room for history.
	OverHalf bool
	// Exceeds is set when the prompt alone is larger than the budget; every
	// window for this persona is then the system message only.
	Exceeds bool
}

// Assess measures p's system prompt against its context budget.
func Assess(p *Persona, counter tokens.Counter, model string) Assessment {
	n := counter.Count(p.SystemPrompt, model)
	return Assessment{
		PromptTokens: n,
		Budget:       p.ContextBudget,
		OverHalf:     2*n >= p.ContextBudget,
		Exceeds:      n > p.ContextBudget,
	}
}

// NeedsWarning reports whether the creator should confirm before saving.
func (a Assessment) NeedsWarning() bool {
	return a.OverHalf || a.Exceeds
}
