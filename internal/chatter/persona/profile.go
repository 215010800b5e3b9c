package persona

import (
	"context"
	"time"

	"github.com/bdobrica/Chatter/internal/chatter/history"
)

// Profile is the capability set the session layer needs from a persona,
// whichever variant backs it.
type Profile interface {
	// Snapshot returns a copy of the persona settings.
	Snapshot() Persona
	ID() string
	Name() string
	SystemPrompt() string
	Temperature() float64
	ContextBudget() int
	HasFlag(f Flag) bool
	// Blocked reports whether a user or room ID must be ignored.
	Blocked(id string) bool
	// Durable reports whether the persona is registry-backed.
	Durable() bool

	// LoadTurns returns the stored turns of a conversation.
	LoadTurns(ctx context.Context, conversation int) ([]history.Turn, error)
	// LatestConversation returns the newest conversation number with turns.
	LatestConversation(ctx context.Context) (int, error)
	// RecordTurns appends turns to a conversation atomically.
	RecordTurns(ctx context.Context, conversation int, turns ...history.Turn) error
	// RecordUsage adds one completed exchange costing tokens to the stats.
	RecordUsage(ctx context.Context, tokens int, at time.Time) error
	// RecordAttach counts one attach of the persona to a channel.
	RecordAttach(ctx context.Context, at time.Time) error
}

// Durable is a registry-backed persona with a message log.
type Durable struct {
	p   Persona
	reg Registry
	log history.Log
}

var _ Profile = (*Durable)(nil)

// NewDurable binds a stored persona to its registry and log.
func NewDurable(p Persona, reg Registry, log history.Log) *Durable {
	return &Durable{p: p.Clone(), reg: reg, log: log}
}

func (d *Durable) Snapshot() Persona      { return d.p.Clone() }
func (d *Durable) ID() string             { return d.p.ID }
func (d *Durable) Name() string           { return d.p.Name }
func (d *Durable) SystemPrompt() string   { return d.p.SystemPrompt }
func (d *Durable) Temperature() float64   { return d.p.Temperature }
func (d *Durable) ContextBudget() int     { return d.p.ContextBudget }
func (d *Durable) HasFlag(f Flag) bool    { return d.p.HasFlag(f) }
func (d *Durable) Blocked(id string) bool { return d.p.IsBlocked(id) }
func (d *Durable) Durable() bool          { return true }

func (d *Durable) key(conversation int) history.Key {
	return history.Key{GuildID: d.p.GuildID, PersonaID: d.p.ID, Conversation: conversation}
}

func (d *Durable) LoadTurns(ctx context.Context, conversation int) ([]history.Turn, error) {
	return d.log.List(ctx, d.key(conversation), time.Time{})
}

func (d *Durable) LatestConversation(ctx context.Context) (int, error) {
	return d.log.LatestConversation(ctx, d.p.GuildID, d.p.ID)
}

func (d *Durable) RecordTurns(ctx context.Context, conversation int, turns ...history.Turn) error {
	return d.log.Append(ctx, d.key(conversation), turns...)
}

func (d *Durable) RecordUsage(ctx context.Context, tokens int, at time.Time) error {
	return d.reg.RecordExchange(ctx, d.p.GuildID, d.p.ID, tokens, at)
}

func (d *Durable) RecordAttach(ctx context.Context, at time.Time) error {
	return d.reg.RecordUse(ctx, d.p.GuildID, d.p.ID, at)
}

// EphemeralDescription is the description given to inline personas.
const EphemeralDescription = "temporary persona"

// Ephemeral is an inline persona for one session. Nothing about it is
// stored: its turns live only in the session window.
type Ephemeral struct {
	p Persona
}

var _ Profile = (*Ephemeral)(nil)

// NewEphemeral validates and returns an inline persona. The display name is
// derived from the prompt.
func NewEphemeral(guildID, systemPrompt string, temperature float64, creatorID string, lim Limits, flags ...Flag) (*Ephemeral, error) {
	p := Persona{
		GuildID:       guildID,
		Name:          DefaultName(systemPrompt),
		Description:   EphemeralDescription,
		SystemPrompt:  systemPrompt,
		Temperature:   temperature,
		ContextBudget: DefaultContextBudget,
		CreatorID:     creatorID,
		CreatedAt:     time.Now().UTC(),
		Flags:         flags,
	}
	if p.ContextBudget > lim.MaxContextBudget {
		p.ContextBudget = lim.MaxContextBudget
	}
	if err := p.validateFields(lim); err != nil {
		return nil, err
	}
	return &Ephemeral{p: p}, nil
}

func (e *Ephemeral) Snapshot() Persona      { return e.p.Clone() }
func (e *Ephemeral) ID() string             { return "" }
func (e *Ephemeral) Name() string           { return e.p.Name }
func (e *Ephemeral) SystemPrompt() string   { return e.p.SystemPrompt }
func (e *Ephemeral) Temperature() float64   { return e.p.Temperature }
func (e *Ephemeral) ContextBudget() int     { return e.p.ContextBudget }
func (e *Ephemeral) HasFlag(f Flag) bool    { return e.p.HasFlag(f) }
func (e *Ephemeral) Blocked(id string) bool { return e.p.IsBlocked(id) }
func (e *Ephemeral) Durable() bool          { return false }

func (e *Ephemeral) LoadTurns(context.Context, int) ([]history.Turn, error) { return nil, nil }
func (e *Ephemeral) LatestConversation(context.Context) (int, error)        { return 0, nil }

func (e *Ephemeral) RecordTurns(context.Context, int, ...history.Turn) error { return nil }
func (e *Ephemeral) RecordUsage(context.Context, int, time.Time) error       { return nil }
func (e *Ephemeral) RecordAttach(context.Context, time.Time) error           { return nil }
