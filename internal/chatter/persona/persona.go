// Package persona holds the persona catalogue: the configured system prompt
// and sampling parameters a conversation is attached to, scoped per guild.
//
// Durable personas live in the registry and own a message log. Ephemeral
// personas are defined inline for a single session and are never stored.
package persona

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
)

// Flag toggles optional per-persona behaviour.
type Flag string

const (
	// FlagDebug appends token and window diagnostics to every reply.
	FlagDebug Flag = "debug"
	// FlagAutoReply turns auto-reply on when the persona is attached in a thread.
	FlagAutoReply Flag = "auto_reply"
)

var knownFlags = []Flag{FlagDebug, FlagAutoReply}

// Persona is one catalogue entry.
type Persona struct {
	GuildID       string
	ID            string
	Name          string
	Description   string
	AvatarURL     string
	SystemPrompt  string
	Temperature   float64
	ContextBudget int
	CreatorID     string
	CreatedAt     time.Time
	Flags         []Flag
	// Blocked lists user and room IDs whose messages are ignored and kept
	// out of every context window.
	Blocked []string
}

// Limits bounds the persona fields.
type Limits struct {
	MaxName          int
	MaxDescription   int
	MaxSystemPrompt  int
	MinTemperature   float64
	MaxTemperature   float64
	MaxContextBudget int
	MaxPerGuild      int
}

const (
	DefaultTemperature   = 0.8
	DefaultContextBudget = 1024
)

// DefaultLimits returns the limits enforced by the registry.
func DefaultLimits() Limits {
	return Limits{
		MaxName:          32,
		MaxDescription:   200,
		MaxSystemPrompt:  4000,
		MinTemperature:   0.1,
		MaxTemperature:   2.0,
		MaxContextBudget: 4096,
		MaxPerGuild:      20,
	}
}

// NewID returns a short random identifier for a durable persona.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Validate checks every bounded field and returns a ValidationError naming
// the first offending one.
func (p *Persona) Validate(lim Limits) error {
	if strings.TrimSpace(p.GuildID) == "" {
		return apperr.Invalid("guild", "must not be empty")
	}
	if strings.TrimSpace(p.ID) == "" {
		return apperr.Invalid("id", "must not be empty")
	}
	return p.validateFields(lim)
}

// validateFields checks everything except identity; ephemeral personas have
// none.
func (p *Persona) validateFields(lim Limits) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return apperr.Invalid("name", "must not be empty")
	}
	if n := utf8.RuneCountInString(name); n > lim.MaxName {
		return apperr.Invalid("name", "%d characters exceeds the limit of %d", n, lim.MaxName)
	}
	if n := utf8.RuneCountInString(p.Description); n > lim.MaxDescription {
		return apperr.Invalid("description", "%d characters exceeds the limit of %d", n, lim.MaxDescription)
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return apperr.Invalid("system_prompt", "must not be empty")
	}
	if n := utf8.RuneCountInString(p.SystemPrompt); n > lim.MaxSystemPrompt {
		return apperr.Invalid("system_prompt", "%d characters exceeds the limit of %d", n, lim.MaxSystemPrompt)
	}
	if p.Temperature < lim.MinTemperature || p.Temperature > lim.MaxTemperature {
		return apperr.Invalid("temperature", "%.2f is outside [%.1f, %.1f]", p.Temperature, lim.MinTemperature, lim.MaxTemperature)
	}
	if p.ContextBudget < 0 || p.ContextBudget > lim.MaxContextBudget {
		return apperr.Invalid("context_budget", "%d is outside [0, %d]", p.ContextBudget, lim.MaxContextBudget)
	}
	if p.AvatarURL != "" {
		u, err := url.Parse(p.AvatarURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http" && u.Scheme != "mxc") || u.Host == "" {
			return apperr.Invalid("avatar_url", "%q is not an http(s) or mxc URL", p.AvatarURL)
		}
	}
	for _, f := range p.Flags {
		if !slices.Contains(knownFlags, f) {
			return apperr.Invalid("flags", "unknown flag %q", f)
		}
	}
	return nil
}

// HasFlag reports whether f is set.
func (p *Persona) HasFlag(f Flag) bool {
	return slices.Contains(p.Flags, f)
}

// IsBlocked reports whether a user or room ID is on the block-list.
func (p *Persona) IsBlocked(id string) bool {
	return id != "" && slices.Contains(p.Blocked, id)
}

// Block adds id to the block-list. It reports false when already present.
func (p *Persona) Block(id string) bool {
	if p.IsBlocked(id) {
		return false
	}
	p.Blocked = append(p.Blocked, id)
	return true
}

// Unblock removes id from the block-list. It reports false when absent.
func (p *Persona) Unblock(id string) bool {
	i := slices.Index(p.Blocked, id)
	if i < 0 {
		return false
	}
	p.Blocked = slices.Delete(p.Blocked, i, i+1)
	return true
}

// Clone returns a deep copy.
func (p Persona) Clone() Persona {
	p.Flags = slices.Clone(p.Flags)
	p.Blocked = slices.Clone(p.Blocked)
	return p
}

func (p *Persona) String() string {
	if p.ID == "" {
		return p.Name
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.ID)
}

var ephemeralNames = []string{
	"GladOS", "HAL 9000", "TARS", "C3PO", "MAGI", "Skynet", "Cortana",
	"Jarvis", "Mother", "NERON", "Bender", "Ava", "T-800",
}

// DefaultName picks a display name for an ephemeral persona. The same
// prompt always yields the same name.
func DefaultName(systemPrompt string) string {
	h := fnv.New32a()
	h.Write([]byte(systemPrompt))
	return ephemeralNames[h.Sum32()%uint32(len(ephemeralNames))]
}

// Stats aggregates usage for one persona.
type Stats struct {
	Uses     int
	Messages int
	Tokens   int
	LastUse  time.Time
}

// AverageTokens returns the mean tokens per message, or 0.
func (s Stats) AverageTokens() float64 {
	if s.Messages == 0 {
		return 0
	}
	return float64(s.Tokens) / float64(s.Messages)
}
