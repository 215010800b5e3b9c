// Package history is the durable message log. Turns are grouped by guild,
// persona and conversation number; a wipe opens a new conversation number
// rather than deleting anything.
package history

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
)

// Role is the speaker role of a turn as sent to the completion API.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxContentLength bounds the content of a single turn, in characters.
const MaxContentLength = 8000

// Turn is one recorded message. Timestamp is unique within a conversation
// and doubles as its de-duplication key.
type Turn struct {
	Timestamp time.Time
	Role      Role
	Content   string
	// Speaker is the display name of the user who wrote a user turn.
	Speaker string
	// AuthorID is the author of a user turn, or the user an assistant turn
	// answered.
	AuthorID   string
	ChannelID  string
	MessageRef string
}

// Validate rejects turns that must never reach the log.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant:
	case RoleSystem:
		return apperr.Invalid("role", "system turns are derived from the persona and never stored")
	default:
		return apperr.Invalid("role", "unknown role %q", t.Role)
	}
	if t.Timestamp.IsZero() {
		return apperr.Invalid("timestamp", "must be set")
	}
	if n := utf8.RuneCountInString(t.Content); n > MaxContentLength {
		return apperr.Invalid("content", "%d characters exceeds the limit of %d", n, MaxContentLength)
	}
	return nil
}

// Key addresses one conversation partition.
type Key struct {
	GuildID      string
	PersonaID    string
	Conversation int
}

// Log is the message log consumed by the session layer.
type Log interface {
	// Append stores turns atomically. A turn whose timestamp already exists
	// replaces the stored one.
	Append(ctx context.Context, key Key, turns ...Turn) error
	// List returns the turns newer than since (all when since is zero) in
	// ascending timestamp order.
	List(ctx context.Context, key Key, since time.Time) ([]Turn, error)
	// Count returns the number of stored turns in the partition.
	Count(ctx context.Context, key Key) (int, error)
	// DeleteAll removes every conversation of a persona.
	DeleteAll(ctx context.Context, guildID, personaID string) error
	// LatestConversation returns the highest conversation number that has
	// turns, or 0 when there are none.
	LatestConversation(ctx context.Context, guildID, personaID string) (int, error)
}
