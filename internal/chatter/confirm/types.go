// Package confirm implements the confirm/cancel round-trip used before
// destructive or replacing operations.
//
// A question is opened on the Broker, announced to the room by a Notifier,
// and answered either with a `confirm <id>` / `cancel <id>` message or with
// a reaction on the announcement. Unanswered questions time out.
package confirm

import (
	"context"
	"time"
)

// Outcome is the answer to a question.
type Outcome int

const (
	Confirmed Outcome = iota + 1
	Cancelled
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// DefaultTTL is how long a question waits for its answer.
const DefaultTTL = 60 * time.Second

// Request is a question addressed to one user in one room.
type Request struct {
	Channel string
	User    string
	Prompt  string
}

// Asker asks a user to confirm an operation and waits for the answer.
type Asker interface {
	Ask(ctx context.Context, req Request) (Outcome, error)
}

// AskerFunc adapts a function to Asker.
type AskerFunc func(ctx context.Context, req Request) (Outcome, error)

// Ask implements Asker.
func (f AskerFunc) Ask(ctx context.Context, req Request) (Outcome, error) { return f(ctx, req) }

// Pending is an open question.
type Pending struct {
	// ID is a short, human-friendly identifier (e.g. "a3f2b1").
	ID        string
	Channel   string
	User      string
	Prompt    string
	CreatedAt time.Time
	ExpiresAt time.Time
	// Ref is the platform reference of the announcement (a Matrix event ID),
	// set once the Notifier has posted it.
	Ref string
}

// Notifier announces an open question to the room and returns a reference
// that reactions can point at.
type Notifier interface {
	Announce(ctx context.Context, p Pending) (ref string, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, p Pending) (string, error)

// Announce implements Notifier.
func (f NotifierFunc) Announce(ctx context.Context, p Pending) (string, error) { return f(ctx, p) }
