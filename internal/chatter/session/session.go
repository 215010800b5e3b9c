// Package session owns the live channel → session map.
//
// Each channel has at most one session, bound to a persona profile and a
// conversation partition of its log. Every mutation of a channel runs in
// that channel's lane, a FIFO queue drained by one goroutine, so messages
// arriving while a completion is in flight wait their turn. Lanes of
// different channels are independent.
package session

import (
	"errors"
	"time"

	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
)

// State is the state of a channel.
type State int

const (
	Unattached State = iota
	Active
	AwaitingContinuation
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Active:
		return "active"
	case AwaitingContinuation:
		return "awaiting continuation"
	default:
		return "unknown"
	}
}

var (
	// ErrNoSession is returned for a channel without a session.
	ErrNoSession = errors.New("session: no persona is attached to this room")
	// ErrNotAwaiting is returned by Continue and Dismiss when there is no
	// reply to continue.
	ErrNotAwaiting = errors.New("session: there is no reply to continue")
	// ErrNotRequester is returned when someone other than the user who got
	// the cut reply tries to continue or dismiss it.
	ErrNotRequester = errors.New("session: only the user who asked can continue this reply")
	// ErrReplaceDeclined is returned by Attach when the user did not confirm
	// replacing a durable session.
	ErrReplaceDeclined = errors.New("session: the current session was kept")
)

// DefaultContinueTimeout is how long a cut reply can be continued.
const DefaultContinueTimeout = 30 * time.Second

// DefaultContinuePrompt is the synthetic user turn sent to resume a cut
// reply. It is never logged.
const DefaultContinuePrompt = "Continue."

// maxLoadedTurns bounds the turns kept in memory per session. A window can
// never hold more turns than the largest context budget has tokens.
const maxLoadedTurns = 4096

// Info is a read-only snapshot of a session.
type Info struct {
	SessionID    string
	Channel      string
	PersonaID    string
	PersonaName  string
	Durable      bool
	Conversation int
	State        State
	AutoReply    bool
	Debug        bool
	Requester    string
	Turns        int
	AttachedAt   time.Time
}

// Inbound is a message delivered to a channel, already decoded by the
// platform adapter.
type Inbound struct {
	Channel string
	Author  string
	// Speaker is the author's display name.
	Speaker string
	Body    string
	EventID string
	// Mentioned, ReplyToBot and InThread are computed by the adapter.
	Mentioned  bool
	ReplyToBot bool
	InThread   bool
	// ThreadRoot is the thread the message was posted in, if any. Replies
	// go to the same thread.
	ThreadRoot string
}

// Qualifies reports whether in is addressed to the persona: the bot is
// mentioned or replied to, or in is in a thread and auto-reply is on.
func (in Inbound) Qualifies(autoReply bool) bool {
	return in.Mentioned || in.ReplyToBot || (in.InThread && autoReply)
}

// Reply is a completed exchange ready for delivery.
type Reply struct {
	Channel string
	Persona string
	Text    string
	// InReplyTo is the event that triggered the reply. Empty for a
	// continuation.
	InReplyTo string
	// ThreadRoot is the thread the reply belongs in. A continuation keeps
	// the thread of the reply it continues.
	ThreadRoot string
	TokensUsed int
	// Truncated means the session now awaits a continue signal.
	Truncated bool
	// Diagnostics holds the window summary when debug is on.
	Diagnostics string
}

// AttachRequest describes an attach.
type AttachRequest struct {
	Channel string
	Profile persona.Profile
	// Resume loads the latest conversation of a durable persona. Without it
	// a new conversation partition is opened.
	Resume    bool
	Requester string
	AutoReply bool
	Debug     bool
}

type session struct {
	id           string
	channel      string
	profile      persona.Profile
	conversation int
	turns        []history.Turn
	state        State
	requester    string
	autoReply    bool
	debug        bool
	attachedAt   time.Time
	lastStamp    time.Time

	// Continuation state, valid in AwaitingContinuation.
	awaitingUser   string
	awaitingThread string
	generation     uint64
	timer          *time.Timer
}

func (s *session) info() Info {
	return Info{
		SessionID:    s.id,
		Channel:      s.channel,
		PersonaID:    s.profile.ID(),
		PersonaName:  s.profile.Name(),
		Durable:      s.profile.Durable(),
		Conversation: s.conversation,
		State:        s.state,
		AutoReply:    s.autoReply,
		Debug:        s.debug || s.profile.HasFlag(persona.FlagDebug),
		Requester:    s.requester,
		Turns:        len(s.turns),
		AttachedAt:   s.attachedAt,
	}
}

// remember appends turns to the in-memory window source.
func (s *session) remember(turns ...history.Turn) {
	s.turns = append(s.turns, turns...)
	if n := len(s.turns); n > maxLoadedTurns {
		s.turns = append([]history.Turn(nil), s.turns[n-maxLoadedTurns:]...)
	}
}

// stamp returns a timestamp strictly after every turn of the session.
func (s *session) stamp(now time.Time) time.Time {
	t := now.UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = t
	return t
}

// settle leaves AwaitingContinuation, stopping the timer.
func (s *session) settle() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.awaitingUser = ""
	s.awaitingThread = ""
	if s.state == AwaitingContinuation {
		s.state = Active
	}
	s.generation++
}
