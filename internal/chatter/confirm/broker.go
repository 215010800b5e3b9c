package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownQuestion is returned when no open question matches.
	ErrUnknownQuestion = errors.New("confirm: no such open question")
	// ErrNotRequester is returned when someone other than the asked user answers.
	ErrNotRequester = errors.New("confirm: only the asked user can answer")
)

type question struct {
	Pending
	answer chan Outcome
}

// Broker tracks open questions and implements Asker. Safe for concurrent use.
type Broker struct {
	mu     sync.Mutex
	open   map[string]*question
	ttl    time.Duration
	notify Notifier
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

var _ Asker = (*Broker)(nil)

// NewBroker creates a Broker. A non-positive ttl means DefaultTTL, a nil
// notifier posts nothing and a nil logger means slog.Default().
func NewBroker(ttl time.Duration, notify Notifier, logger *slog.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		open:   make(map[string]*question),
		ttl:    ttl,
		notify: notify,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:6] },
	}
}

// SetNotifier replaces the notifier. It exists for wiring cycles where the
// notifier needs the broker first.
func (b *Broker) SetNotifier(n Notifier) {
	b.mu.Lock()
	b.notify = n
	b.mu.Unlock()
}

// Ask opens a question, announces it and blocks until it is answered, it
// times out, or ctx is done. A cancelled ctx yields Cancelled with ctx's
// error.
func (b *Broker) Ask(ctx context.Context, req Request) (Outcome, error) {
	q := b.openQuestion(req)
	defer b.remove(q.ID)

	b.mu.Lock()
	notify := b.notify
	b.mu.Unlock()
	if notify != nil {
		ref, err := notify.Announce(ctx, q.Pending)
		if err != nil {
			return Cancelled, fmt.Errorf("confirm: announce %s: %w", q.ID, err)
		}
		b.mu.Lock()
		q.Ref = ref
		b.mu.Unlock()
	}

	timer := time.NewTimer(b.ttl)
	defer timer.Stop()

	select {
	case o := <-q.answer:
		b.logger.Debug("confirm: answered", "id", q.ID, "outcome", o.String())
		return o, nil
	case <-timer.C:
		b.logger.Debug("confirm: timed out", "id", q.ID)
		return TimedOut, nil
	case <-ctx.Done():
		return Cancelled, ctx.Err()
	}
}

func (b *Broker) openQuestion(req Request) *question {
	now := b.now()
	q := &question{
		Pending: Pending{
			Channel:   req.Channel,
			User:      req.User,
			Prompt:    req.Prompt,
			CreatedAt: now,
			ExpiresAt: now.Add(b.ttl),
		},
		answer: make(chan Outcome, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		q.ID = b.newID()
		if _, taken := b.open[q.ID]; !taken {
			break
		}
	}
	b.open[q.ID] = q
	return q
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	delete(b.open, id)
	b.mu.Unlock()
}

// Resolve answers the question id on behalf of user.
func (b *Broker) Resolve(id, user string, confirmed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.open[strings.ToLower(id)]
	if !ok {
		return ErrUnknownQuestion
	}
	return b.answerLocked(q, user, confirmed)
}

// ResolveRef answers the question whose announcement has reference ref.
func (b *Broker) ResolveRef(ref, user string, confirmed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.open {
		if q.Ref != "" && q.Ref == ref {
			return b.answerLocked(q, user, confirmed)
		}
	}
	return ErrUnknownQuestion
}

// ResolveLatest answers the newest question asked of user in channel. It
// backs the bare "yes"/"no" replies. It returns the answered ID.
func (b *Broker) ResolveLatest(channel, user string, confirmed bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var latest *question
	for _, q := range b.open {
		if q.Channel != channel || q.User != user {
			continue
		}
		if latest == nil || q.CreatedAt.After(latest.CreatedAt) {
			latest = q
		}
	}
	if latest == nil {
		return "", ErrUnknownQuestion
	}
	return latest.ID, b.answerLocked(latest, user, confirmed)
}

func (b *Broker) answerLocked(q *question, user string, confirmed bool) error {
	if q.User != user {
		return ErrNotRequester
	}
	o := Cancelled
	if confirmed {
		o = Confirmed
	}
	select {
	case q.answer <- o:
	default:
		// Already answered; the first answer wins.
	}
	return nil
}

// Open returns a snapshot of the open questions.
func (b *Broker) Open() []Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Pending, 0, len(b.open))
	for _, q := range b.open {
		out = append(out, q.Pending)
	}
	return out
}
