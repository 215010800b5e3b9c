package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Chatter/internal/chatter/confirm"
	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/llm"
	"github.com/bdobrica/Chatter/internal/chatter/orchestrator"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
	"github.com/bdobrica/Chatter/internal/chatter/tokens"
	"github.com/bdobrica/Chatter/internal/chatter/window"
)

// Completer runs one exchange. *orchestrator.Orchestrator implements it.
type Completer interface {
	Complete(ctx context.Context, call orchestrator.Call) (*orchestrator.Result, error)
}

// Config configures a Manager.
type Config struct {
	Completer Completer
	// Asker confirms replacing a durable session. Nil replaces without
	// asking.
	Asker   confirm.Asker
	Counter tokens.Counter
	// Tuning provides the model name used for token estimates.
	Tuning          orchestrator.Tuning
	ContinueTimeout time.Duration
	ContinuePrompt  string
	// OnContinueExpired is called from the channel's lane when a cut reply
	// was neither continued nor dismissed in time.
	OnContinueExpired func(channel string)
	Logger            *slog.Logger
	Now               func() time.Time
}

// Manager is the process-wide session store. Safe for concurrent use.
type Manager struct {
	completer       Completer
	asker           confirm.Asker
	counter         tokens.Counter
	tuning          orchestrator.Tuning
	continueTimeout time.Duration
	continuePrompt  string
	onExpired       func(channel string)
	logger          *slog.Logger
	now             func() time.Time

	// mu guards sessions, lanes and the fields of every session. It is
	// never held across a storage or provider call.
	mu       sync.Mutex
	sessions map[string]*session
	lanes    map[string]*lane
}

// New creates a Manager.
func New(cfg Config) *Manager {
	if cfg.Counter == nil {
		cfg.Counter = tokens.NewHeuristic()
	}
	if cfg.Tuning == nil {
		cfg.Tuning = orchestrator.StaticTuning{ModelName: llm.DefaultModel, MaxTokens: orchestrator.DefaultMaxOutputTokens}
	}
	if cfg.ContinueTimeout <= 0 {
		cfg.ContinueTimeout = DefaultContinueTimeout
	}
	if cfg.ContinuePrompt == "" {
		cfg.ContinuePrompt = DefaultContinuePrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		completer:       cfg.Completer,
		asker:           cfg.Asker,
		counter:         cfg.Counter,
		tuning:          cfg.Tuning,
		continueTimeout: cfg.ContinueTimeout,
		continuePrompt:  cfg.ContinuePrompt,
		onExpired:       cfg.OnContinueExpired,
		logger:          cfg.Logger,
		now:             cfg.Now,
		sessions:        make(map[string]*session),
		lanes:           make(map[string]*lane),
	}
}

// Current returns the session of channel, if any.
func (m *Manager) Current(channel string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[channel]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// State returns the state of channel.
func (m *Manager) State(channel string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[channel]; ok {
		return s.state
	}
	return Unattached
}

// Sessions lists every live session ordered by channel.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Attach binds req.Profile to req.Channel. A durable session already in
// the channel is only replaced after its replacement is confirmed by
// req.Requester; the question is asked outside the lane so the channel
// keeps serving messages meanwhile.
func (m *Manager) Attach(ctx context.Context, req AttachRequest) (Info, error) {
	if req.Channel == "" || req.Profile == nil {
		return Info{}, fmt.Errorf("session: attach: channel and profile are required")
	}

	if cur, ok := m.Current(req.Channel); ok && cur.Durable && m.asker != nil {
		outcome, err := m.asker.Ask(ctx, confirm.Request{
			Channel: req.Channel,
			User:    req.Requester,
			Prompt:  fmt.Sprintf("This room is talking to %s. Replace it with %s?", cur.PersonaName, req.Profile.Name()),
		})
		if err != nil {
			return Info{}, fmt.Errorf("session: attach: %w", err)
		}
		if outcome != confirm.Confirmed {
			return Info{}, fmt.Errorf("%w (%s)", ErrReplaceDeclined, outcome)
		}
	}

	var info Info
	err := m.do(ctx, req.Channel, func(ctx context.Context) error {
		s, err := m.open(ctx, req)
		if err != nil {
			return err
		}

		m.mu.Lock()
		if old, ok := m.sessions[req.Channel]; ok {
			old.settle()
		}
		m.sessions[req.Channel] = s
		info = s.info()
		m.mu.Unlock()

		if err := req.Profile.RecordAttach(ctx, s.attachedAt); err != nil {
			m.logger.Warn("session: attach not counted", "persona", req.Profile.Name(), "err", err)
		}
		m.logger.Info("session: attached",
			"channel", req.Channel,
			"persona", info.PersonaName,
			"conversation", info.Conversation,
			"turns", info.Turns,
			"resume", req.Resume)
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

// open builds a session for req, loading history when resuming.
func (m *Manager) open(ctx context.Context, req AttachRequest) (*session, error) {
	s := &session{
		id:         uuid.NewString(),
		channel:    req.Channel,
		profile:    req.Profile,
		state:      Active,
		requester:  req.Requester,
		autoReply:  req.AutoReply,
		debug:      req.Debug,
		attachedAt: m.now().UTC(),
	}
	if !req.Profile.Durable() {
		return s, nil
	}

	latest, err := req.Profile.LatestConversation(ctx)
	if err != nil {
		return nil, err
	}
	if !req.Resume {
		s.conversation = latest + 1
		return s, nil
	}

	s.conversation = max(latest, 1)
	turns, err := req.Profile.LoadTurns(ctx, s.conversation)
	if err != nil {
		return nil, err
	}
	s.remember(turns...)
	if n := len(s.turns); n > 0 {
		s.lastStamp = s.turns[n-1].Timestamp
	}
	return s, nil
}

// Detach removes the session of channel. History is kept.
func (m *Manager) Detach(ctx context.Context, channel string) (Info, error) {
	return m.detach(ctx, channel, nil)
}

// detach removes the session of channel if match accepts it.
func (m *Manager) detach(ctx context.Context, channel string, match func(*session) bool) (Info, error) {
	var info Info
	err := m.do(ctx, channel, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.sessions[channel]
		if !ok || (match != nil && !match(s)) {
			return ErrNoSession
		}
		s.settle()
		delete(m.sessions, channel)
		info = s.info()
		info.State = Unattached
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	m.logger.Info("session: detached", "channel", channel, "persona", info.PersonaName)
	return info, nil
}

// Wipe starts the session of channel over. A durable persona moves to a
// new conversation partition so the old turns stay stored but out of the
// window; an ephemeral persona just forgets its turns.
func (m *Manager) Wipe(ctx context.Context, channel string) (Info, error) {
	var info Info
	err := m.do(ctx, channel, func(ctx context.Context) error {
		m.mu.Lock()
		s, ok := m.sessions[channel]
		if !ok {
			m.mu.Unlock()
			return ErrNoSession
		}
		profile, current := s.profile, s.conversation
		m.mu.Unlock()

		next := current
		if profile.Durable() {
			latest, err := profile.LatestConversation(ctx)
			if err != nil {
				return err
			}
			next = max(current, latest) + 1
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		s.settle()
		s.turns = nil
		s.conversation = next
		if profile.Durable() {
			s.id = uuid.NewString()
		}
		info = s.info()
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	m.logger.Info("session: wiped", "channel", channel, "persona", info.PersonaName, "conversation", info.Conversation)
	return info, nil
}

// SetAutoReply toggles replying to every message in threads.
func (m *Manager) SetAutoReply(ctx context.Context, channel string, on bool) error {
	return m.do(ctx, channel, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.sessions[channel]
		if !ok {
			return ErrNoSession
		}
		s.autoReply = on
		return nil
	})
}

// HandleMessage answers in if it qualifies: the bot is mentioned, the
// message replies to the bot, or it is posted in a thread while auto-reply
// is on. It returns nil, nil for a message that is not for the persona.
func (m *Manager) HandleMessage(ctx context.Context, in Inbound) (*Reply, error) {
	var reply *Reply
	err := m.do(ctx, in.Channel, func(ctx context.Context) error {
		r, err := m.handle(ctx, in)
		reply = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Submit queues in on its channel's lane and returns at once. deliver runs
// in the lane with the outcome of HandleMessage, so replies leave in the
// order the messages arrived. deliver is called exactly once; it gets a
// nil reply and a nil error when the message never reached the persona.
func (m *Manager) Submit(ctx context.Context, in Inbound, deliver func(*Reply, error)) {
	m.lane(in.Channel).post(func() {
		if ctx.Err() != nil {
			deliver(nil, nil)
			return
		}
		var reply *Reply
		err := m.run(ctx, in.Channel, func(ctx context.Context) error {
			r, err := m.handle(ctx, in)
			reply = r
			return err
		})
		deliver(reply, err)
	})
}

func (m *Manager) handle(ctx context.Context, in Inbound) (*Reply, error) {
	m.mu.Lock()
	s, ok := m.sessions[in.Channel]
	if !ok || !in.Qualifies(s.autoReply) || strings.TrimSpace(in.Body) == "" {
		m.mu.Unlock()
		return nil, nil
	}
	if s.profile.Blocked(in.Author) || s.profile.Blocked(in.Channel) {
		m.mu.Unlock()
		m.logger.Debug("session: ignoring blocked sender", "channel", in.Channel, "author", in.Author)
		return nil, nil
	}
	// A new message supersedes a pending continuation.
	s.settle()
	user := history.Turn{
		Timestamp:  s.stamp(m.now()),
		Role:       history.RoleUser,
		Content:    strings.TrimSpace(in.Body),
		Speaker:    in.Speaker,
		AuthorID:   in.Author,
		ChannelID:  in.Channel,
		MessageRef: in.EventID,
	}
	m.mu.Unlock()

	if err := user.Validate(); err != nil {
		return nil, err
	}
	r, err := m.exchange(ctx, s, user, []history.Turn{user}, in.Author, in.ThreadRoot)
	if err != nil {
		return nil, err
	}
	r.InReplyTo = in.EventID
	return r, nil
}

// Continue resumes the cut reply of channel on behalf of user.
func (m *Manager) Continue(ctx context.Context, channel, user string) (*Reply, error) {
	var reply *Reply
	err := m.do(ctx, channel, func(ctx context.Context) error {
		m.mu.Lock()
		s, ok := m.sessions[channel]
		if !ok {
			m.mu.Unlock()
			return ErrNoSession
		}
		if s.state != AwaitingContinuation {
			m.mu.Unlock()
			return ErrNotAwaiting
		}
		if s.awaitingUser != user {
			m.mu.Unlock()
			return ErrNotRequester
		}
		thread := s.awaitingThread
		s.settle()
		prompt := history.Turn{
			Timestamp: s.stamp(m.now()),
			Role:      history.RoleUser,
			Content:   m.continuePrompt,
			AuthorID:  user,
			ChannelID: channel,
		}
		m.mu.Unlock()

		r, err := m.exchange(ctx, s, prompt, nil, user, thread)
		if err != nil {
			// The cut reply can still be continued after a failed attempt.
			m.mu.Lock()
			if m.sessions[channel] == s {
				m.awaitLocked(s, user, thread)
			}
			m.mu.Unlock()
			return err
		}
		reply = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Dismiss drops the continue affordance of channel. The cut reply stays
// delivered and logged.
func (m *Manager) Dismiss(ctx context.Context, channel, user string) error {
	return m.do(ctx, channel, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.sessions[channel]
		if !ok {
			return ErrNoSession
		}
		if s.state != AwaitingContinuation {
			return ErrNotAwaiting
		}
		if s.awaitingUser != user {
			return ErrNotRequester
		}
		s.settle()
		return nil
	})
}

// exchange builds the window with latest as the most recent turn, runs the
// completion and commits the outcome to s. pending are the turns logged
// along with the reply, which answers user in thread.
func (m *Manager) exchange(ctx context.Context, s *session, latest history.Turn, pending []history.Turn, user, thread string) (*Reply, error) {
	m.mu.Lock()
	profile := s.profile
	conversation := s.conversation
	debug := s.debug || profile.HasFlag(persona.FlagDebug)
	hist := append([]history.Turn(nil), s.turns...)
	replyAt := s.stamp(m.now())
	m.mu.Unlock()

	budget := profile.ContextBudget()
	w := window.Build(window.Input{
		SystemPrompt: profile.SystemPrompt(),
		History:      hist,
		Latest:       latest,
		Budget:       budget,
		Model:        m.tuning.Model(ctx),
		Counter:      m.counter,
		Blocked:      profile.Blocked,
	})
	if w.Degenerate {
		m.logger.Warn("session: system prompt exceeds the context budget", "persona", profile.Name(), "budget", budget)
	}

	res, err := m.completer.Complete(ctx, orchestrator.Call{
		Profile:      profile,
		Conversation: conversation,
		Window:       w,
		Pending:      pending,
		Reply:        history.Turn{Timestamp: replyAt, AuthorID: user, ChannelID: s.channel},
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// The session may have been detached or replaced while the call ran;
	// the exchange is logged either way but only a live session learns it.
	if m.sessions[s.channel] == s {
		s.remember(pending...)
		s.remember(res.Turn)
		if res.Truncated {
			m.awaitLocked(s, user, thread)
		}
	}

	reply := &Reply{
		Channel:    s.channel,
		Persona:    profile.Name(),
		Text:       res.Text,
		ThreadRoot: thread,
		TokensUsed: res.TokensUsed,
		Truncated:  res.Truncated,
	}
	if debug {
		reply.Diagnostics = fmt.Sprintf("%s, %d tokens used, finish %s", w.Summary(budget), res.TokensUsed, res.FinishReason)
	}
	return reply, nil
}

// awaitLocked moves s to AwaitingContinuation for user and arms the
// timeout. The expiry is posted to the lane so it is ordered with the
// channel's other jobs. m.mu must be held.
func (m *Manager) awaitLocked(s *session, user, thread string) {
	s.settle()
	s.state = AwaitingContinuation
	s.awaitingUser = user
	s.awaitingThread = thread
	gen := s.generation
	s.timer = time.AfterFunc(m.continueTimeout, func() {
		m.lane(s.channel).post(func() { m.expire(s, gen) })
	})
}

func (m *Manager) expire(s *session, gen uint64) {
	m.mu.Lock()
	if m.sessions[s.channel] != s || s.state != AwaitingContinuation || s.generation != gen {
		m.mu.Unlock()
		return
	}
	s.settle()
	m.mu.Unlock()

	m.logger.Debug("session: continuation expired", "channel", s.channel)
	if m.onExpired != nil {
		m.onExpired(s.channel)
	}
}

// ReloadPersona swaps the profile of every session bound to the durable
// persona of p, keeping their conversations. It returns how many sessions
// were refreshed.
func (m *Manager) ReloadPersona(ctx context.Context, p persona.Profile) (int, error) {
	n := 0
	for _, channel := range m.channelsOf(p.ID()) {
		err := m.do(ctx, channel, func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if s, ok := m.sessions[channel]; ok && s.profile.Durable() && s.profile.ID() == p.ID() {
				s.profile = p
				n++
			}
			return nil
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// DetachPersona removes every session bound to the durable persona id.
func (m *Manager) DetachPersona(ctx context.Context, id string) (int, error) {
	n := 0
	bound := func(s *session) bool { return s.profile.Durable() && s.profile.ID() == id }
	for _, channel := range m.channelsOf(id) {
		_, err := m.detach(ctx, channel, bound)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrNoSession):
		default:
			return n, err
		}
	}
	return n, nil
}

func (m *Manager) channelsOf(personaID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for channel, s := range m.sessions {
		if s.profile.Durable() && s.profile.ID() == personaID {
			out = append(out, channel)
		}
	}
	sort.Strings(out)
	return out
}

// Close stops every continuation timer and forgets all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, s := range m.sessions {
		s.settle()
		delete(m.sessions, channel)
	}
}
