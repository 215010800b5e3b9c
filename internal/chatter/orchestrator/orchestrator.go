// Package orchestrator runs one completion exchange: it sends a built
// window to the provider, interprets truncation, and records the result in
// the persona's log and stats.
//
// Every provider failure, including a panic, comes back as an
// apperr.CompletionFailure and leaves the log untouched.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/llm"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
	"github.com/bdobrica/Chatter/internal/chatter/tokens"
	"github.com/bdobrica/Chatter/internal/chatter/window"
)

const (
	// DefaultMessageLimit is the longest reply delivered in one message.
	DefaultMessageLimit = 2000
	// DefaultMaxOutputTokens caps the provider's reply length.
	DefaultMaxOutputTokens = 400
	// DefaultCallTimeout bounds one provider round trip.
	DefaultCallTimeout = 90 * time.Second

	ellipsis = "..."
)

// Tuning supplies the runtime-adjustable request parameters.
type Tuning interface {
	Model(ctx context.Context) string
	MaxOutputTokens(ctx context.Context) int
}

// StaticTuning is a fixed Tuning.
type StaticTuning struct {
	ModelName string
	MaxTokens int
}

func (s StaticTuning) Model(context.Context) string        { return s.ModelName }
func (s StaticTuning) MaxOutputTokens(context.Context) int { return s.MaxTokens }

// Config configures an Orchestrator.
type Config struct {
	Tuning       Tuning
	MessageLimit int
	CallTimeout  time.Duration
	// Counter estimates usage when the provider reports none.
	Counter tokens.Counter
	Logger  *slog.Logger
	Now     func() time.Time
}

// Orchestrator drives completion exchanges. Safe for concurrent use.
type Orchestrator struct {
	provider llm.Provider
	tuning   Tuning
	limit    int
	timeout  time.Duration
	counter  tokens.Counter
	logger   *slog.Logger
	now      func() time.Time
}

// New returns an Orchestrator calling provider.
func New(provider llm.Provider, cfg Config) *Orchestrator {
	if cfg.Tuning == nil {
		cfg.Tuning = StaticTuning{ModelName: llm.DefaultModel, MaxTokens: DefaultMaxOutputTokens}
	}
	if cfg.MessageLimit <= len(ellipsis) {
		cfg.MessageLimit = DefaultMessageLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Counter == nil {
		cfg.Counter = tokens.NewHeuristic()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		provider: provider,
		tuning:   cfg.Tuning,
		limit:    cfg.MessageLimit,
		timeout:  cfg.CallTimeout,
		counter:  cfg.Counter,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// MessageLimit returns the single-message length limit in characters.
func (o *Orchestrator) MessageLimit() int { return o.limit }

// Call is one exchange.
type Call struct {
	Profile      persona.Profile
	Conversation int
	Window       window.Window
	// Pending turns are recorded together with the reply, in the same
	// transaction. For a normal exchange this is the triggering user turn;
	// for a continuation it is empty because the prompt is synthetic.
	Pending []history.Turn
	// Reply carries the timestamp and addressing of the assistant turn.
	// Role and Content are filled in.
	Reply history.Turn
}

// Result is a delivered reply.
type Result struct {
	Text         string
	TokensUsed   int
	Truncated    bool
	FinishReason string
	Turn         history.Turn
}

// Complete sends call.Window and records the exchange. The provider call
// and the recording run detached from ctx cancellation: once dispatched,
// an exchange always finishes and is logged.
func (o *Orchestrator) Complete(ctx context.Context, call Call) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator: recovered panic", "panic", r)
			res, err = nil, &apperr.CompletionFailure{Reason: "internal error", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	detached := context.WithoutCancel(ctx)
	model := o.tuning.Model(ctx)
	req := llm.Request{
		Model:       model,
		Temperature: call.Profile.Temperature(),
		MaxTokens:   o.tuning.MaxOutputTokens(ctx),
		Messages:    call.Window.Messages,
	}

	callCtx, cancel := context.WithTimeout(detached, o.timeout)
	start := o.now()
	resp, err := o.provider.Complete(callCtx, req)
	cancel()
	if err != nil {
		o.logger.Warn("orchestrator: completion failed", "persona", call.Profile.Name(), "err", err)
		return nil, &apperr.CompletionFailure{Reason: failureReason(err), Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, &apperr.CompletionFailure{Reason: "empty response"}
	}

	text, cut := o.clip(strings.TrimSpace(resp.Text))
	result := &Result{
		Text:         text,
		FinishReason: resp.FinishReason,
		Truncated:    cut || resp.FinishReason != llm.FinishStop,
		TokensUsed:   resp.Usage.TotalTokens,
	}
	if result.TokensUsed <= 0 {
		result.TokensUsed = call.Window.Tokens + o.counter.Count(text, model)
	}

	reply := call.Reply
	reply.Role = history.RoleAssistant
	reply.Content = text
	if reply.Timestamp.IsZero() {
		reply.Timestamp = o.now()
	}
	result.Turn = reply

	turns := make([]history.Turn, 0, len(call.Pending)+1)
	turns = append(turns, call.Pending...)
	turns = append(turns, reply)
	if err := call.Profile.RecordTurns(detached, call.Conversation, turns...); err != nil {
		return nil, apperr.Storage("orchestrator.record", err)
	}
	if err := call.Profile.RecordUsage(detached, result.TokensUsed, o.now()); err != nil {
		o.logger.Warn("orchestrator: usage stats not updated", "persona", call.Profile.Name(), "err", err)
	}

	o.logger.Debug("orchestrator: exchange complete",
		"persona", call.Profile.Name(),
		"conversation", call.Conversation,
		"tokens", result.TokensUsed,
		"finish", resp.FinishReason,
		"truncated", result.Truncated,
		"elapsed", o.now().Sub(start))
	return result, nil
}

// clip hard-cuts text to the message limit, ending it with an ellipsis.
func (o *Orchestrator) clip(text string) (string, bool) {
	if utf8.RuneCountInString(text) <= o.limit {
		return text, false
	}
	r := []rune(text)
	return string(r[:o.limit-len(ellipsis)]) + ellipsis, true
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrRateLimit):
		return "provider rate limit"
	case errors.Is(err, llm.ErrNoChoices):
		return "empty choice list"
	default:
		return "provider error"
	}
}
