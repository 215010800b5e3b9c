package orchestrator_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/llm"
	"github.com/bdobrica/Chatter/internal/chatter/orchestrator"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
	"github.com/bdobrica/Chatter/internal/chatter/store"
	"github.com/bdobrica/Chatter/internal/chatter/tokens"
	"github.com/bdobrica/Chatter/internal/chatter/window"
)

const guild = "!space:example.org"

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	reg     *persona.SQLiteRegistry
	log     *history.SQLiteLog
	profile *persona.Durable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "orch.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	reg := persona.NewSQLiteRegistry(s, persona.DefaultLimits(), nil)
	log := history.NewSQLiteLog(s, nil)
	p := persona.Persona{GuildID: guild, ID: "marvin", Name: "Marvin", SystemPrompt: "Be gloomy.", Temperature: 0.3, ContextBudget: 200}
	if err := reg.Upsert(context.Background(), &p); err != nil {
		t.Fatal(err)
	}
	return &fixture{store: s, reg: reg, log: log, profile: persona.NewDurable(p, reg, log)}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.log.Count(context.Background(), history.Key{GuildID: guild, PersonaID: "marvin", Conversation: 1})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func call(f *fixture, content string) orchestrator.Call {
	user := history.Turn{Timestamp: t0, Role: history.RoleUser, Content: content, Speaker: "Ana", AuthorID: "@ana:x"}
	w := window.Build(window.Input{SystemPrompt: "Be gloomy.", Latest: user, Budget: 200, Counter: tokens.NewHeuristic()})
	return orchestrator.Call{
		Profile:      f.profile,
		Conversation: 1,
		Window:       w,
		Pending:      []history.Turn{user},
		Reply:        history.Turn{Timestamp: t0.Add(time.Millisecond), AuthorID: "@ana:x", ChannelID: "!room:x"},
	}
}

func reply(text, finish string, total int) llm.Provider {
	return llm.ProviderFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text, FinishReason: finish, Usage: llm.Usage{TotalTokens: total}}, nil
	})
}

func TestComplete_RecordsExchange(t *testing.T) {
	f := newFixture(t)
	var seen llm.Request
	provider := llm.ProviderFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		seen = req
		return &llm.Response{Text: "  Life. Loathe it or ignore it.  ", FinishReason: llm.FinishStop, Usage: llm.Usage{TotalTokens: 37}}, nil
	})
	o := orchestrator.New(provider, orchestrator.Config{Tuning: orchestrator.StaticTuning{ModelName: "m1", MaxTokens: 400}})

	res, err := o.Complete(context.Background(), call(f, "How are you?"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Text != "Life. Loathe it or ignore it." || res.Truncated || res.TokensUsed != 37 {
		t.Fatalf("unexpected result %+v", res)
	}
	if seen.Model != "m1" || seen.MaxTokens != 400 || seen.Temperature != 0.3 || len(seen.Messages) != 2 {
		t.Fatalf("unexpected request %+v", seen)
	}

	turns, _ := f.log.List(context.Background(), history.Key{GuildID: guild, PersonaID: "marvin", Conversation: 1}, time.Time{})
	if len(turns) != 2 || turns[0].Role != history.RoleUser || turns[1].Role != history.RoleAssistant {
		t.Fatalf("exchange not logged: %+v", turns)
	}
	if turns[1].Content != res.Text || turns[1].ChannelID != "!room:x" || turns[1].AuthorID != "@ana:x" {
		t.Fatalf("assistant turn mismatch: %+v", turns[1])
	}

	stats, _ := f.reg.Stats(context.Background(), guild, "marvin")
	if stats.Messages != 1 || stats.Tokens != 37 {
		t.Fatalf("stats not updated: %+v", stats)
	}
}

func TestComplete_Truncation(t *testing.T) {
	t.Run("finish reason length", func(t *testing.T) {
		f := newFixture(t)
		o := orchestrator.New(reply("It all started when", llm.FinishLength, 10), orchestrator.Config{})
		res, err := o.Complete(context.Background(), call(f, "story?"))
		if err != nil {
			t.Fatal(err)
		}
		if !res.Truncated || res.Text != "It all started when" {
			t.Fatalf("unexpected result %+v", res)
		}
		if f.count(t) != 2 {
			t.Fatal("a truncated reply is still logged")
		}
	})

	t.Run("over message limit", func(t *testing.T) {
		f := newFixture(t)
		long := strings.Repeat("é", 30)
		o := orchestrator.New(reply(long, llm.FinishStop, 10), orchestrator.Config{MessageLimit: 20})
		res, err := o.Complete(context.Background(), call(f, "talk"))
		if err != nil {
			t.Fatal(err)
		}
		if !res.Truncated || utf8.RuneCountInString(res.Text) != 20 || !strings.HasSuffix(res.Text, "...") {
			t.Fatalf("not clipped to the limit: %q", res.Text)
		}
		turns, _ := f.log.List(context.Background(), history.Key{GuildID: guild, PersonaID: "marvin", Conversation: 1}, time.Time{})
		if turns[1].Content != res.Text {
			t.Fatal("the logged reply must be the delivered text")
		}
	})
}

func TestComplete_FailureLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
		reason   string
	}{
		{"provider error", llm.ProviderFunc(func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, errors.New("connection reset")
		}), "provider error"},
		{"rate limited", llm.ProviderFunc(func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, llm.ErrRateLimit
		}), "provider rate limit"},
		{"empty choices", llm.ProviderFunc(func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, llm.ErrNoChoices
		}), "empty choice list"},
		{"blank text", reply("   ", llm.FinishStop, 3), "empty response"},
		{"panic", llm.ProviderFunc(func(context.Context, llm.Request) (*llm.Response, error) {
			panic("nil map")
		}), "internal error"},
		{"timeout", llm.ProviderFunc(func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := orchestrator.New(tt.provider, orchestrator.Config{CallTimeout: 20 * time.Millisecond})
			before := f.count(t)

			res, err := o.Complete(context.Background(), call(f, "hello?"))
			var cf *apperr.CompletionFailure
			if !errors.As(err, &cf) {
				t.Fatalf("expected CompletionFailure, got %v (%+v)", err, res)
			}
			if cf.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", cf.Reason, tt.reason)
			}
			if after := f.count(t); after != before {
				t.Fatalf("turn count changed from %d to %d", before, after)
			}
			if s, _ := f.reg.Stats(context.Background(), guild, "marvin"); s.Messages != 0 {
				t.Fatalf("stats changed on failure: %+v", s)
			}
		})
	}
}

func TestComplete_CallerCancellationDoesNotAbortExchange(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	provider := llm.ProviderFunc(func(c context.Context, _ llm.Request) (*llm.Response, error) {
		cancel()
		if c.Err() != nil {
			return nil, c.Err()
		}
		return &llm.Response{Text: "done anyway", FinishReason: llm.FinishStop}, nil
	})
	o := orchestrator.New(provider, orchestrator.Config{})
	if _, err := o.Complete(ctx, call(f, "go")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if f.count(t) != 2 {
		t.Fatal("exchange must be logged after caller cancellation")
	}
}

func TestComplete_EstimatesUsageWhenMissing(t *testing.T) {
	f := newFixture(t)
	o := orchestrator.New(reply("abcd", llm.FinishStop, 0), orchestrator.Config{
		Counter: tokens.CounterFunc(func(text, _ string) int { return len(text) }),
	})
	c := call(f, "hi")
	c.Window.Tokens = 10
	res, err := o.Complete(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.TokensUsed != 14 {
		t.Fatalf("TokensUsed = %d, want 14", res.TokensUsed)
	}
}

func TestComplete_StorageFailure(t *testing.T) {
	f := newFixture(t)
	o := orchestrator.New(reply("ok", llm.FinishStop, 5), orchestrator.Config{})
	f.store.Close()

	_, err := o.Complete(context.Background(), call(f, "hi"))
	var se *apperr.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}
