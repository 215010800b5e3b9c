package commands_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/commands"
	"github.com/bdobrica/Chatter/internal/chatter/config"
	"github.com/bdobrica/Chatter/internal/chatter/confirm"
	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/llm"
	"github.com/bdobrica/Chatter/internal/chatter/orchestrator"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
	"github.com/bdobrica/Chatter/internal/chatter/session"
	"github.com/bdobrica/Chatter/internal/chatter/store"
)

const (
	guild = "!space:example.org"
	room  = "!room:example.org"
	alice = "@alice:example.org"
	bob   = "@bob:example.org"
)

// fixture wires the handlers to a temporary SQLite database, a scripted
// provider and an Asker that answers with a preset outcome.
type fixture struct {
	h        *commands.Handlers
	router   *commands.Router
	reg      *persona.SQLiteRegistry
	log      *history.SQLiteLog
	settings config.Store
	sessions *session.Manager

	mu        sync.Mutex
	answer    confirm.Outcome
	asked     []string
	finish    string
	delivered []*session.Reply
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "commands.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		reg:      persona.NewSQLiteRegistry(s, persona.DefaultLimits(), nil),
		log:      history.NewSQLiteLog(s, nil),
		settings: config.New(s),
		answer:   confirm.Confirmed,
		finish:   llm.FinishStop,
	}
	provider := llm.ProviderFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		last := req.Messages[len(req.Messages)-1]
		return &llm.Response{Text: "echo: " + last.Content, FinishReason: f.finish}, nil
	})
	asker := confirm.AskerFunc(func(_ context.Context, req confirm.Request) (confirm.Outcome, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.asked = append(f.asked, req.Prompt)
		return f.answer, nil
	})

	f.sessions = session.New(session.Config{
		Completer: orchestrator.New(provider, orchestrator.Config{}),
		Asker:     asker,
	})
	t.Cleanup(f.sessions.Close)

	f.h = commands.NewHandlers(commands.HandlersConfig{
		GuildID:  guild,
		Registry: f.reg,
		Log:      f.log,
		Sessions: f.sessions,
		Settings: f.settings,
		Asker:    asker,
	})
	f.router = commands.NewRouter(commands.Prefix, commands.BoolFlags...)
	f.h.Register(f.router)
	return f
}

func (f *fixture) set(answer confirm.Outcome, finish string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer, f.finish = answer, finish
}

func (f *fixture) questions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.asked...)
}

func fakeEvent(sender string) *event.Event {
	return &event.Event{Sender: id.UserID(sender), RoomID: id.RoomID(room)}
}

// run routes text as sent by sender.
func (f *fixture) run(t *testing.T, sender, text string) (string, error) {
	t.Helper()
	return f.router.Route(context.Background(), text, fakeEvent(sender))
}

func (f *fixture) mustRun(t *testing.T, sender, text string) string {
	t.Helper()
	resp, err := f.run(t, sender, text)
	if err != nil {
		t.Fatalf("%s: %v", text, err)
	}
	return resp
}

func (f *fixture) setupMarvin(t *testing.T) *persona.Persona {
	t.Helper()
	f.mustRun(t, alice, `/chatter chatbot setup Marvin --prompt "You are Marvin, a depressed robot." --description "brain the size of a planet"`)
	p, err := f.reg.FindByName(context.Background(), guild, "Marvin")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	return p
}

func (f *fixture) mention(t *testing.T, body string) *session.Reply {
	t.Helper()
	r, err := f.sessions.HandleMessage(context.Background(), session.Inbound{
		Channel:   room,
		Author:    alice,
		Speaker:   "alice",
		Body:      body,
		EventID:   "$" + body,
		Mentioned: true,
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	return r
}

// --- general ----------------------------------------------------------------

func TestHandleHelp_ContainsKeywords(t *testing.T) {
	f := newFixture(t)
	resp := f.mustRun(t, alice, "/chatter help")
	for _, kw := range []string{"chat temp", "chat load", "chatbot setup", "config"} {
		if !strings.Contains(resp, kw) {
			t.Errorf("help missing %q", kw)
		}
	}
}

func TestHandleVersion(t *testing.T) {
	f := newFixture(t)
	if resp := f.mustRun(t, alice, "/chatter version"); !strings.HasPrefix(resp, "Chatter ") {
		t.Errorf("version = %q", resp)
	}
}

// --- chatbot ----------------------------------------------------------------

func TestHandleChatbotSetup_CreatesPersona(t *testing.T) {
	f := newFixture(t)
	p := f.setupMarvin(t)

	if p.SystemPrompt != "You are Marvin, a depressed robot." {
		t.Errorf("prompt = %q", p.SystemPrompt)
	}
	if p.Description != "brain the size of a planet" || p.CreatorID != alice {
		t.Errorf("persona = %+v", p)
	}
	if p.Temperature != persona.DefaultTemperature || p.ContextBudget != persona.DefaultContextBudget {
		t.Errorf("defaults not applied: %+v", p)
	}
	if len(f.questions()) != 0 {
		t.Errorf("a new persona should not ask, asked %v", f.questions())
	}
}

func TestHandleChatbotSetup_MissingPrompt(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, alice, "/chatter chatbot setup Marvin")
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("got %v, want usage error", err)
	}
}

func TestHandleChatbotSetup_InvalidTemperature(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, alice, `/chatter chatbot setup Marvin --prompt "x" --temperature 5`)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Field != "temperature" {
		t.Fatalf("got %v, want temperature ValidationError", err)
	}
}

func TestHandleChatbotSetup_OverwriteDeclined(t *testing.T) {
	f := newFixture(t)
	before := f.setupMarvin(t)

	f.set(confirm.Cancelled, llm.FinishStop)
	resp := f.mustRun(t, bob, `/chatter chatbot setup marvin --prompt "You are cheerful."`)
	if !strings.Contains(resp, "Kept the existing") {
		t.Errorf("resp = %q", resp)
	}
	after, err := f.reg.Get(context.Background(), guild, before.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.SystemPrompt != before.SystemPrompt {
		t.Errorf("declined overwrite changed the prompt to %q", after.SystemPrompt)
	}
	if len(f.questions()) != 1 {
		t.Errorf("asked %d questions, want 1", len(f.questions()))
	}
}

func TestHandleChatbotSetup_OverwriteKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	before := f.setupMarvin(t)
	f.mustRun(t, alice, "/chatter chatbot block Marvin @troll:example.org")

	f.mustRun(t, alice, `/chatter chatbot setup Marvin --prompt "You are cheerful."`)
	list, err := f.reg.List(context.Background(), guild)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d personas, want 1", len(list))
	}
	got := list[0]
	if got.ID != before.ID || got.SystemPrompt != "You are cheerful." {
		t.Errorf("overwrite = %+v", got)
	}
	if !got.IsBlocked("@troll:example.org") {
		t.Error("overwrite dropped the block-list")
	}
}

func TestHandleChatbotSetup_PromptExceedsBudget(t *testing.T) {
	f := newFixture(t)
	prompt := strings.Repeat("word ", 20) // 100 runes, 25 tokens
	_, err := f.run(t, alice, `/chatter chatbot setup Big --budget 10 --prompt "`+prompt+`"`)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Field != "system_prompt" {
		t.Fatalf("got %v, want system_prompt ValidationError", err)
	}
}

func TestHandleChatbotSetup_LargePromptNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	prompt := strings.Repeat("word ", 20) // 25 tokens of a 40 token budget

	f.set(confirm.TimedOut, llm.FinishStop)
	resp := f.mustRun(t, alice, `/chatter chatbot setup Big --budget 40 --prompt "`+prompt+`"`)
	if !strings.Contains(resp, "not saved") {
		t.Errorf("resp = %q", resp)
	}
	if _, err := f.reg.FindByName(context.Background(), guild, "Big"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("persona saved despite timeout: %v", err)
	}

	f.set(confirm.Confirmed, llm.FinishStop)
	f.mustRun(t, alice, `/chatter chatbot setup Big --budget 40 --prompt "`+prompt+`"`)
	if _, err := f.reg.FindByName(context.Background(), guild, "Big"); err != nil {
		t.Fatalf("confirmed persona not saved: %v", err)
	}
}

func TestHandleChatbotList(t *testing.T) {
	f := newFixture(t)
	if resp := f.mustRun(t, alice, "/chatter chatbot list"); !strings.Contains(resp, "No personas") {
		t.Errorf("empty list = %q", resp)
	}
	p := f.setupMarvin(t)
	resp := f.mustRun(t, alice, "/chatter chatbot list")
	if !strings.Contains(resp, p.ID) || !strings.Contains(resp, "Marvin") || !strings.Contains(resp, "(1/20)") {
		t.Errorf("list = %q", resp)
	}
}

func TestHandleChatbotShow(t *testing.T) {
	f := newFixture(t)
	p := f.setupMarvin(t)

	f.mustRun(t, alice, "/chatter chat load Marvin")
	f.mention(t, "hello")

	resp := f.mustRun(t, alice, "/chatter chatbot show "+p.ID)
	for _, want := range []string{"**Marvin**", "temperature: 0.80", "used 1 times, 1 replies", p.SystemPrompt} {
		if !strings.Contains(resp, want) {
			t.Errorf("show missing %q:\n%s", want, resp)
		}
	}
}

func TestHandleChatbotShow_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, alice, "/chatter chatbot show ghost")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if msg := apperr.UserMessage(err); msg != `persona "ghost" does not exist` {
		t.Errorf("UserMessage = %q", msg)
	}
}

func TestHandleChatbotDelete_DetachesSessions(t *testing.T) {
	f := newFixture(t)
	p := f.setupMarvin(t)
	f.mustRun(t, alice, "/chatter chat load Marvin")
	f.mention(t, "hello")

	f.set(confirm.Cancelled, llm.FinishStop)
	if resp := f.mustRun(t, alice, "/chatter chatbot delete Marvin"); !strings.Contains(resp, "Kept") {
		t.Errorf("declined delete = %q", resp)
	}
	if f.sessions.State(room) != session.Active {
		t.Fatal("declined delete detached the session")
	}

	f.set(confirm.Confirmed, llm.FinishStop)
	f.mustRun(t, alice, "/chatter chatbot delete Marvin")
	if _, err := f.reg.Get(context.Background(), guild, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("persona still stored: %v", err)
	}
	n, err := f.log.Count(context.Background(), history.Key{GuildID: guild, PersonaID: p.ID, Conversation: 1})
	if err != nil || n != 0 {
		t.Errorf("history left behind: %d, %v", n, err)
	}
	if f.sessions.State(room) != session.Unattached {
		t.Error("session of the deleted persona still attached")
	}
}

func TestHandleChatbotBlock(t *testing.T) {
	f := newFixture(t)
	f.setupMarvin(t)
	f.mustRun(t, alice, "/chatter chat load Marvin")

	if resp := f.mustRun(t, alice, "/chatter chatbot block Marvin @troll:example.org"); !strings.Contains(resp, "blocked @troll") {
		t.Errorf("block = %q", resp)
	}
	if resp := f.mustRun(t, alice, "/chatter chatbot block Marvin @troll:example.org"); !strings.Contains(resp, "already blocked") {
		t.Errorf("second block = %q", resp)
	}
	if resp := f.mustRun(t, alice, "/chatter chatbot blocklist Marvin"); !strings.Contains(resp, "- @troll:example.org") {
		t.Errorf("blocklist = %q", resp)
	}

	// The live session picks up the block.
	r, err := f.sessions.HandleMessage(context.Background(), session.Inbound{
		Channel: room, Author: "@troll:example.org", Body: "hi", Mentioned: true,
	})
	if err != nil || r != nil {
		t.Fatalf("blocked sender got %v, %v", r, err)
	}

	f.mustRun(t, alice, "/chatter chatbot unblock Marvin @troll:example.org")
	if resp := f.mustRun(t, alice, "/chatter chatbot blocklist Marvin"); !strings.Contains(resp, "Nobody") {
		t.Errorf("blocklist after unblock = %q", resp)
	}
}

func TestHandleChatbotBlock_InvalidTarget(t *testing.T) {
	f := newFixture(t)
	f.setupMarvin(t)
	_, err := f.run(t, alice, "/chatter chatbot block Marvin troll")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

// --- chat -------------------------------------------------------------------

func TestHandleChatTemp(t *testing.T) {
	f := newFixture(t)
	resp := f.mustRun(t, alice, "/chatter chat temp You are a pirate. --temperature 1.2")
	if !strings.Contains(resp, "temporary persona") {
		t.Errorf("resp = %q", resp)
	}
	info, ok := f.sessions.Current(room)
	if !ok || info.Durable || info.Requester != alice {
		t.Fatalf("session = %+v, %v", info, ok)
	}
	if r := f.mention(t, "ahoy"); r.Text != "echo: ahoy" {
		t.Errorf("reply = %q", r.Text)
	}
}

func TestHandleChatLoad_ResumeAndFresh(t *testing.T) {
	f := newFixture(t)
	f.setupMarvin(t)

	resp := f.mustRun(t, alice, "/chatter chat load marvin")
	if !strings.Contains(resp, "conversation 1") {
		t.Errorf("first load = %q", resp)
	}
	f.mention(t, "hello")

	resp = f.mustRun(t, alice, "/chatter chat load Marvin")
	if !strings.Contains(resp, "resuming conversation 1 (2 messages)") {
		t.Errorf("resume = %q", resp)
	}

	resp = f.mustRun(t, alice, "/chatter chat load Marvin --fresh --auto")
	if !strings.Contains(resp, "conversation 2") {
		t.Errorf("fresh = %q", resp)
	}
	if info, _ := f.sessions.Current(room); !info.AutoReply || info.Turns != 0 {
		t.Errorf("fresh session = %+v", info)
	}
}

func TestHandleChatLoad_ReplaceDeclined(t *testing.T) {
	f := newFixture(t)
	f.setupMarvin(t)
	f.mustRun(t, alice, "/chatter chat load Marvin")

	f.set(confirm.Cancelled, llm.FinishStop)
	resp := f.mustRun(t, bob, "/chatter chat temp You are a pirate.")
	if resp != "Kept the current session." {
		t.Errorf("resp = %q", resp)
	}
	if info, _ := f.sessions.Current(room); info.PersonaName != "Marvin" {
		t.Errorf("session replaced by %q", info.PersonaName)
	}
}

func TestHandleChatLoad_UnknownPersona(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, alice, "/chatter chat load ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestHandleChatCurrentAndRemove(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, alice, "/chatter chat current"); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("current without session: %v", err)
	}

	f.setupMarvin(t)
	f.mustRun(t, alice, "/chatter chat load Marvin --debug")
	resp := f.mustRun(t, alice, "/chatter chat current")
	if !strings.Contains(resp, "**Marvin**") || !strings.Contains(resp, "debug on") {
		t.Errorf("current = %q", resp)
	}

	if resp := f.mustRun(t, alice, "/chatter chat remove"); !strings.Contains(resp, "history is kept") {
		t.Errorf("remove = %q", resp)
	}
	if f.sessions.State(room) != session.Unattached {
		t.Error("session still attached")
	}
	if _, err := f.run(t, alice, "/chatter chat remove"); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("second remove: %v", err)
	}
}

func TestHandleChatWipe(t *testing.T) {
	f := newFixture(t)
	f.setupMarvin(t)
	f.mustRun(t, alice, "/chatter chat load Marvin")
	f.mention(t, "hello")

	resp := f.mustRun(t, alice, "/chatter chat wipe")
	if !strings.Contains(resp, "conversation 2") {
		t.Errorf("wipe = %q", resp)
	}
	if info, _ := f.sessions.Current(room); info.Turns != 0 {
		t.Errorf("turns after wipe = %d", info.Turns)
	}
}

func TestHandleChatAuto(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, alice, "/chatter chat temp You are terse.")

	f.mustRun(t, alice, "/chatter chat auto on")
	if info, _ := f.sessions.Current(room); !info.AutoReply {
		t.Error("auto-reply not enabled")
	}
	f.mustRun(t, alice, "/chatter chat auto OFF")
	if info, _ := f.sessions.Current(room); info.AutoReply {
		t.Error("auto-reply not disabled")
	}
	if _, err := f.run(t, alice, "/chatter chat auto maybe"); err == nil {
		t.Error("expected usage error")
	}
}

func TestHandleChatContinue(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, alice, "/chatter chat temp You are verbose.")

	f.set(confirm.Confirmed, llm.FinishLength)
	if r := f.mention(t, "tell me a story"); !r.Truncated {
		t.Fatal("reply not marked truncated")
	}
	if f.sessions.State(room) != session.AwaitingContinuation {
		t.Fatalf("state = %v", f.sessions.State(room))
	}

	if _, err := f.run(t, bob, "/chatter chat continue"); !errors.Is(err, session.ErrNotRequester) {
		t.Fatalf("continue by another user: %v", err)
	}

	f.set(confirm.Confirmed, llm.FinishStop)
	resp := f.mustRun(t, alice, "/chatter chat continue")
	if !strings.HasPrefix(resp, "echo: ") || strings.Contains(resp, "cut off") {
		t.Errorf("continue = %q", resp)
	}
	if f.sessions.State(room) != session.Active {
		t.Errorf("state after continue = %v", f.sessions.State(room))
	}
	if _, err := f.run(t, alice, "/chatter chat continue"); !errors.Is(err, session.ErrNotAwaiting) {
		t.Errorf("second continue: %v", err)
	}
}

func TestHandleChatContinue_Deliver(t *testing.T) {
	f := newFixture(t)
	var got []*session.Reply
	h := commands.NewHandlers(commands.HandlersConfig{
		GuildID:  guild,
		Registry: f.reg,
		Log:      f.log,
		Sessions: f.sessions,
		Deliver: func(_ context.Context, r string, reply *session.Reply) error {
			if r != room {
				t.Errorf("delivered to %q", r)
			}
			got = append(got, reply)
			return nil
		},
	})
	f.mustRun(t, alice, "/chatter chat temp You are verbose.")
	f.set(confirm.Confirmed, llm.FinishLength)
	f.mention(t, "go on")

	resp, err := h.HandleChatContinue(context.Background(), &commands.Command{}, fakeEvent(alice))
	if err != nil || resp != "" {
		t.Fatalf("continue = %q, %v", resp, err)
	}
	if len(got) != 1 || !got[0].Truncated {
		t.Fatalf("delivered %+v", got)
	}
}

func TestHandleChatDismiss(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, alice, "/chatter chat temp You are verbose.")
	f.set(confirm.Confirmed, llm.FinishLength)
	f.mention(t, "tell me a story")

	if resp := f.mustRun(t, alice, "/chatter chat dismiss"); !strings.Contains(resp, "Dismissed") {
		t.Errorf("dismiss = %q", resp)
	}
	if f.sessions.State(room) != session.Active {
		t.Errorf("state after dismiss = %v", f.sessions.State(room))
	}
}

func TestHandleChatList(t *testing.T) {
	f := newFixture(t)
	if resp := f.mustRun(t, alice, "/chatter chat list"); resp != "No active sessions." {
		t.Errorf("empty list = %q", resp)
	}
	f.mustRun(t, alice, "/chatter chat temp You are a pirate.")
	resp := f.mustRun(t, alice, "/chatter chat list")
	if !strings.Contains(resp, "(1)") || !strings.Contains(resp, room) {
		t.Errorf("list = %q", resp)
	}
}

func TestFormatReply(t *testing.T) {
	r := &session.Reply{Text: "partial", Truncated: true, Diagnostics: "window: 2 turns"}
	got := commands.FormatReply(r)
	if !strings.HasPrefix(got, "partial\n\n`window: 2 turns`") || !strings.Contains(got, "chat continue") {
		t.Errorf("FormatReply = %q", got)
	}
	if got := commands.FormatReply(&session.Reply{Text: "done"}); got != "done" {
		t.Errorf("FormatReply = %q", got)
	}
}

// --- config -----------------------------------------------------------------

func TestHandleConfigSet_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.mustRun(t, alice, "/chatter config set chat.model gpt-4o-mini")
	if !strings.Contains(resp, "chat.model") || !strings.Contains(resp, "gpt-4o-mini") {
		t.Errorf("unexpected response: %q", resp)
	}
	got, err := f.settings.Get(ctx, config.KeyModel)
	if err != nil {
		t.Fatalf("config.Get: %v", err)
	}
	if got != "gpt-4o-mini" {
		t.Errorf("stored value: got %q, want %q", got, "gpt-4o-mini")
	}
}

func TestHandleConfigSet_Rejects(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{
		"/chatter config set unknown.key value",
		"/chatter config set chat.max_output_tokens 0",
		"/chatter config set chat.max_output_tokens lots",
		"/chatter config set chat.model",
	} {
		if _, err := f.run(t, alice, text); err == nil {
			t.Errorf("%s: expected error", text)
		}
	}
}

func TestHandleConfigGet(t *testing.T) {
	f := newFixture(t)
	if resp := f.mustRun(t, alice, "/chatter config get chat.model"); !strings.Contains(resp, "not set") {
		t.Errorf("unset get = %q", resp)
	}
	f.mustRun(t, alice, "/chatter config set chat.max_output_tokens 256")
	if resp := f.mustRun(t, alice, "/chatter config get chat.max_output_tokens"); !strings.Contains(resp, "256") {
		t.Errorf("get = %q", resp)
	}
	if _, err := f.run(t, alice, "/chatter config get nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestHandleConfigListAndUnset(t *testing.T) {
	f := newFixture(t)
	if resp := f.mustRun(t, alice, "/chatter config list"); !strings.Contains(resp, "No config values set") {
		t.Errorf("empty list = %q", resp)
	}

	f.mustRun(t, alice, "/chatter config set chat.model gpt-4o")
	resp := f.mustRun(t, alice, "/chatter config list")
	if !strings.Contains(resp, "chat.model") || !strings.Contains(resp, "gpt-4o") {
		t.Errorf("list = %q", resp)
	}

	f.mustRun(t, alice, "/chatter config unset chat.model")
	if _, err := f.settings.Get(context.Background(), config.KeyModel); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("after unset: %v", err)
	}
	// Unsetting again is harmless.
	f.mustRun(t, alice, "/chatter config unset chat.model")
}
