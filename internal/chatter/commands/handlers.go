package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Chatter/common/version"
	"github.com/bdobrica/Chatter/internal/chatter/config"
	"github.com/bdobrica/Chatter/internal/chatter/confirm"
	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/orchestrator"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
	"github.com/bdobrica/Chatter/internal/chatter/session"
	"github.com/bdobrica/Chatter/internal/chatter/tokens"
)

// Prefix is the command prefix.
const Prefix = "/chatter"

// BoolFlags are the flags that never take a value.
var BoolFlags = []string{"fresh", "auto", "debug"}

// DeliverFunc sends a session reply to a room. It lets `chat continue`
// deliver the way mentions do, continue button included.
type DeliverFunc func(ctx context.Context, room string, reply *session.Reply) error

// HandlersConfig holds the dependencies of the command handlers.
type HandlersConfig struct {
	// GuildID scopes personas; one Chatter process serves one space.
	GuildID  string
	Registry persona.Registry
	Limits   persona.Limits
	Log      history.Log
	Sessions *session.Manager
	Settings config.Store
	Tuning   orchestrator.Tuning
	Counter  tokens.Counter
	// Asker confirms destructive operations. Nil means no confirmation.
	Asker   confirm.Asker
	Deliver DeliverFunc
	Logger  *slog.Logger
}

// Handlers implements the Chatter commands.
type Handlers struct {
	guild    string
	registry persona.Registry
	limits   persona.Limits
	log      history.Log
	sessions *session.Manager
	settings config.Store
	tuning   orchestrator.Tuning
	counter  tokens.Counter
	asker    confirm.Asker
	deliver  DeliverFunc
	logger   *slog.Logger
}

// NewHandlers creates the handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Counter == nil {
		cfg.Counter = tokens.NewHeuristic()
	}
	if cfg.Limits == (persona.Limits{}) {
		cfg.Limits = persona.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{
		guild:    cfg.GuildID,
		registry: cfg.Registry,
		limits:   cfg.Limits,
		log:      cfg.Log,
		sessions: cfg.Sessions,
		settings: cfg.Settings,
		tuning:   cfg.Tuning,
		counter:  cfg.Counter,
		asker:    cfg.Asker,
		deliver:  cfg.Deliver,
		logger:   cfg.Logger,
	}
}

// Register wires every handler into r.
func (h *Handlers) Register(r *Router) {
	r.Register("help", h.HandleHelp)
	r.Register("version", h.HandleVersion)

	r.Register("chatbot.setup", h.HandleChatbotSetup)
	r.Register("chatbot.delete", h.HandleChatbotDelete)
	r.Register("chatbot.list", h.HandleChatbotList)
	r.Register("chatbot.show", h.HandleChatbotShow)
	r.Register("chatbot.block", h.HandleChatbotBlock)
	r.Register("chatbot.unblock", h.HandleChatbotUnblock)
	r.Register("chatbot.blocklist", h.HandleChatbotBlocklist)

	r.Register("chat.temp", h.HandleChatTemp)
	r.Register("chat.load", h.HandleChatLoad)
	r.Register("chat.wipe", h.HandleChatWipe)
	r.Register("chat.remove", h.HandleChatRemove)
	r.Register("chat.current", h.HandleChatCurrent)
	r.Register("chat.auto", h.HandleChatAuto)
	r.Register("chat.continue", h.HandleChatContinue)
	r.Register("chat.dismiss", h.HandleChatDismiss)
	r.Register("chat.list", h.HandleChatList)

	r.Register("config.get", h.HandleConfigGet)
	r.Register("config.set", h.HandleConfigSet)
	r.Register("config.list", h.HandleConfigList)
	r.Register("config.unset", h.HandleConfigUnset)
}

// HandleHelp shows the command summary.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return `**Chatter commands**

**Sessions**
- ` + "`/chatter chat temp <prompt> [--temperature T] [--debug] [--auto]`" + ` talk to a temporary persona
- ` + "`/chatter chat load <persona> [--fresh] [--debug] [--auto]`" + ` attach a saved persona to this room
- ` + "`/chatter chat wipe`" + ` start the conversation over
- ` + "`/chatter chat remove`" + ` detach the persona from this room
- ` + "`/chatter chat current`" + ` show this room's session
- ` + "`/chatter chat auto on|off`" + ` answer every message in threads
- ` + "`/chatter chat continue`" + ` / ` + "`chat dismiss`" + ` handle a cut-off reply
- ` + "`/chatter chat list`" + ` list active sessions

**Personas**
- ` + "`/chatter chatbot setup <name> --prompt \"...\" [--description \"...\"] [--temperature T] [--budget N] [--avatar URL]`" + `
- ` + "`/chatter chatbot list`" + `, ` + "`chatbot show <persona>`" + `, ` + "`chatbot delete <persona>`" + `
- ` + "`/chatter chatbot block|unblock <persona> <@user or !room>`" + `, ` + "`chatbot blocklist <persona>`" + `

**Config**
- ` + "`/chatter config get|set|unset <key> [value]`" + `, ` + "`config list`" + `

Mention me or reply to me to talk to the attached persona.`, nil
}

// HandleVersion reports the build.
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return "Chatter " + version.Info(), nil
}

// confirmed asks the sender of evt to confirm prompt. With no Asker every
// question is confirmed.
func (h *Handlers) confirmed(ctx context.Context, evt *event.Event, prompt string) (bool, confirm.Outcome, error) {
	if h.asker == nil {
		return true, confirm.Confirmed, nil
	}
	o, err := h.asker.Ask(ctx, confirm.Request{
		Channel: evt.RoomID.String(),
		User:    evt.Sender.String(),
		Prompt:  prompt,
	})
	if err != nil {
		return false, o, err
	}
	return o == confirm.Confirmed, o, nil
}

func floatFlag(cmd *Command, name string, def float64) (float64, error) {
	v, ok := cmd.Flags[name]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("--%s must be a number, got %q", name, v)
	}
	return f, nil
}

func intFlag(cmd *Command, name string, def int) (int, error) {
	v, ok := cmd.Flags[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("--%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func flagsOf(cmd *Command) []persona.Flag {
	var flags []persona.Flag
	if cmd.HasFlag("debug") {
		flags = append(flags, persona.FlagDebug)
	}
	if cmd.HasFlag("auto") {
		flags = append(flags, persona.FlagAutoReply)
	}
	return flags
}
