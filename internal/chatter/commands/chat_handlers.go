package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Chatter/internal/chatter/persona"
	"github.com/bdobrica/Chatter/internal/chatter/session"
)

// HandleChatTemp attaches a temporary persona built from an inline prompt.
//
// Usage: /chatter chat temp <prompt> [--temperature T] [--debug] [--auto]
func (h *Handlers) HandleChatTemp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	prompt := cmd.Rest(0)
	if prompt == "" {
		return "", fmt.Errorf("usage: %s chat temp <prompt> [--temperature T] [--debug] [--auto]", Prefix)
	}
	temperature, err := floatFlag(cmd, "temperature", persona.DefaultTemperature)
	if err != nil {
		return "", err
	}
	p, err := persona.NewEphemeral(h.guild, prompt, temperature, evt.Sender.String(), h.limits, flagsOf(cmd)...)
	if err != nil {
		return "", err
	}

	info, err := h.sessions.Attach(ctx, session.AttachRequest{
		Channel:   evt.RoomID.String(),
		Profile:   p,
		Requester: evt.Sender.String(),
		AutoReply: cmd.HasFlag("auto"),
		Debug:     cmd.HasFlag("debug"),
	})
	if err != nil {
		return h.attachFailed(err)
	}
	return fmt.Sprintf("**%s** is listening in this room (temporary persona, nothing is saved). Mention me to talk.", info.PersonaName), nil
}

// HandleChatLoad attaches a saved persona. By default the latest
// conversation is resumed; --fresh starts a new one.
//
// Usage: /chatter chat load <persona> [--fresh] [--debug] [--auto]
func (h *Handlers) HandleChatLoad(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ref := cmd.Rest(0)
	if ref == "" {
		return "", fmt.Errorf("usage: %s chat load <persona> [--fresh] [--debug] [--auto]", Prefix)
	}
	p, err := h.lookupPersona(ctx, ref)
	if err != nil {
		return "", err
	}

	info, err := h.sessions.Attach(ctx, session.AttachRequest{
		Channel:   evt.RoomID.String(),
		Profile:   persona.NewDurable(*p, h.registry, h.log),
		Resume:    !cmd.HasFlag("fresh"),
		Requester: evt.Sender.String(),
		AutoReply: cmd.HasFlag("auto") || p.HasFlag(persona.FlagAutoReply),
		Debug:     cmd.HasFlag("debug"),
	})
	if err != nil {
		return h.attachFailed(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** is listening in this room", info.PersonaName)
	if info.Turns > 0 {
		fmt.Fprintf(&sb, ", resuming conversation %d (%d messages)", info.Conversation, info.Turns)
	} else {
		fmt.Fprintf(&sb, ", conversation %d", info.Conversation)
	}
	sb.WriteString(". Mention me to talk.")
	if a := persona.Assess(p, h.counter, h.model(ctx)); a.Exceeds {
		fmt.Fprintf(&sb, "\n\n⚠️ The system prompt (~%d tokens) exceeds the context budget of %d; no history will be sent.", a.PromptTokens, a.Budget)
	}
	return sb.String(), nil
}

func (h *Handlers) attachFailed(err error) (string, error) {
	if errors.Is(err, session.ErrReplaceDeclined) {
		return "Kept the current session.", nil
	}
	return "", err
}

// HandleChatWipe starts the room's conversation over.
func (h *Handlers) HandleChatWipe(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	info, err := h.sessions.Wipe(ctx, evt.RoomID.String())
	if err != nil {
		return "", err
	}
	if info.Durable {
		return fmt.Sprintf("✓ **%s** starts over in conversation %d. Earlier messages are kept but no longer sent.", info.PersonaName, info.Conversation), nil
	}
	return fmt.Sprintf("✓ **%s** forgot the conversation.", info.PersonaName), nil
}

// HandleChatRemove detaches the room's persona.
func (h *Handlers) HandleChatRemove(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	info, err := h.sessions.Detach(ctx, evt.RoomID.String())
	if err != nil {
		return "", err
	}
	if info.Durable {
		return fmt.Sprintf("✓ **%s** left this room. Its history is kept.", info.PersonaName), nil
	}
	return fmt.Sprintf("✓ **%s** left this room.", info.PersonaName), nil
}

// HandleChatCurrent describes the room's session.
func (h *Handlers) HandleChatCurrent(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	info, ok := h.sessions.Current(evt.RoomID.String())
	if !ok {
		return "", session.ErrNoSession
	}
	return describeSession(info), nil
}

func describeSession(info session.Info) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**", info.PersonaName)
	if info.Durable {
		fmt.Fprintf(&sb, " (`%s`, conversation %d)", info.PersonaID, info.Conversation)
	} else {
		sb.WriteString(" (temporary)")
	}
	fmt.Fprintf(&sb, ": %s, %d messages in memory", info.State, info.Turns)
	if info.AutoReply {
		sb.WriteString(", auto-reply on")
	}
	if info.Debug {
		sb.WriteString(", debug on")
	}
	fmt.Fprintf(&sb, ", started by %s at %s", info.Requester, info.AttachedAt.Format("15:04 MST"))
	return sb.String()
}

// HandleChatAuto toggles auto-reply in threads.
//
// Usage: /chatter chat auto on|off
func (h *Handlers) HandleChatAuto(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	arg, _ := cmd.GetArg(0)
	var on bool
	switch strings.ToLower(arg) {
	case "on":
		on = true
	case "off":
	default:
		return "", fmt.Errorf("usage: %s chat auto on|off", Prefix)
	}
	if err := h.sessions.SetAutoReply(ctx, evt.RoomID.String(), on); err != nil {
		return "", err
	}
	if on {
		return "✓ I will answer every message in threads.", nil
	}
	return "✓ In threads I will only answer mentions and replies.", nil
}

// HandleChatContinue continues a cut-off reply.
func (h *Handlers) HandleChatContinue(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	room := evt.RoomID.String()
	reply, err := h.sessions.Continue(ctx, room, evt.Sender.String())
	if err != nil {
		return "", err
	}
	if h.deliver != nil {
		return "", h.deliver(ctx, room, reply)
	}
	return FormatReply(reply), nil
}

// HandleChatDismiss drops the continue option of a cut-off reply.
func (h *Handlers) HandleChatDismiss(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if err := h.sessions.Dismiss(ctx, evt.RoomID.String(), evt.Sender.String()); err != nil {
		return "", err
	}
	return "✓ Dismissed.", nil
}

// HandleChatList lists the live sessions.
func (h *Handlers) HandleChatList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	sessions := h.sessions.Sessions()
	if len(sessions) == 0 {
		return "No active sessions.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Active sessions** (%d)\n\n", len(sessions))
	for _, info := range sessions {
		fmt.Fprintf(&sb, "- %s: %s\n", info.Channel, describeSession(info))
	}
	return sb.String(), nil
}

// FormatReply renders a session reply as message text.
func FormatReply(r *session.Reply) string {
	text := r.Text
	if r.Diagnostics != "" {
		text += "\n\n`" + r.Diagnostics + "`"
	}
	if r.Truncated {
		text += fmt.Sprintf("\n\n_(cut off: react ⏩ or send `%s chat continue` for more)_", Prefix)
	}
	return text
}
