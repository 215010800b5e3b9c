package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/persona"
)

// lookupPersona resolves ref as an ID first, then as a name.
func (h *Handlers) lookupPersona(ctx context.Context, ref string) (*persona.Persona, error) {
	p, err := h.registry.Get(ctx, h.guild, ref)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return p, err
	}
	p, err = h.registry.FindByName(ctx, h.guild, ref)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("persona", ref)
	}
	return p, err
}

// HandleChatbotSetup creates or overwrites a persona.
//
// Usage: /chatter chatbot setup <name> --prompt "<system prompt>"
// [--description "..."] [--temperature T] [--budget N] [--avatar URL]
// [--debug] [--auto]
//
// A name that is already taken overwrites that persona after confirmation.
// A prompt that takes half the context budget or more needs confirmation,
// and one larger than the budget is rejected.
func (h *Handlers) HandleChatbotSetup(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	name := cmd.Rest(0)
	prompt := strings.TrimSpace(cmd.GetFlag("prompt", ""))
	if name == "" || prompt == "" {
		return "", fmt.Errorf("usage: %s chatbot setup <name> --prompt \"<system prompt>\" [--description \"...\"] [--temperature T] [--budget N] [--avatar URL]", Prefix)
	}
	temperature, err := floatFlag(cmd, "temperature", persona.DefaultTemperature)
	if err != nil {
		return "", err
	}
	budget, err := intFlag(cmd, "budget", persona.DefaultContextBudget)
	if err != nil {
		return "", err
	}

	p := persona.Persona{
		GuildID:       h.guild,
		ID:            persona.NewID(),
		Name:          name,
		Description:   cmd.GetFlag("description", ""),
		AvatarURL:     cmd.GetFlag("avatar", ""),
		SystemPrompt:  prompt,
		Temperature:   temperature,
		ContextBudget: budget,
		CreatorID:     evt.Sender.String(),
		Flags:         flagsOf(cmd),
	}
	if err := p.Validate(h.limits); err != nil {
		return "", err
	}

	existing, err := h.registry.FindByName(ctx, h.guild, name)
	overwrite := err == nil
	switch {
	case overwrite:
		ok, outcome, err := h.confirmed(ctx, evt, fmt.Sprintf("A persona named **%s** already exists (`%s`). Overwrite it?", existing.Name, existing.ID))
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("Kept the existing **%s** (%s).", existing.Name, outcome), nil
		}
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		p.Blocked = existing.Blocked
	case errors.Is(err, apperr.ErrNotFound):
		n, err := h.registry.Count(ctx, h.guild)
		if err != nil {
			return "", err
		}
		if n >= h.limits.MaxPerGuild {
			return "", apperr.Invalid("personas", "this space already has the maximum of %d", h.limits.MaxPerGuild)
		}
	default:
		return "", err
	}

	a := persona.Assess(&p, h.counter, h.model(ctx))
	if a.Exceeds {
		return "", apperr.Invalid("system_prompt", "costs about %d tokens, more than the context budget of %d", a.PromptTokens, a.Budget)
	}
	if a.OverHalf {
		ok, outcome, err := h.confirmed(ctx, evt, fmt.Sprintf(
			"The system prompt takes about %d of the %d token budget, leaving little room for history. Save anyway?",
			a.PromptTokens, a.Budget))
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("Persona not saved (%s).", outcome), nil
		}
	}

	if err := h.registry.Upsert(ctx, &p); err != nil {
		return "", err
	}
	if overwrite {
		if _, err := h.sessions.ReloadPersona(ctx, persona.NewDurable(p, h.registry, h.log)); err != nil {
			h.logger.Warn("commands: live sessions not refreshed", "persona", p.ID, "err", err)
		}
	}
	h.logger.Info("commands: persona saved", "persona", p.ID, "name", p.Name, "by", evt.Sender, "overwrite", overwrite)
	return fmt.Sprintf("✓ Persona **%s** saved as `%s`. Attach it with `%s chat load %s`.", p.Name, p.ID, Prefix, p.ID), nil
}

func (h *Handlers) model(ctx context.Context) string {
	if h.tuning == nil {
		return ""
	}
	return h.tuning.Model(ctx)
}

// HandleChatbotDelete deletes a persona with its history and stats, after
// confirmation.
//
// Usage: /chatter chatbot delete <persona>
func (h *Handlers) HandleChatbotDelete(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ref := cmd.Rest(0)
	if ref == "" {
		return "", fmt.Errorf("usage: %s chatbot delete <persona>", Prefix)
	}
	p, err := h.lookupPersona(ctx, ref)
	if err != nil {
		return "", err
	}
	ok, outcome, err := h.confirmed(ctx, evt, fmt.Sprintf("Delete **%s** (`%s`) and its entire history?", p.Name, p.ID))
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("Kept **%s** (%s).", p.Name, outcome), nil
	}

	if err := h.registry.Delete(ctx, h.guild, p.ID); err != nil {
		return "", err
	}
	detached, err := h.sessions.DetachPersona(ctx, p.ID)
	if err != nil {
		h.logger.Warn("commands: sessions not detached", "persona", p.ID, "err", err)
	}
	h.logger.Info("commands: persona deleted", "persona", p.ID, "by", evt.Sender, "sessions", detached)
	return fmt.Sprintf("✓ Deleted **%s** and its history.", p.Name), nil
}

// HandleChatbotList lists the personas of the space.
func (h *Handlers) HandleChatbotList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	personas, err := h.registry.List(ctx, h.guild)
	if err != nil {
		return "", err
	}
	if len(personas) == 0 {
		return fmt.Sprintf("No personas yet. Create one with `%s chatbot setup`.", Prefix), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Personas** (%d/%d)\n\n", len(personas), h.limits.MaxPerGuild)
	for _, p := range personas {
		fmt.Fprintf(&sb, "- `%s` **%s**", p.ID, p.Name)
		if p.Description != "" {
			fmt.Fprintf(&sb, ": %s", p.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// HandleChatbotShow shows a persona's settings and usage.
func (h *Handlers) HandleChatbotShow(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ref := cmd.Rest(0)
	if ref == "" {
		return "", fmt.Errorf("usage: %s chatbot show <persona>", Prefix)
	}
	p, err := h.lookupPersona(ctx, ref)
	if err != nil {
		return "", err
	}
	stats, err := h.registry.Stats(ctx, h.guild, p.ID)
	if err != nil {
		return "", err
	}
	a := persona.Assess(p, h.counter, h.model(ctx))

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** (`%s`)\n\n", p.Name, p.ID)
	if p.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", p.Description)
	}
	fmt.Fprintf(&sb, "- temperature: %.2f\n", p.Temperature)
	fmt.Fprintf(&sb, "- context budget: %d tokens (system prompt ~%d)\n", p.ContextBudget, a.PromptTokens)
	if len(p.Flags) > 0 {
		flags := make([]string, len(p.Flags))
		for i, f := range p.Flags {
			flags[i] = string(f)
		}
		fmt.Fprintf(&sb, "- flags: %s\n", strings.Join(flags, ", "))
	}
	fmt.Fprintf(&sb, "- created by %s on %s\n", p.CreatorID, p.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(&sb, "- used %d times, %d replies, %d tokens (%.0f per reply)\n",
		stats.Uses, stats.Messages, stats.Tokens, stats.AverageTokens())
	if !stats.LastUse.IsZero() {
		fmt.Fprintf(&sb, "- last used %s\n", stats.LastUse.Format("2006-01-02 15:04 MST"))
	}
	if a.NeedsWarning() {
		sb.WriteString("\n⚠️ The system prompt leaves little room for history.\n")
	}
	fmt.Fprintf(&sb, "\n```\n%s\n```", p.SystemPrompt)
	return sb.String(), nil
}

// HandleChatbotBlock keeps a user or room out of a persona's sessions and
// context windows.
//
// Usage: /chatter chatbot block <persona> <@user:server | !room:server>
func (h *Handlers) HandleChatbotBlock(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return h.editBlocklist(ctx, cmd, true)
}

// HandleChatbotUnblock lifts a block.
func (h *Handlers) HandleChatbotUnblock(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return h.editBlocklist(ctx, cmd, false)
}

func (h *Handlers) editBlocklist(ctx context.Context, cmd *Command, block bool) (string, error) {
	verb := "unblock"
	if block {
		verb = "block"
	}
	if len(cmd.Args) != 2 {
		return "", fmt.Errorf("usage: %s chatbot %s <persona> <@user:server | !room:server>", Prefix, verb)
	}
	target := cmd.Args[1]
	if !strings.HasPrefix(target, "@") && !strings.HasPrefix(target, "!") {
		return "", apperr.Invalid("target", "%q is neither a user (@user:server) nor a room (!room:server)", target)
	}
	p, err := h.lookupPersona(ctx, cmd.Args[0])
	if err != nil {
		return "", err
	}

	var changed bool
	if block {
		changed = p.Block(target)
	} else {
		changed = p.Unblock(target)
	}
	if !changed {
		if block {
			return fmt.Sprintf("%s is already blocked for **%s**.", target, p.Name), nil
		}
		return fmt.Sprintf("%s is not blocked for **%s**.", target, p.Name), nil
	}
	if err := h.registry.Upsert(ctx, p); err != nil {
		return "", err
	}
	if _, err := h.sessions.ReloadPersona(ctx, persona.NewDurable(*p, h.registry, h.log)); err != nil {
		h.logger.Warn("commands: live sessions not refreshed", "persona", p.ID, "err", err)
	}
	return fmt.Sprintf("✓ %sed %s for **%s**.", verb, target, p.Name), nil
}

// HandleChatbotBlocklist lists the blocked users and rooms of a persona.
func (h *Handlers) HandleChatbotBlocklist(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	ref := cmd.Rest(0)
	if ref == "" {
		return "", fmt.Errorf("usage: %s chatbot blocklist <persona>", Prefix)
	}
	p, err := h.lookupPersona(ctx, ref)
	if err != nil {
		return "", err
	}
	if len(p.Blocked) == 0 {
		return fmt.Sprintf("Nobody is blocked for **%s**.", p.Name), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Blocked for %s**\n\n", p.Name)
	for _, id := range p.Blocked {
		fmt.Fprintf(&sb, "- %s\n", id)
	}
	return sb.String(), nil
}
