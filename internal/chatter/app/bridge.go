package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Chatter/common/trace"
	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/commands"
	"github.com/bdobrica/Chatter/internal/chatter/confirm"
	"github.com/bdobrica/Chatter/internal/chatter/matrix"
	"github.com/bdobrica/Chatter/internal/chatter/observability"
	"github.com/bdobrica/Chatter/internal/chatter/session"
)

const (
	// recentMessages is how many of the bot's own event IDs are kept for
	// reply detection without a homeserver round trip.
	recentMessages = 512
	typingTimeout  = 30 * time.Second
)

// handleMessage is called from the sync loop for every text message.
//
// Commands run in their own goroutine because they may wait for a
// confirmation, which arrives through this same loop. Chat messages are
// queued on the room's lane in arrival order.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx, a.logger)

	in, ok := matrix.DecodeMessage(evt, a.client.UserID(), a.botName(ctx))
	if !ok || in.Body == "" {
		return
	}

	if a.router.IsCommand(in.Body) {
		go a.runCommand(ctx, logger, in, evt)
		return
	}
	if a.resolveDecision(ctx, logger, in) {
		return
	}
	a.submit(ctx, logger, in)
}

func (a *App) runCommand(ctx context.Context, logger *slog.Logger, in matrix.Incoming, evt *event.Event) {
	logger.Info("command", "room", in.RoomID, "sender", in.Sender, "text", firstLine(in.Body))
	resp, err := a.router.Route(ctx, in.Body, evt)
	if err != nil {
		logger.Warn("command failed", "room", in.RoomID, "sender", in.Sender, "err", err)
		a.reply(ctx, logger, in, "❌ "+userMessage(err))
		return
	}
	if resp != "" {
		a.reply(ctx, logger, in, resp)
	}
}

// resolveDecision answers an open confirmation question. It reports
// whether in was consumed.
func (a *App) resolveDecision(ctx context.Context, logger *slog.Logger, in matrix.Incoming) bool {
	d, err := confirm.ParseDecision(in.Body)
	if errors.Is(err, confirm.ErrNotADecision) {
		return false
	}
	if err != nil {
		a.reply(ctx, logger, in, "❌ "+err.Error())
		return true
	}

	if d.ID == "" {
		// A bare yes/no with nothing to answer is ordinary chat.
		_, err := a.broker.ResolveLatest(in.RoomID, in.Sender, d.Confirm)
		return err == nil
	}
	if err := a.broker.Resolve(d.ID, in.Sender, d.Confirm); err != nil {
		a.reply(ctx, logger, in, "❌ "+userMessage(err))
	}
	return true
}

// submit hands a chat message to the room's session. Rate limits apply
// only to messages the persona would answer.
func (a *App) submit(ctx context.Context, logger *slog.Logger, in matrix.Incoming) {
	info, ok := a.sessions.Current(in.RoomID)
	if !ok {
		return
	}
	inbound := session.Inbound{
		Channel:    in.RoomID,
		Author:     in.Sender,
		Body:       in.Body,
		EventID:    in.EventID,
		Mentioned:  in.MentionsBot,
		InThread:   in.ThreadRoot != "",
		ThreadRoot: in.ThreadRoot,
	}
	inbound.ReplyToBot = in.ReplyTo != "" && a.isOwnMessage(ctx, in.RoomID, in.ReplyTo)
	if !inbound.Qualifies(info.AutoReply) {
		return
	}

	if !a.limiter.Allow(in.Sender) {
		logger.Info("rate limited", "room", in.RoomID, "sender", in.Sender)
		a.reply(ctx, logger, in, "⏳ You are sending messages too quickly, please wait a moment.")
		return
	}
	if !a.budget.Allow(a.config.GuildID) {
		logger.Warn("daily token budget spent", "guild", a.config.GuildID)
		a.reply(ctx, logger, in, "The daily token budget is spent. Chat resumes at midnight UTC.")
		return
	}

	inbound.Speaker = a.speaker(ctx, in.Sender)
	a.setTyping(ctx, logger, in.RoomID, true)
	a.sessions.Submit(ctx, inbound, func(reply *session.Reply, err error) {
		a.setTyping(ctx, logger, in.RoomID, false)
		if err != nil {
			logger.Warn("exchange failed", "room", in.RoomID, "persona", info.PersonaName, "err", err)
			a.reply(ctx, logger, in, "⚠️ "+userMessage(err))
			return
		}
		if reply == nil {
			return
		}
		if err := a.deliver(ctx, in.RoomID, reply); err != nil {
			logger.Error("failed to deliver reply", "room", in.RoomID, "err", err)
		}
	})
}

// deliver sends a session reply into its thread and, when it was cut,
// offers the continue reaction on it.
func (a *App) deliver(ctx context.Context, room string, reply *session.Reply) error {
	a.budget.Record(a.config.GuildID, reply.TokensUsed)

	text := commands.FormatReply(reply)
	eventID, err := a.client.Send(ctx, matrix.Outgoing{
		RoomID:     room,
		Body:       text,
		HTML:       markdownToHTML(text),
		InReplyTo:  reply.InReplyTo,
		ThreadRoot: reply.ThreadRoot,
	})
	if err != nil {
		return err
	}
	a.rememberOwn(eventID)

	if reply.Truncated {
		if err := a.client.React(ctx, room, eventID, matrix.ReactionContinue); err != nil {
			a.logger.Warn("failed to offer continue reaction", "room", room, "err", err)
		}
	}
	return nil
}

// handleReaction is called from the sync loop for every reaction.
func (a *App) handleReaction(ctx context.Context, evt *event.Event) {
	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx, a.logger)

	r, ok := matrix.DecodeReaction(evt)
	if !ok {
		return
	}
	switch r.Key {
	case matrix.ReactionConfirm, matrix.ReactionCancel:
		err := a.broker.ResolveRef(r.Target, r.Sender, r.Key == matrix.ReactionConfirm)
		if err != nil && !errors.Is(err, confirm.ErrUnknownQuestion) {
			logger.Debug("reaction not accepted as an answer", "room", r.RoomID, "sender", r.Sender, "err", err)
		}
	case matrix.ReactionContinue:
		if !a.isRecentOwn(r.Target) {
			return
		}
		go a.continueReply(ctx, logger, r.RoomID, r.Sender)
	}
}

func (a *App) continueReply(ctx context.Context, logger *slog.Logger, room, user string) {
	reply, err := a.sessions.Continue(ctx, room, user)
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNotAwaiting), errors.Is(err, session.ErrNotRequester):
		logger.Debug("continue ignored", "room", room, "user", user, "err", err)
		return
	case err != nil:
		logger.Warn("continue failed", "room", room, "err", err)
		a.notice(ctx, logger, room, "⚠️ "+userMessage(err))
		return
	}
	if err := a.deliver(ctx, room, reply); err != nil {
		logger.Error("failed to deliver continuation", "room", room, "err", err)
	}
}

// announce posts a confirmation question with its ✅ and ❌ buttons. It is
// the Notifier of the confirmation broker.
func (a *App) announce(ctx context.Context, p confirm.Pending) (string, error) {
	text := fmt.Sprintf("❓ %s\n\nReact %s to confirm or %s to cancel, or send `confirm %s` / `cancel %s` (expires in %s).",
		p.Prompt, matrix.ReactionConfirm, matrix.ReactionCancel, p.ID, p.ID, p.ExpiresAt.Sub(p.CreatedAt).Round(time.Second))
	eventID, err := a.client.Send(ctx, matrix.Outgoing{
		RoomID: p.Channel,
		Body:   text,
		HTML:   markdownToHTML(text),
		Notice: true,
	})
	if err != nil {
		return "", err
	}
	for _, key := range []string{matrix.ReactionConfirm, matrix.ReactionCancel} {
		if err := a.client.React(ctx, p.Channel, eventID, key); err != nil {
			a.logger.Warn("failed to add answer reaction", "room", p.Channel, "key", key, "err", err)
		}
	}
	return eventID, nil
}

func (a *App) continueExpired(channel string) {
	a.logger.Debug("continuation expired", "room", channel)
}

func (a *App) reply(ctx context.Context, logger *slog.Logger, in matrix.Incoming, text string) {
	eventID, err := a.client.Send(ctx, matrix.Outgoing{
		RoomID:     in.RoomID,
		Body:       text,
		HTML:       markdownToHTML(text),
		InReplyTo:  in.EventID,
		ThreadRoot: in.ThreadRoot,
	})
	if err != nil {
		logger.Error("failed to send response", "room", in.RoomID, "err", err)
		return
	}
	a.rememberOwn(eventID)
}

func (a *App) notice(ctx context.Context, logger *slog.Logger, room, text string) {
	if _, err := a.client.SendNotice(ctx, room, text); err != nil {
		logger.Error("failed to send notice", "room", room, "err", err)
	}
}

func (a *App) setTyping(ctx context.Context, logger *slog.Logger, room string, typing bool) {
	if err := a.client.SetTyping(ctx, room, typing, typingTimeout); err != nil {
		logger.Debug("typing indicator not updated", "room", room, "err", err)
	}
}

// speaker returns the display name of userID, falling back to its
// localpart. Names are cached for the life of the process.
func (a *App) speaker(ctx context.Context, userID string) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	name, err := a.client.DisplayName(ctx, userID)
	if err != nil || strings.TrimSpace(name) == "" {
		name = localpart(userID)
	}
	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

func (a *App) botName(ctx context.Context) string {
	return a.speaker(ctx, a.client.UserID())
}

func (a *App) rememberOwn(eventID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ownMsgs.add(eventID)
}

func (a *App) isRecentOwn(eventID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ownMsgs.has(eventID)
}

// isOwnMessage reports whether eventID was sent by the bot, asking the
// homeserver for events older than the in-memory window.
func (a *App) isOwnMessage(ctx context.Context, room, eventID string) bool {
	if a.isRecentOwn(eventID) {
		return true
	}
	sender, err := a.client.Sender(ctx, room, eventID)
	if err != nil {
		a.logger.Debug("reply target not resolved", "room", room, "event", eventID, "err", err)
		return false
	}
	if sender != a.client.UserID() {
		return false
	}
	a.rememberOwn(eventID)
	return true
}

// userMessage renders err for the room.
func userMessage(err error) string {
	msg := apperr.UserMessage(err)
	for _, prefix := range []string{"session: ", "confirm: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}

func localpart(userID string) string {
	name, _, _ := strings.Cut(strings.TrimPrefix(userID, "@"), ":")
	return name
}

func homeserverOf(userID string) string {
	if _, server, ok := strings.Cut(userID, ":"); ok {
		return server
	}
	return userID
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// recentSet is a bounded set that forgets its oldest entries first.
type recentSet struct {
	max   int
	ids   map[string]struct{}
	order []string
}

func newRecentSet(max int) *recentSet {
	return &recentSet{max: max, ids: make(map[string]struct{}, max)}
}

func (s *recentSet) add(id string) {
	if _, ok := s.ids[id]; ok || id == "" {
		return
	}
	if len(s.order) >= s.max {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *recentSet) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}
