package matrix

import (
	"regexp"
	"slices"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Reaction keys used as buttons.
const (
	ReactionContinue = "⏩"
	ReactionConfirm  = "✅"
	ReactionCancel   = "❌"
)

// Incoming is a decoded text message.
type Incoming struct {
	RoomID  string
	EventID string
	Sender  string
	// Body is the message text with the bot mention and any reply fallback
	// removed.
	Body string
	// ReplyTo is the event this message replies to, if any.
	ReplyTo string
	// ThreadRoot is set for messages inside a thread.
	ThreadRoot string
	// MentionsBot is set when the bot is in m.mentions or named in the body.
	MentionsBot bool
}

// DecodeMessage extracts what the session layer needs from a message event.
// It returns false for events that are not text messages.
func DecodeMessage(evt *event.Event, botID, botName string) (Incoming, bool) {
	msg := evt.Content.AsMessage()
	if msg == nil || (msg.MsgType != event.MsgText && msg.MsgType != event.MsgNotice) {
		return Incoming{}, false
	}
	in := Incoming{
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
		Sender:  evt.Sender.String(),
		Body:    stripReplyFallback(msg.Body),
	}
	if rel := msg.RelatesTo; rel != nil {
		if rel.Type == event.RelThread {
			in.ThreadRoot = rel.EventID.String()
		}
		// In a thread, a falling-back in_reply_to only points at the
		// previous message and is not a real reply.
		if rel.InReplyTo != nil && !rel.IsFallingBack {
			in.ReplyTo = rel.InReplyTo.EventID.String()
		}
	}
	if msg.Mentions != nil && slices.Contains(msg.Mentions.UserIDs, id.UserID(botID)) {
		in.MentionsBot = true
	}
	body, named := StripMention(in.Body, botID, botName)
	if named {
		in.MentionsBot = true
	}
	in.Body = body
	return in, true
}

// Reaction is a decoded m.reaction event.
type Reaction struct {
	RoomID string
	Sender string
	Target string
	Key    string
}

// DecodeReaction extracts the target and key of a reaction.
func DecodeReaction(evt *event.Event) (Reaction, bool) {
	r := evt.Content.AsReaction()
	if r == nil || r.RelatesTo.EventID == "" {
		return Reaction{}, false
	}
	return Reaction{
		RoomID: evt.RoomID.String(),
		Sender: evt.Sender.String(),
		Target: r.RelatesTo.EventID.String(),
		// Clients may append a variation selector to emoji keys.
		Key: strings.TrimSuffix(r.RelatesTo.Key, "\ufe0f"),
	}, true
}

// StripMention removes a leading mention of the bot from body: "@bot"
// optionally followed by ":" or ",", or the bare name followed by ":" or
// ",". It reports whether one was found.
func StripMention(body, botID, botName string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	var names []string
	if botID != "" {
		names = append(names, botID)
		if local, _, ok := strings.Cut(strings.TrimPrefix(botID, "@"), ":"); ok {
			names = append(names, local)
		}
	}
	if botName != "" {
		names = append(names, botName)
	}
	for _, name := range names {
		q := regexp.QuoteMeta(strings.TrimPrefix(name, "@"))
		re := regexp.MustCompile(`(?i)^(?:@` + q + `[:,]?|` + q + `[:,])(?:\s+|$)`)
		if loc := re.FindStringIndex(trimmed); loc != nil {
			return strings.TrimSpace(trimmed[loc[1]:]), true
		}
	}
	return trimmed, false
}

// stripReplyFallback drops the "> quoted" lines clients prepend to replies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	return strings.TrimSpace(strings.Join(lines[i:], "\n"))
}
