// Package matrix connects Chatter to a Matrix homeserver through mautrix.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Chatter/common/redact"
	"github.com/bdobrica/Chatter/common/retry"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms limits the rooms Chatter listens in. Empty means every joined
	// room.
	Rooms []string
	// DB persists the sync token so a restart does not replay history.
	// When nil an in-memory store is used.
	DB     *sql.DB
	Logger *slog.Logger
}

// EventHandler processes one incoming event.
type EventHandler func(ctx context.Context, evt *event.Event)

// Client wraps the mautrix client.
type Client struct {
	client     *mautrix.Client
	config     *Config
	logger     *slog.Logger
	stopCh     chan struct{}
	onMessage  EventHandler
	onReaction EventHandler
	retry      retry.Config
}

// New creates a new Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		client: client,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
		retry:  retry.Matrix,
	}

	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
		logger.Info("matrix: using persistent sync store")
	} else {
		logger.Warn("matrix: no DB configured, using in-memory sync store (history will replay on restart)")
	}
	return c, nil
}

// Start joins the configured rooms and syncs in the background, reconnecting
// with exponential back-off.
func (c *Client) Start(ctx context.Context, onMessage, onReaction EventHandler) error {
	c.onMessage = onMessage
	c.onReaction = onReaction

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.EventReaction, c.handleReaction)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", roomID, err)
		}
	}

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			err := c.client.SyncWithContext(ctx)
			if err == nil {
				return
			}
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("matrix: sync stopped; reconnecting", "err", c.redact(err), "backoff", backoff)
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
		}
	}()
	return nil
}

// Stop stops syncing.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
	}
	close(c.stopCh)
	c.client.StopSync()
}

// UserID returns the bot's user ID.
func (c *Client) UserID() string { return c.config.UserID }

// ListensIn reports whether roomID is one of the configured rooms.
func (c *Client) ListensIn(roomID string) bool {
	return len(c.config.Rooms) == 0 || slices.Contains(c.config.Rooms, roomID)
}

// Outgoing is a message to send.
type Outgoing struct {
	RoomID string
	Body   string
	// HTML is an optional formatted body.
	HTML string
	// InReplyTo quotes an earlier event.
	InReplyTo string
	// ThreadRoot keeps the message in a thread.
	ThreadRoot string
	Notice     bool
}

func (o Outgoing) content() *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: o.Body}
	if o.Notice {
		content.MsgType = event.MsgNotice
	}
	if o.HTML != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = o.HTML
	}
	switch {
	case o.ThreadRoot != "":
		rel := &event.RelatesTo{Type: event.RelThread, EventID: id.EventID(o.ThreadRoot)}
		if o.InReplyTo != "" {
			rel.InReplyTo = &event.InReplyTo{EventID: id.EventID(o.InReplyTo)}
		} else {
			rel.IsFallingBack = true
			rel.InReplyTo = &event.InReplyTo{EventID: id.EventID(o.ThreadRoot)}
		}
		content.RelatesTo = rel
	case o.InReplyTo != "":
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: id.EventID(o.InReplyTo)}}
	}
	return content
}

// Send delivers msg and returns the new event ID.
func (c *Client) Send(ctx context.Context, msg Outgoing) (string, error) {
	content := msg.content()
	var eventID id.EventID
	err := retry.Do(ctx, c.retry, func() error {
		resp, err := c.client.SendMessageEvent(ctx, id.RoomID(msg.RoomID), event.EventMessage, content)
		if err != nil {
			return permanentUnlessTransient(err)
		}
		eventID = resp.EventID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("matrix: send to %s: %w", msg.RoomID, c.redact(err))
	}
	return eventID.String(), nil
}

// SendNotice sends a notice message (less intrusive than normal messages).
func (c *Client) SendNotice(ctx context.Context, roomID, message string) (string, error) {
	return c.Send(ctx, Outgoing{RoomID: roomID, Body: message, Notice: true})
}

// React annotates eventID with key.
func (c *Client) React(ctx context.Context, roomID, eventID, key string) error {
	err := retry.Do(ctx, c.retry, func() error {
		_, err := c.client.SendReaction(ctx, id.RoomID(roomID), id.EventID(eventID), key)
		return permanentUnlessTransient(err)
	})
	if err != nil {
		return fmt.Errorf("matrix: react in %s: %w", roomID, c.redact(err))
	}
	return nil
}

// SetTyping sets the typing indicator.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("matrix: set typing: %w", c.redact(err))
	}
	return nil
}

// Sender returns the sender of an event. It backs reply-to-bot detection.
func (c *Client) Sender(ctx context.Context, roomID, eventID string) (string, error) {
	evt, err := c.client.GetEvent(ctx, id.RoomID(roomID), id.EventID(eventID))
	if err != nil {
		return "", fmt.Errorf("matrix: get event %s: %w", eventID, c.redact(err))
	}
	return evt.Sender.String(), nil
}

// DisplayName returns a user's display name.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	profile, err := c.client.GetProfile(ctx, id.UserID(userID))
	if err != nil {
		return "", fmt.Errorf("matrix: get profile: %w", c.redact(err))
	}
	return profile.DisplayName, nil
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) || !c.ListensIn(evt.RoomID.String()) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || (msg.MsgType != event.MsgText && msg.MsgType != event.MsgNotice) {
		return
	}
	if c.onMessage != nil {
		c.onMessage(ctx, evt)
	}
}

func (c *Client) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) || !c.ListensIn(evt.RoomID.String()) {
		return
	}
	if c.onReaction != nil {
		c.onReaction(ctx, evt)
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) redact(err error) error {
	return redact.Error(err, c.config.AccessToken)
}

// permanentUnlessTransient stops retries for client errors the homeserver
// will keep returning.
func permanentUnlessTransient(err error) error {
	if err == nil {
		return nil
	}
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		code := httpErr.Response.StatusCode
		if code >= 400 && code < 500 && code != 429 {
			return retry.Permanent(err)
		}
	}
	return err
}
