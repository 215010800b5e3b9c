package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/store"
)

// SQLiteLog implements Log on the turns table.
type SQLiteLog struct {
	db     *store.Store
	logger *slog.Logger
}

var _ Log = (*SQLiteLog)(nil)

// NewSQLiteLog returns a Log backed by db. A nil logger means slog.Default().
func NewSQLiteLog(db *store.Store, logger *slog.Logger) *SQLiteLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteLog{db: db, logger: logger}
}

// Append implements Log.
func (l *SQLiteLog) Append(ctx context.Context, key Key, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	err := l.db.Tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO turns
				(guild_id, persona_id, conversation, ts, role, content, speaker, author_id, channel_id, message_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range turns {
			if _, err := stmt.ExecContext(ctx,
				key.GuildID, key.PersonaID, key.Conversation, t.Timestamp.UnixNano(),
				string(t.Role), t.Content, t.Speaker, t.AuthorID, t.ChannelID, t.MessageRef,
			); err != nil {
				return fmt.Errorf("insert turn at %d: %w", t.Timestamp.UnixNano(), err)
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Storage("history.append", err)
	}

	l.logger.Debug("history: appended turns",
		"guild", key.GuildID, "persona", key.PersonaID, "conversation", key.Conversation, "count", len(turns))
	return nil
}

// List implements Log.
func (l *SQLiteLog) List(ctx context.Context, key Key, since time.Time) ([]Turn, error) {
	var after int64 = -1
	if !since.IsZero() {
		after = since.UnixNano()
	}

	rows, err := l.db.DB().QueryContext(ctx, `
		SELECT ts, role, content, speaker, author_id, channel_id, message_ref
		FROM turns
		WHERE guild_id = ? AND persona_id = ? AND conversation = ? AND ts > ?
		ORDER BY ts ASC
	`, key.GuildID, key.PersonaID, key.Conversation, after)
	if err != nil {
		return nil, apperr.Storage("history.list", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			ts   int64
			role string
			t    Turn
		)
		if err := rows.Scan(&ts, &role, &t.Content, &t.Speaker, &t.AuthorID, &t.ChannelID, &t.MessageRef); err != nil {
			return nil, apperr.Storage("history.list", err)
		}
		t.Timestamp = time.Unix(0, ts).UTC()
		t.Role = Role(role)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("history.list", err)
	}
	return out, nil
}

// Count implements Log.
func (l *SQLiteLog) Count(ctx context.Context, key Key) (int, error) {
	var n int
	err := l.db.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM turns WHERE guild_id = ? AND persona_id = ? AND conversation = ?
	`, key.GuildID, key.PersonaID, key.Conversation).Scan(&n)
	if err != nil {
		return 0, apperr.Storage("history.count", err)
	}
	return n, nil
}

// DeleteAll implements Log.
func (l *SQLiteLog) DeleteAll(ctx context.Context, guildID, personaID string) error {
	res, err := l.db.DB().ExecContext(ctx,
		`DELETE FROM turns WHERE guild_id = ? AND persona_id = ?`, guildID, personaID)
	if err != nil {
		return apperr.Storage("history.delete", err)
	}
	n, _ := res.RowsAffected()
	l.logger.Info("history: deleted persona log", "guild", guildID, "persona", personaID, "turns", n)
	return nil
}

// LatestConversation implements Log.
func (l *SQLiteLog) LatestConversation(ctx context.Context, guildID, personaID string) (int, error) {
	var n int
	err := l.db.DB().QueryRowContext(ctx, `
		SELECT COALESCE(MAX(conversation), 0) FROM turns WHERE guild_id = ? AND persona_id = ?
	`, guildID, personaID).Scan(&n)
	if err != nil {
		return 0, apperr.Storage("history.latest", err)
	}
	return n, nil
}
