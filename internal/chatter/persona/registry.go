package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Chatter/internal/chatter/apperr"
	"github.com/bdobrica/Chatter/internal/chatter/store"
)

// Registry is the durable persona catalogue.
type Registry interface {
	Get(ctx context.Context, guildID, id string) (*Persona, error)
	// List returns the guild's personas sorted by name.
	List(ctx context.Context, guildID string) ([]Persona, error)
	// FindByName matches case-insensitively. It is meant for collision
	// checks before an Upsert.
	FindByName(ctx context.Context, guildID, name string) (*Persona, error)
	// Upsert validates p and replaces any persona with the same ID.
	Upsert(ctx context.Context, p *Persona) error
	// Delete removes the persona, its message log and its stats.
	Delete(ctx context.Context, guildID, id string) error
	Count(ctx context.Context, guildID string) (int, error)

	Stats(ctx context.Context, guildID, id string) (Stats, error)
	RecordUse(ctx context.Context, guildID, id string, at time.Time) error
	RecordExchange(ctx context.Context, guildID, id string, tokens int, at time.Time) error
}

// SQLiteRegistry implements Registry on the personas and persona_stats
// tables.
type SQLiteRegistry struct {
	db     *store.Store
	limits Limits
	logger *slog.Logger
}

var _ Registry = (*SQLiteRegistry)(nil)

// NewSQLiteRegistry returns a registry enforcing lim. A nil logger means
// slog.Default().
func NewSQLiteRegistry(db *store.Store, lim Limits, logger *slog.Logger) *SQLiteRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRegistry{db: db, limits: lim, logger: logger}
}

// Limits returns the bounds enforced by Upsert.
func (r *SQLiteRegistry) Limits() Limits { return r.limits }

const personaColumns = `guild_id, id, name, description, avatar_url, system_prompt,
	temperature, context_budget, creator_id, created_at, flags, blocked`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*Persona, error) {
	var (
		p              Persona
		created        int64
		flags, blocked string
	)
	if err := row.Scan(&p.GuildID, &p.ID, &p.Name, &p.Description, &p.AvatarURL, &p.SystemPrompt,
		&p.Temperature, &p.ContextBudget, &p.CreatorID, &created, &flags, &blocked); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(flags), &p.Flags); err != nil {
		return nil, fmt.Errorf("decode flags of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(blocked), &p.Blocked); err != nil {
		return nil, fmt.Errorf("decode block-list of %s: %w", p.ID, err)
	}
	return &p, nil
}

// Get implements Registry.
func (r *SQLiteRegistry) Get(ctx context.Context, guildID, id string) (*Persona, error) {
	row := r.db.DB().QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE guild_id = ? AND id = ?`, guildID, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("persona", id)
	}
	if err != nil {
		return nil, apperr.Storage("persona.get", err)
	}
	return p, nil
}

// FindByName implements Registry.
func (r *SQLiteRegistry) FindByName(ctx context.Context, guildID, name string) (*Persona, error) {
	row := r.db.DB().QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE guild_id = ? AND name = ? COLLATE NOCASE
		 ORDER BY created_at LIMIT 1`, guildID, name)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("persona", name)
	}
	if err != nil {
		return nil, apperr.Storage("persona.find", err)
	}
	return p, nil
}

// List implements Registry.
func (r *SQLiteRegistry) List(ctx context.Context, guildID string) ([]Persona, error) {
	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE guild_id = ? ORDER BY name COLLATE NOCASE, id`, guildID)
	if err != nil {
		return nil, apperr.Storage("persona.list", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, apperr.Storage("persona.list", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("persona.list", err)
	}
	return out, nil
}

// Count implements Registry.
func (r *SQLiteRegistry) Count(ctx context.Context, guildID string) (int, error) {
	var n int
	if err := r.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM personas WHERE guild_id = ?`, guildID).Scan(&n); err != nil {
		return 0, apperr.Storage("persona.count", err)
	}
	return n, nil
}

// Upsert implements Registry.
func (r *SQLiteRegistry) Upsert(ctx context.Context, p *Persona) error {
	if err := p.Validate(r.limits); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	flags, err := json.Marshal(nonNil(p.Flags))
	if err != nil {
		return fmt.Errorf("persona: encode flags: %w", err)
	}
	blocked, err := json.Marshal(nonNil(p.Blocked))
	if err != nil {
		return fmt.Errorf("persona: encode block-list: %w", err)
	}

	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO personas (`+personaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, id) DO UPDATE SET
			name           = excluded.name,
			description    = excluded.description,
			avatar_url     = excluded.avatar_url,
			system_prompt  = excluded.system_prompt,
			temperature    = excluded.temperature,
			context_budget = excluded.context_budget,
			creator_id     = excluded.creator_id,
			created_at     = excluded.created_at,
			flags          = excluded.flags,
			blocked        = excluded.blocked
	`, p.GuildID, p.ID, p.Name, p.Description, p.AvatarURL, p.SystemPrompt,
		p.Temperature, p.ContextBudget, p.CreatorID, p.CreatedAt.UnixNano(), string(flags), string(blocked))
	if err != nil {
		return apperr.Storage("persona.upsert", err)
	}
	r.logger.Info("persona: upserted", "guild", p.GuildID, "id", p.ID, "name", p.Name)
	return nil
}

// Delete implements Registry. The persona row, its turns and its stats go
// in one transaction.
func (r *SQLiteRegistry) Delete(ctx context.Context, guildID, id string) error {
	var found bool
	err := r.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE guild_id = ? AND id = ?`, guildID, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		found = true
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE guild_id = ? AND persona_id = ?`, guildID, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM persona_stats WHERE guild_id = ? AND persona_id = ?`, guildID, id)
		return err
	})
	if err != nil {
		return apperr.Storage("persona.delete", err)
	}
	if !found {
		return apperr.NotFound("persona", id)
	}
	r.logger.Info("persona: deleted", "guild", guildID, "id", id)
	return nil
}

// Stats implements Registry. A persona that was never used has zero stats.
func (r *SQLiteRegistry) Stats(ctx context.Context, guildID, id string) (Stats, error) {
	var (
		s       Stats
		lastUse int64
	)
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT uses, messages, tokens, last_use FROM persona_stats WHERE guild_id = ? AND persona_id = ?
	`, guildID, id).Scan(&s.Uses, &s.Messages, &s.Tokens, &lastUse)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, apperr.Storage("persona.stats", err)
	}
	if lastUse > 0 {
		s.LastUse = time.Unix(0, lastUse).UTC()
	}
	return s, nil
}

// RecordUse implements Registry.
func (r *SQLiteRegistry) RecordUse(ctx context.Context, guildID, id string, at time.Time) error {
	return r.bumpStats(ctx, "persona.record_use", guildID, id, 1, 0, 0, at)
}

// RecordExchange implements Registry.
func (r *SQLiteRegistry) RecordExchange(ctx context.Context, guildID, id string, tokens int, at time.Time) error {
	return r.bumpStats(ctx, "persona.record_exchange", guildID, id, 0, 1, tokens, at)
}

func (r *SQLiteRegistry) bumpStats(ctx context.Context, op, guildID, id string, uses, messages, tokens int, at time.Time) error {
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO persona_stats (guild_id, persona_id, uses, messages, tokens, last_use)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, persona_id) DO UPDATE SET
			uses     = uses + excluded.uses,
			messages = messages + excluded.messages,
			tokens   = tokens + excluded.tokens,
			last_use = MAX(last_use, excluded.last_use)
	`, guildID, id, uses, messages, tokens, at.UnixNano())
	if err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
