package config

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/bdobrica/Chatter/internal/chatter/orchestrator"
)

// Tuning resolves the completion parameters from the store on every call,
// falling back to the process defaults when a key is unset or unreadable.
type Tuning struct {
	store    Store
	defaults orchestrator.StaticTuning
	logger   *slog.Logger
}

var _ orchestrator.Tuning = (*Tuning)(nil)

// NewTuning returns a Tuning over s with the given defaults.
func NewTuning(s Store, defaults orchestrator.StaticTuning, logger *slog.Logger) *Tuning {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tuning{store: s, defaults: defaults, logger: logger}
}

func (t *Tuning) lookup(ctx context.Context, key string) (string, bool) {
	v, err := t.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.Warn("config: using default", "key", key, "err", err)
		}
		return "", false
	}
	return v, true
}

// Model implements orchestrator.Tuning.
func (t *Tuning) Model(ctx context.Context) string {
	if v, ok := t.lookup(ctx, KeyModel); ok && v != "" {
		return v
	}
	return t.defaults.ModelName
}

// MaxOutputTokens implements orchestrator.Tuning.
func (t *Tuning) MaxOutputTokens(ctx context.Context) int {
	if v, ok := t.lookup(ctx, KeyMaxOutputTokens); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		t.logger.Warn("config: ignoring invalid value", "key", KeyMaxOutputTokens, "value", v)
	}
	return t.defaults.MaxTokens
}
