package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Chatter/internal/chatter/config"
)

// HandleConfigSet stores a runtime configuration value.
//
// Usage: /chatter config set <key> <value>
//
// Only keys in config.Keys are accepted.
func (h *Handlers) HandleConfigSet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if h.settings == nil {
		return "", fmt.Errorf("config store is not available")
	}
	if len(cmd.Args) < 2 {
		return "", fmt.Errorf("usage: %s config set <key> <value>\n\nPermitted keys: %s", Prefix, config.KeyList())
	}
	key, value := cmd.Args[0], cmd.Rest(1)

	k, ok := config.Lookup(key)
	if !ok {
		return "", fmt.Errorf("unknown config key %q, permitted keys: %s", key, config.KeyList())
	}
	if err := k.Validate(value); err != nil {
		return "", fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := h.settings.Set(ctx, key, value); err != nil {
		return "", fmt.Errorf("failed to set config: %w", err)
	}
	h.logger.Info("commands: config set", "key", key, "value", value, "by", evt.Sender)
	return fmt.Sprintf("✓ `%s` = `%s`", key, value), nil
}

// HandleConfigGet shows one runtime configuration value.
//
// Usage: /chatter config get <key>
func (h *Handlers) HandleConfigGet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if h.settings == nil {
		return "", fmt.Errorf("config store is not available")
	}
	key, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: %s config get <key>\n\nPermitted keys: %s", Prefix, config.KeyList())
	}
	if _, ok := config.Lookup(key); !ok {
		return "", fmt.Errorf("unknown config key %q, permitted keys: %s", key, config.KeyList())
	}

	value, err := h.settings.Get(ctx, key)
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Sprintf("`%s` is not set (using the default).", key), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return fmt.Sprintf("`%s` = `%s`", key, value), nil
}

// HandleConfigList shows every runtime configuration value that is set.
func (h *Handlers) HandleConfigList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if h.settings == nil {
		return "", fmt.Errorf("config store is not available")
	}
	entries, err := h.settings.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list config: %w", err)
	}
	if len(entries) == 0 {
		return "No config values set, all keys are using their defaults.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Runtime Config** (%d set)\n\n```\n", len(entries))
	for _, k := range config.Keys {
		if v, ok := entries[k.Name]; ok {
			fmt.Fprintf(&sb, "%-24s %s\n", k.Name, v)
		}
	}
	sb.WriteString("```")
	return sb.String(), nil
}

// HandleConfigUnset deletes a runtime configuration value, reverting the key
// to its built-in default.
//
// Usage: /chatter config unset <key>
func (h *Handlers) HandleConfigUnset(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if h.settings == nil {
		return "", fmt.Errorf("config store is not available")
	}
	key, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: %s config unset <key>\n\nPermitted keys: %s", Prefix, config.KeyList())
	}
	if _, ok := config.Lookup(key); !ok {
		return "", fmt.Errorf("unknown config key %q, permitted keys: %s", key, config.KeyList())
	}
	if err := h.settings.Delete(ctx, key); err != nil {
		return "", fmt.Errorf("failed to unset config: %w", err)
	}
	h.logger.Info("commands: config unset", "key", key, "by", evt.Sender)
	return fmt.Sprintf("✓ `%s` unset, reverted to default.", key), nil
}
