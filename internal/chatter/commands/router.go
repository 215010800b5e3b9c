// Package commands parses `/chatter ...` room messages and routes them to
// handlers for personas, sessions and runtime config.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Command represents a parsed command.
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	Flags      map[string]string
	RawText    string
}

// ErrNotACommand is returned by Parse when the message does not start with the
// command prefix. Callers should use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler is a function that handles a command.
type Handler func(ctx context.Context, cmd *Command, evt *event.Event) (string, error)

// Router routes commands to handlers.
type Router struct {
	handlers  map[string]Handler
	prefix    string
	boolFlags map[string]bool
}

// NewRouter creates a router for prefix. The named boolean flags never
// consume the following word as their value.
func NewRouter(prefix string, boolFlags ...string) *Router {
	r := &Router{
		handlers:  make(map[string]Handler),
		prefix:    prefix,
		boolFlags: make(map[string]bool),
	}
	for _, f := range boolFlags {
		r.boolFlags[f] = true
	}
	return r
}

// Register registers a command handler under "name" or "name.sub".
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Commands lists the registered handler keys.
func (r *Router) Commands() []string {
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsCommand reports whether text carries the command prefix.
func (r *Router) IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	return text == r.prefix || strings.HasPrefix(text, r.prefix+" ")
}

// Parse parses a message into a command. Words may be grouped with double
// quotes; apostrophes are literal. Flags are `--name value`, `--name=value`
// or a bare `--name`.
func (r *Router) Parse(text string) (*Command, error) {
	if !r.IsCommand(text) {
		return nil, ErrNotACommand
	}
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), r.prefix))

	parts, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		Flags:   make(map[string]string),
		RawText: text,
	}
	parts = parts[1:]
	if len(parts) > 0 && !strings.HasPrefix(parts[0], "-") {
		cmd.Subcommand = strings.ToLower(parts[0])
		parts = parts[1:]
	}

	for i := 0; i < len(parts); i++ {
		part := parts[i]
		if !strings.HasPrefix(part, "--") || part == "--" {
			cmd.Args = append(cmd.Args, part)
			continue
		}
		name := strings.TrimPrefix(part, "--")
		if k, v, ok := strings.Cut(name, "="); ok {
			cmd.Flags[k] = v
			continue
		}
		if !r.boolFlags[name] && i+1 < len(parts) && !strings.HasPrefix(parts[i+1], "--") {
			cmd.Flags[name] = parts[i+1]
			i++
		} else {
			cmd.Flags[name] = "true"
		}
	}
	return cmd, nil
}

// tokenize splits s on whitespace, keeping quoted runs together.
func tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		quote   rune
		inToken bool
	)
	for _, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				current.WriteRune(c)
			}
		case c == '"':
			quote = c
			inToken = true
		case c == ' ' || c == '\t' || c == '\n':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(c)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// Route parses and routes a command to its handler.
func (r *Router) Route(ctx context.Context, text string, evt *event.Event) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handlerKey := cmd.Name
	if cmd.Subcommand != "" {
		handlerKey = cmd.Name + "." + cmd.Subcommand
	}
	handler, ok := r.handlers[handlerKey]
	if !ok {
		handler, ok = r.handlers[cmd.Name]
		if !ok {
			return "", fmt.Errorf("unknown command: %s (try `%s help`)", cmd.FullCommand(), r.prefix)
		}
	}
	return handler(ctx, cmd, evt)
}

// GetFlag returns a flag value with a default.
func (c *Command) GetFlag(name, defaultValue string) string {
	if val, ok := c.Flags[name]; ok {
		return val
	}
	return defaultValue
}

// HasFlag checks if a flag is present.
func (c *Command) HasFlag(name string) bool {
	_, ok := c.Flags[name]
	return ok
}

// GetArg returns an argument by index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

// Rest joins the arguments from index on with single spaces.
func (c *Command) Rest(index int) string {
	if index >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[index:], " ")
}

// FullCommand returns the full command string.
func (c *Command) FullCommand() string {
	if c.Subcommand != "" {
		return c.Name + " " + c.Subcommand
	}
	return c.Name
}
