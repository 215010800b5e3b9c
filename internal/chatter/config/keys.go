package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// KeyModel overrides the completion model.
	KeyModel = "chat.model"
	// KeyMaxOutputTokens overrides the per-reply output token cap.
	KeyMaxOutputTokens = "chat.max_output_tokens"
)

// maxOutputTokensLimit is the largest accepted output cap.
const maxOutputTokensLimit = 4096

// Key describes a permitted runtime knob.
type Key struct {
	Name        string
	Description string
	validate    func(string) error
}

// Validate checks value for the key.
func (k Key) Validate(value string) error {
	if k.validate == nil {
		return nil
	}
	return k.validate(value)
}

// Keys is the allowlist of runtime knobs, in display order.
var Keys = []Key{
	{
		Name:        KeyModel,
		Description: "completion model name",
		validate: func(v string) error {
			if strings.ContainsAny(v, " \t\n") {
				return fmt.Errorf("model name must not contain whitespace")
			}
			return nil
		},
	},
	{
		Name:        KeyMaxOutputTokens,
		Description: "maximum tokens per reply",
		validate: func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxOutputTokensLimit {
				return fmt.Errorf("must be an integer in [1, %d]", maxOutputTokensLimit)
			}
			return nil
		},
	},
}

// Lookup returns the permitted key called name.
func Lookup(name string) (Key, bool) {
	for _, k := range Keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

// KeyList renders the allowlist for error messages.
func KeyList() string {
	names := make([]string, len(Keys))
	for i, k := range Keys {
		names[i] = "`" + k.Name + "`"
	}
	return strings.Join(names, ", ")
}
