package confirm

import (
	"errors"
	"fmt"
	"strings"
)

// Decision is a parsed answer message.
type Decision struct {
	Confirm bool
	// ID is the question being answered. Empty for a bare "yes"/"no", which
	// answers the newest question of the sender in the room.
	ID string
}

// ErrNotADecision is returned when a message is not an answer.
var ErrNotADecision = errors.New("not a confirmation decision")

// ParseDecision parses a plain room message into a decision.
//
// Accepted formats (case-insensitive):
//
//	confirm <id>
//	cancel <id>
//	yes | y | no | n
func ParseDecision(text string) (*Decision, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return nil, ErrNotADecision
	}

	switch fields[0] {
	case "yes", "y":
		if len(fields) == 1 {
			return &Decision{Confirm: true}, nil
		}
		return nil, ErrNotADecision
	case "no", "n":
		if len(fields) == 1 {
			return &Decision{Confirm: false}, nil
		}
		return nil, ErrNotADecision
	case "confirm", "cancel":
	default:
		return nil, ErrNotADecision
	}

	confirm := fields[0] == "confirm"
	if len(fields) != 2 {
		return nil, fmt.Errorf("usage: %s <id>", fields[0])
	}
	return &Decision{Confirm: confirm, ID: fields[1]}, nil
}
