// Package window selects which logged turns accompany a completion request.
//
// The system prompt is reserved first and the triggering turn second; the
// remaining budget is filled with history walking from newest to oldest and
// stopping at the first turn that does not fit. Recency is the only
// priority, so the selection is always a contiguous suffix of the eligible
// history.
package window

import (
	"fmt"

	"github.com/bdobrica/Chatter/internal/chatter/history"
	"github.com/bdobrica/Chatter/internal/chatter/llm"
	"github.com/bdobrica/Chatter/internal/chatter/tokens"
)

// Input is everything Build needs for one request.
type Input struct {
	SystemPrompt string
	// History holds the prior turns in ascending timestamp order, without
	// Latest.
	History []history.Turn
	// Latest is the turn that triggered the request. It is always sent.
	Latest  history.Turn
	Budget  int
	Model   string
	Counter tokens.Counter
	// Blocked reports user and room IDs whose turns must never be sent.
	// Nil blocks nothing.
	Blocked func(id string) bool
}

// Window is the built request context.
type Window struct {
	// Messages is [system] + selected history + [latest], ready for the
	// provider.
	Messages []llm.Message
	// Turns is the selected history followed by Latest.
	Turns []history.Turn
	// Tokens is the estimated cost of Messages.
	Tokens       int
	SystemTokens int
	// Dropped counts eligible turns left out for lack of budget.
	Dropped int
	// Excluded counts turns left out because of the block-list.
	Excluded int
	// Degenerate is set when the system prompt alone exceeds the budget and
	// the window holds nothing else.
	Degenerate bool
}

// Build selects the window for in.
func Build(in Input) Window {
	counter := in.Counter
	if counter == nil {
		counter = tokens.NewHeuristic()
	}
	cost := func(t history.Turn) int { return counter.Count(t.Content, in.Model) }

	w := Window{SystemTokens: counter.Count(in.SystemPrompt, in.Model)}
	system := llm.Message{Role: string(history.RoleSystem), Content: in.SystemPrompt}

	eligible := make([]history.Turn, 0, len(in.History))
	for _, t := range in.History {
		if t.Role == history.RoleSystem {
			continue
		}
		if in.Blocked != nil && (in.Blocked(t.AuthorID) || in.Blocked(t.ChannelID)) {
			w.Excluded++
			continue
		}
		eligible = append(eligible, t)
	}

	if w.SystemTokens > in.Budget {
		w.Degenerate = true
		w.Dropped = len(eligible)
		w.Tokens = w.SystemTokens
		w.Messages = []llm.Message{system}
		return w
	}

	reserved := w.SystemTokens + cost(in.Latest)
	used := 0
	start := len(eligible)
	for i := len(eligible) - 1; i >= 0; i-- {
		c := cost(eligible[i])
		if reserved+used+c > in.Budget {
			break
		}
		used += c
		start = i
	}

	selected := eligible[start:]
	w.Dropped = start
	w.Tokens = reserved + used
	w.Turns = make([]history.Turn, 0, len(selected)+1)
	w.Turns = append(w.Turns, selected...)
	w.Turns = append(w.Turns, in.Latest)

	w.Messages = make([]llm.Message, 0, len(w.Turns)+1)
	w.Messages = append(w.Messages, system)
	for _, t := range w.Turns {
		w.Messages = append(w.Messages, message(t))
	}
	return w
}

func message(t history.Turn) llm.Message {
	m := llm.Message{Role: string(t.Role), Content: t.Content}
	if t.Role == history.RoleUser {
		m.Name = llm.SanitizeName(t.Speaker)
	}
	return m
}

// Summary renders the window's accounting for debug output.
func (w Window) Summary(budget int) string {
	s := fmt.Sprintf("context: %d turns, ~%d/%d tokens (system %d)", len(w.Turns), w.Tokens, budget, w.SystemTokens)
	if w.Dropped > 0 {
		s += fmt.Sprintf(", %d older turns dropped", w.Dropped)
	}
	if w.Excluded > 0 {
		s += fmt.Sprintf(", %d blocked turns excluded", w.Excluded)
	}
	if w.Degenerate {
		s += ", system prompt exceeds budget"
	}
	return s
}
