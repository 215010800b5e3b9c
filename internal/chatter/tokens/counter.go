// Package tokens estimates how many model tokens a piece of text costs.
//
// Estimates are approximate but deterministic and monotonic in text length,
// which is all the context window builder needs to converge.
package tokens

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Counter returns a non-negative token estimate for text under model.
type Counter interface {
	Count(text, model string) int
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(text, model string) int

// Count calls f and clamps negative results to zero.
func (f CounterFunc) Count(text, model string) int {
	if n := f(text, model); n > 0 {
		return n
	}
	return 0
}

// DefaultCharsPerToken is the usual ratio for English text on GPT-style
// byte-pair vocabularies.
const DefaultCharsPerToken = 4.0

// Heuristic estimates tokens as ceil(runes / charsPerToken). Ratios are
// looked up by model prefix, longest match first.
type Heuristic struct {
	// Ratios maps a model name prefix to its characters-per-token ratio.
	Ratios map[string]float64
	// Default applies when no prefix matches. Zero means DefaultCharsPerToken.
	Default float64
}

// NewHeuristic returns a Heuristic with ratios for common model families.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		Ratios: map[string]float64{
			"gpt-4o":        4.0,
			"gpt-4":         3.8,
			"gpt-3.5-turbo": 3.8,
			"claude":        3.5,
			"llama":         3.6,
			"mistral":       3.6,
		},
		Default: DefaultCharsPerToken,
	}
}

// Count implements Counter.
func (h *Heuristic) Count(text, model string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / h.ratio(model)))
}

func (h *Heuristic) ratio(model string) float64 {
	best, bestLen := h.Default, -1
	model = strings.ToLower(model)
	for prefix, r := range h.Ratios {
		if r > 0 && strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = r, len(prefix)
		}
	}
	if best <= 0 {
		return DefaultCharsPerToken
	}
	return best
}
