package llm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxNameLength is the longest speaker name the completion API accepts.
const MaxNameLength = 64

// foldAccents decomposes characters and drops the combining marks, so that
// "Zoë" becomes "Zoe". Transformers carry state, so each call builds its own.
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// SanitizeName maps a display name onto [A-Za-z0-9_-]{0,64}. Accents are
// folded, whitespace becomes "_" and everything else is dropped. An empty
// result means the message should carry no name.
func SanitizeName(display string) string {
	folded, _, err := transform.String(foldAccents(), display)
	if err != nil {
		folded = display
	}

	var b strings.Builder
	for _, r := range folded {
		if b.Len() >= MaxNameLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
