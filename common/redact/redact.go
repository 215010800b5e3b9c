// Package redact strips secrets (completion API keys, Matrix access tokens)
// from strings and errors before they are logged or shown in a room.
//
// Redaction works on string representations and depends on the caller
// passing the right values. It does not replace keeping secrets away from
// log call-sites.
package redact

import "strings"

const placeholder = "[REDACTED]"

// minSecretLength guards against blanking common short substrings.
const minSecretLength = 4

// String replaces every occurrence of each secret in s with [REDACTED].
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < minSecretLength {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// redactedError keeps the original chain for errors.Is / errors.As while
// presenting a cleaned message.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// Error returns err with every secret removed from its message. A nil err
// stays nil, and an error whose text contains no secret is returned as is.
func Error(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := String(msg, secrets...)
	if clean == msg {
		return err
	}
	return &redactedError{msg: clean, err: err}
}
