/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package guard

import (
	"crypto/rand"
	"regexp"
	"strings"
)

const (
	DefaultMaxLen = 32

	fallbackLen = 8
	letters     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type sanitizeOptions struct {
	maxLen  int
	pattern *regexp.Regexp
}

type SanitizeOption func(*sanitizeOptions)

func WithMaxLen(n int) SanitizeOption {
	return func(o *sanitizeOptions) {
		if n > 0 {
			o.maxLen = n
		}
	}
}

// WithPattern adds a stricter pattern the cleaned value must match. The
// charset restriction to [A-Za-z0-9_-] always applies.
func WithPattern(re *regexp.Regexp) SanitizeOption {
	return func(o *sanitizeOptions) {
		if re != nil {
			o.pattern = re
		}
	}
}

// Clean trims raw, truncates it to maxLen runes and drops every rune outside
// [A-Za-z0-9_-]. The result may be empty.
func Clean(raw string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	trimmed := []rune(strings.TrimSpace(raw))
	if len(trimmed) > maxLen {
		trimmed = trimmed[:maxLen]
	}

	var b strings.Builder
	b.Grow(len(trimmed))

	for _, r := range trimmed {
		if isIdentifierRune(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// SanitizeIdentifier never fails: when the cleaned value does not satisfy
// the pattern, a fresh random token is returned instead, so callers must not
// assume the output resembles the input.
func SanitizeIdentifier(raw string, opts ...SanitizeOption) string {
	o := sanitizeOptions{maxLen: DefaultMaxLen, pattern: identifierPattern}
	for _, opt := range opts {
		opt(&o)
	}

	cleaned := Clean(raw, o.maxLen)
	if cleaned != "" && o.pattern.MatchString(cleaned) {
		return cleaned
	}

	return RandomToken(min(fallbackLen, o.maxLen))
}

// RandomToken returns n crypto-random alphanumerics.
func RandomToken(n int) string {
	if n <= 0 {
		n = fallbackLen
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(buf[i])%len(letters)]
	}

	return string(out)
}

func isIdentifierRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z',
		r >= 'A' && r <= 'Z',
		r >= '0' && r <= '9',
		r == '_', r == '-':
		return true
	}

	return false
}
