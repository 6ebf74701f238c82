package lineprotocol

import (
	"fmt"
	"strings"
)

// TokenKind identifies the part of a line a token was read from. Escaping
// rules differ per kind.
type TokenKind uint8

const (
	TokenMeasurement TokenKind = iota
	TokenTagKey
	TokenTagValue
	TokenFieldKey
	TokenString
	numTokenKinds
)

func (k TokenKind) String() string {
	switch k {
	case TokenMeasurement:
		return "measurement"
	case TokenTagKey:
		return "tag key"
	case TokenTagValue:
		return "tag value"
	case TokenFieldKey:
		return "field key"
	case TokenString:
		return "string value"
	default:
		return fmt.Sprintf("TokenKind(%d)", uint8(k))
	}
}

// EscapeStrategy selects which backslash escapes are undone when a token
// is decoded.
type EscapeStrategy uint8

const (
	// EscapeStrict undoes every escape the scanner honours for a token kind,
	// so any text made of the escapable bytes survives a round trip.
	EscapeStrict EscapeStrategy = iota
	// EscapeCompat matches the upstream InfluxDB parser, which keeps the
	// backslash of most escapes: only \, \= \space (and \" in strings) are
	// undone. Backslashes before newline, NUL, tab and a trailing backslash
	// stay in the decoded text.
	EscapeCompat
)

func (s EscapeStrategy) String() string {
	switch s {
	case EscapeStrict:
		return "strict"
	case EscapeCompat:
		return "compat"
	default:
		return fmt.Sprintf("EscapeStrategy(%d)", uint8(s))
	}
}

// ParseEscapeStrategy parses "strict" or "compat". An empty string selects
// the default, EscapeStrict.
func ParseEscapeStrategy(s string) (EscapeStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return EscapeStrict, nil
	case "compat":
		return EscapeCompat, nil
	default:
		return EscapeStrict, fmt.Errorf("unknown escape strategy %q (want strict or compat)", s)
	}
}

// escapeRule lists the bytes whose escaping backslash is dropped.
type escapeRule struct {
	anywhere string // \c collapses to c at any position
	leading  string // \c collapses to c only at the start of the token
	trailing bool   // a final \\ collapses to a single backslash
}

func (r *escapeRule) collapses(c byte, first bool) bool {
	return strings.IndexByte(r.anywhere, c) >= 0 || (first && strings.IndexByte(r.leading, c) >= 0)
}

func (r *escapeRule) apply(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 == len(raw) {
			b.WriteByte(c)
			continue
		}
		next := raw[i+1]
		switch {
		case r.collapses(next, i == 0):
			b.WriteByte(next)
		case next == '\\' && r.trailing && i+2 == len(raw):
			b.WriteByte('\\')
		default:
			b.WriteByte(c)
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}

var strictRules = [numTokenKinds]escapeRule{
	TokenMeasurement: {anywhere: ", \n", leading: "#\x00\t", trailing: true},
	TokenTagKey:      {anywhere: ",= \n", trailing: true},
	TokenTagValue:    {anywhere: ",= \n", trailing: true},
	TokenFieldKey:    {anywhere: ",= \n", leading: "\x00\t", trailing: true},
	TokenString:      {anywhere: `"`},
}

var compatRules = [numTokenKinds]escapeRule{
	TokenMeasurement: {anywhere: ", "},
	TokenTagKey:      {anywhere: ",= "},
	TokenTagValue:    {anywhere: ",= "},
	TokenFieldKey:    {anywhere: ",= "},
	TokenString:      {anywhere: `"`},
}

func (s EscapeStrategy) rule(kind TokenKind) *escapeRule {
	if kind >= numTokenKinds {
		return nil
	}
	if s == EscapeCompat {
		return &compatRules[kind]
	}
	return &strictRules[kind]
}

// Unescape decodes a raw token of the given kind. Escapes the strategy does
// not recognise are left as they are. Unescape never fails.
func (s EscapeStrategy) Unescape(kind TokenKind, raw string) string {
	r := s.rule(kind)
	if r == nil || strings.IndexByte(raw, '\\') < 0 {
		return raw
	}
	return r.apply(raw)
}

// Escape encodes text as a raw token of the given kind such that Unescape
// with the same strategy returns text and the scanner reads it as a single
// token. It returns ErrUnrepresentable when no such encoding exists, for
// example a newline under EscapeCompat or a backslash right before a
// delimiter.
func (s EscapeStrategy) Escape(kind TokenKind, text string) (string, error) {
	r := s.rule(kind)
	if r == nil {
		return "", fmt.Errorf("escape %s: %w", kind, ErrUnrepresentable)
	}

	var b strings.Builder
	b.Grow(len(text) + 2)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if r.collapses(c, i == 0) {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	if r.trailing && strings.HasSuffix(text, `\`) {
		b.WriteByte('\\')
	}

	out := b.String()
	if !scansAsToken(kind, out) || s.Unescape(kind, out) != text {
		return "", fmt.Errorf("escape %s %q: %w", kind, text, ErrUnrepresentable)
	}
	return out, nil
}

// scansAsToken reports whether the scanner would read raw as one complete
// token of the given kind: no unescaped delimiter, no dangling escape and,
// where the preceding state skips whitespace, no unescaped leading blank.
func scansAsToken(kind TokenKind, raw string) bool {
	delims := tokenDelims[kind]
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if delims.has(c) {
			return false
		}
		if i == 0 && leadingSkipped[kind].has(c) {
			return false
		}
	}
	return !escaped
}
