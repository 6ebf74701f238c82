// Package lineprotocol implements an incremental parser for the InfluxDB
// line protocol.
//
// Line Protocol Format:
//
//	measurement[,tag_key=tag_value...] field_key=field_value[,field_key=field_value...] [timestamp]
//
// Examples:
//
//	cpu,host=server01,region=us-west usage_idle=90.5,usage_system=2.1 1609459200000000000
//	temperature,sensor=bedroom temp=22.5
//	http_requests,method=GET,status=200 count=1i
//
// A Parser accepts input in chunks of any size. A token that is cut by the
// end of a chunk is carried over to the next call, so feeding a buffer in
// one call or one byte at a time yields the same records. A record is
// emitted only once its terminating newline has been seen.
//
// A malformed line never stops the stream. The parser reports a
// *ParseError to the configured DiagnosticFunc, discards the line and
// resumes at the next newline.
package lineprotocol

import (
	"bytes"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/basekick-labs/lpstream/pkg/models"
)

// DiagnosticFunc receives the reason each discarded line was dropped.
type DiagnosticFunc func(err error)

// LoggerDiagnostics returns a DiagnosticFunc that logs every parse error at
// warn level.
func LoggerDiagnostics(logger zerolog.Logger) DiagnosticFunc {
	return func(err error) {
		ev := logger.Warn().Err(err).Str("error_kind", ErrorKind(err))
		var pe *ParseError
		if errors.As(err, &pe) && pe.Series != "" {
			ev = ev.Str("series", pe.Series)
		}
		ev.Msg("Discarded line protocol line")
	}
}

// Config holds parser configuration
type Config struct {
	// Escapes selects how backslash escapes are decoded. Default: EscapeStrict.
	Escapes EscapeStrategy
	// Diagnostics receives one error per discarded line. Default: the global
	// zerolog logger.
	Diagnostics DiagnosticFunc
}

// DefaultConfig returns the default parser configuration.
func DefaultConfig() *Config {
	return &Config{
		Escapes:     EscapeStrict,
		Diagnostics: LoggerDiagnostics(log.With().Str("component", "lineprotocol").Logger()),
	}
}

// Parser is an incremental line protocol parser. It is not safe for
// concurrent use; use one Parser per input stream.
type Parser struct {
	escapes     EscapeStrategy
	diagnostics DiagnosticFunc

	state    state
	escaped  bool   // previous byte was an unconsumed backslash
	carry    []byte // raw bytes of the token being scanned
	tokenLen int    // length of the token being scanned, also when discarding
	discard  bool   // following the current line without storing it
	rec     *models.Record
	key     string // key awaiting its value
}

// NewParser creates a parser. A nil config selects DefaultConfig.
func NewParser(cfg *Config) *Parser {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	diagnostics := cfg.Diagnostics
	if diagnostics == nil {
		diagnostics = func(error) {}
	}
	return &Parser{
		escapes:     cfg.Escapes,
		diagnostics: diagnostics,
	}
}

// Escapes returns the escape strategy the parser was created with.
func (p *Parser) Escapes() EscapeStrategy {
	return p.escapes
}

// Feed parses chunk and returns the records whose lines ended in it.
func (p *Parser) Feed(chunk []byte) []*models.Record {
	var records []*models.Record
	p.FeedFunc(chunk, func(rec *models.Record) {
		records = append(records, rec)
	})
	return records
}

// FeedByte parses a single byte.
func (p *Parser) FeedByte(b byte) []*models.Record {
	return p.Feed([]byte{b})
}

// FeedString parses text that is already encoded as bytes.
func (p *Parser) FeedString(s string) []*models.Record {
	return p.Feed([]byte(s))
}

// FeedFunc parses chunk and calls fn once for every record whose line ended
// in it, in input order.
func (p *Parser) FeedFunc(chunk []byte, fn func(*models.Record)) {
	for i := 0; i < len(chunk); {
		i = p.step(chunk, i, fn)
	}
}

// Reset discards any partially read line.
func (p *Parser) Reset() {
	p.state = stateLineStart
	p.escaped = false
	p.carry = p.carry[:0]
	p.tokenLen = 0
	p.discard = false
	p.rec = nil
	p.key = ""
}

// AtLineStart reports whether the last byte fed ended a line. A newline
// inside a string field or after a backslash does not.
func (p *Parser) AtLineStart() bool {
	return p.state == stateLineStart && !p.discard
}

// DiscardLine drops the line being parsed. The parser keeps tracking the
// line's structure so that it ends at the same newline it otherwise would,
// but stores none of it and reports neither a record nor a diagnostic.
// Values are not decoded while discarding.
func (p *Parser) DiscardLine() {
	p.discard = true
	p.carry = p.carry[:0]
	p.rec = nil
}

// Discarding reports whether the current line is being discarded.
func (p *Parser) Discarding() bool {
	return p.discard
}

// step runs the current state on chunk[i:] and returns the index of the
// first byte it did not consume.
func (p *Parser) step(chunk []byte, i int, fn func(*models.Record)) int {
	switch p.state {
	case stateLineStart:
		switch c := chunk[i]; {
		case c == '\n':
			p.discard = false
			return i + 1
		case blanks.has(c):
			return i + 1
		case c == '#':
			p.state = stateComment
			return i + 1
		case c == ',':
			p.fail(ErrMissingMeasurement, "", false)
			return i + 1
		default:
			if !p.discard {
				p.rec = &models.Record{}
			}
			p.state = stateMeasurement
			return i
		}

	case stateComment, stateInvalid:
		n := bytes.IndexByte(chunk[i:], '\n')
		if n < 0 {
			return len(chunk)
		}
		p.Reset()
		return i + n + 1

	case stateMeasurement:
		j := p.scan(chunk, i, measurementDelims)
		if j == len(chunk) {
			return j
		}
		raw := p.take()
		if !p.discard {
			p.rec.Series = p.escapes.Unescape(TokenMeasurement, raw)
		}
		switch chunk[j] {
		case ',':
			if !p.discard {
				p.rec.HasTags = true
			}
			p.state = stateTagKey
		case ' ':
			p.state = stateFieldSetWhitespace
		default:
			p.fail(ErrMissingFields, "", true)
		}
		return j + 1

	case stateTagKey, stateFieldKey:
		j := p.scan(chunk, i, keyDelims)
		if j == len(chunk) {
			return j
		}
		empty := p.tokenLen == 0
		raw := p.take()
		if chunk[j] == '\n' {
			p.fail(ErrUnterminatedKey, raw, true)
			return j + 1
		}
		if empty {
			p.fail(ErrEmptyKey, "", false)
			return j + 1
		}
		if p.state == stateTagKey {
			p.key = p.escapes.Unescape(TokenTagKey, raw)
			p.state = stateTagValue
		} else {
			p.key = p.escapes.Unescape(TokenFieldKey, raw)
			p.state = stateFieldValue
		}
		return j + 1

	case stateTagValue:
		j := p.scan(chunk, i, tagValueDelims)
		if j == len(chunk) {
			return j
		}
		raw := p.take()
		switch chunk[j] {
		case ',':
			p.setTag(raw)
			p.state = stateTagKey
		case ' ':
			p.setTag(raw)
			p.state = stateFieldSetWhitespace
		default:
			p.fail(ErrMissingFields, "", true)
		}
		return j + 1

	case stateFieldSetWhitespace:
		switch c := chunk[i]; {
		case blanks.has(c):
			return i + 1
		case c == '\n':
			p.fail(ErrMissingFields, "", true)
			return i + 1
		default:
			p.state = stateFieldKey
			return i
		}

	case stateFieldValue:
		switch c := chunk[i]; {
		case c == '"':
			p.state = stateFieldString
			return i + 1
		case booleanStart.has(c):
			p.state = stateFieldBoolean
			return i
		case numericStart.has(c):
			p.state = stateFieldNumeric
			return i
		default:
			p.fail(ErrInvalidFieldValueStart, string(c), c == '\n')
			return i + 1
		}

	case stateFieldBoolean, stateFieldNumeric:
		j := p.scan(chunk, i, fieldValueDelims)
		if j == len(chunk) {
			return j
		}
		p.endFieldValue(chunk[j], fn)
		return j + 1

	case stateFieldString:
		j := p.scan(chunk, i, stringDelims)
		if j == len(chunk) {
			return j
		}
		raw := p.take()
		if !p.discard {
			p.rec.SetField(p.key, models.StringValue(p.escapes.Unescape(TokenString, raw)))
		}
		p.state = stateFieldStringEnd
		return j + 1

	case stateFieldStringEnd:
		switch c := chunk[i]; c {
		case ',':
			p.state = stateFieldKey
		case ' ':
			p.state = stateTimestampWhitespace
		case '\n':
			p.emit(fn)
		default:
			p.fail(ErrMalformedStringTrailer, string(c), false)
		}
		return i + 1

	case stateTimestampWhitespace:
		switch c := chunk[i]; {
		case blanks.has(c):
			return i + 1
		case c == '\n':
			p.fail(ErrMissingTimestamp, "", true)
			return i + 1
		default:
			p.state = stateTimestamp
			return i
		}

	case stateTimestamp:
		j := p.scan(chunk, i, timestampDelims)
		if j == len(chunk) {
			return j
		}
		raw := p.take()
		if p.discard {
			p.emit(fn)
			return j + 1
		}
		ts, err := DecodeTimestamp(raw)
		if err != nil {
			p.fail(err, raw, true)
			return j + 1
		}
		p.rec.SetTimestamp(ts)
		p.emit(fn)
		return j + 1
	}

	// Unreachable: every state is handled above.
	p.Reset()
	return i + 1
}

// endFieldValue finishes a boolean or numeric field at delimiter c.
func (p *Parser) endFieldValue(c byte, fn func(*models.Record)) {
	raw := p.take()
	if p.discard {
		p.endValue(c, fn)
		return
	}
	var (
		v   models.Value
		err error
	)
	if p.state == stateFieldBoolean {
		v, err = DecodeBoolean(raw)
		if err != nil && c == '\n' {
			// An invalid boolean at the end of the line drops the line
			// without a diagnostic, unlike every other invalid value.
			p.Reset()
			return
		}
	} else {
		v, err = DecodeNumeric(raw)
	}
	if err != nil {
		p.fail(err, raw, c == '\n')
		return
	}

	p.rec.SetField(p.key, v)
	p.endValue(c, fn)
}

func (p *Parser) endValue(c byte, fn func(*models.Record)) {
	switch c {
	case ',':
		p.state = stateFieldKey
	case ' ':
		p.state = stateTimestampWhitespace
	default:
		p.emit(fn)
	}
}

func (p *Parser) setTag(raw string) {
	if !p.discard {
		p.rec.SetTag(p.key, p.escapes.Unescape(TokenTagValue, raw))
	}
}

// scan copies token bytes from chunk[i:] into the carry buffer up to the
// first unescaped byte in delims and returns its index, or len(chunk) when
// the chunk ends first. Escaping backslashes are kept in the token.
func (p *Parser) scan(chunk []byte, i int, delims *byteSet) int {
	start := i
	for ; i < len(chunk); i++ {
		c := chunk[i]
		if p.escaped {
			p.escaped = false
			continue
		}
		if c == '\\' {
			p.escaped = true
			continue
		}
		if delims.has(c) {
			break
		}
	}
	p.tokenLen += i - start
	if !p.discard {
		p.carry = append(p.carry, chunk[start:i]...)
	}
	return i
}

// take returns the carried token and clears the carry buffer.
func (p *Parser) take() string {
	raw := string(p.carry)
	p.carry = p.carry[:0]
	p.tokenLen = 0
	return raw
}

func (p *Parser) emit(fn func(*models.Record)) {
	rec, discard := p.rec, p.discard
	p.Reset()
	if !discard {
		fn(rec)
	}
}

// fail reports err for the current line and discards it. When atEOL is true
// the byte that caused the error was the newline ending the line, so the
// parser starts the next line right away; otherwise it skips to the next
// newline first.
func (p *Parser) fail(err error, token string, atEOL bool) {
	if p.discard {
		p.Reset()
		if !atEOL {
			p.state = stateInvalid
		}
		return
	}
	pe := &ParseError{Err: err, Token: token}
	if p.rec != nil {
		pe.Series = p.rec.Series
	}
	p.Reset()
	if !atEOL {
		p.state = stateInvalid
	}
	p.diagnostics(pe)
}
