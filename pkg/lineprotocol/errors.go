package lineprotocol

import (
	"errors"
	"fmt"
	"strconv"
)

// Line-level parse errors. None of them is fatal to the stream: the parser
// reports the error to its DiagnosticFunc, discards the line and resumes at
// the next newline.
var (
	ErrEmptyKey               = errors.New("empty key")
	ErrUnterminatedKey        = errors.New("newline inside key")
	ErrInvalidFieldValueStart = errors.New("invalid field value")
	ErrInvalidBoolean         = errors.New("invalid boolean literal")
	ErrInvalidNumeric         = errors.New("invalid numeric literal")
	ErrInvalidTimestamp       = errors.New("invalid timestamp")
	ErrMalformedStringTrailer = errors.New("unexpected character after string value")
	ErrMissingMeasurement     = errors.New("missing measurement")
	ErrMissingFields          = errors.New("missing fields")
	ErrMissingTimestamp       = errors.New("missing timestamp")
)

// ErrUnrepresentable is returned by Escape and AppendRecord when text cannot
// be written so that the same escape strategy reads it back unchanged.
var ErrUnrepresentable = errors.New("text cannot be represented in line protocol")

// ParseError describes why a line was discarded.
type ParseError struct {
	// Err is one of the sentinel errors above.
	Err error
	// Series is the measurement of the discarded line, if it was read.
	Series string
	// Token is the raw token at fault, if any.
	Token string
}

func (e *ParseError) Error() string {
	msg := "lineprotocol: " + e.Err.Error()
	if e.Token != "" {
		msg += " " + strconv.Quote(e.Token)
	}
	if e.Series != "" {
		msg += fmt.Sprintf(" (series %q)", e.Series)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrorKind returns a short stable name for the sentinel wrapped by err,
// suitable for metric labels and log fields.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrEmptyKey):
		return "empty_key"
	case errors.Is(err, ErrUnterminatedKey):
		return "unterminated_key"
	case errors.Is(err, ErrInvalidFieldValueStart):
		return "invalid_field_value_start"
	case errors.Is(err, ErrInvalidBoolean):
		return "invalid_boolean"
	case errors.Is(err, ErrInvalidNumeric):
		return "invalid_numeric"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, ErrMalformedStringTrailer):
		return "malformed_string_trailer"
	case errors.Is(err, ErrMissingMeasurement):
		return "missing_measurement"
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrMissingTimestamp):
		return "missing_timestamp"
	default:
		return "unknown"
	}
}

// ErrorKinds lists every value ErrorKind can return for a parse error.
var ErrorKinds = []string{
	"empty_key",
	"unterminated_key",
	"invalid_field_value_start",
	"invalid_boolean",
	"invalid_numeric",
	"invalid_timestamp",
	"malformed_string_trailer",
	"missing_measurement",
	"missing_fields",
	"missing_timestamp",
}
