package lineprotocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/basekick-labs/lpstream/pkg/models"
)

// AppendRecord appends rec to dst as one line of line protocol, including
// the trailing newline. Text is escaped for the given strategy, so parsing
// the line with that strategy yields an equal record.
//
// Floats are written in their shortest form without a suffix, integers with
// an i suffix. On error dst is returned without a partial line.
func AppendRecord(dst []byte, rec *models.Record, escapes EscapeStrategy) ([]byte, error) {
	if rec.Series == "" {
		return dst, errors.New("lineprotocol: record has no series")
	}
	if len(rec.Fields) == 0 {
		return dst, fmt.Errorf("lineprotocol: record %q has no fields", rec.Series)
	}

	n := len(dst)
	series, err := escapes.Escape(TokenMeasurement, rec.Series)
	if err != nil {
		return dst[:n], err
	}
	dst = append(dst, series...)

	for _, tag := range rec.Tags {
		if tag.Key == "" {
			return dst[:n], fmt.Errorf("lineprotocol: record %q has an empty tag key", rec.Series)
		}
		key, err := escapes.Escape(TokenTagKey, tag.Key)
		if err != nil {
			return dst[:n], err
		}
		value, err := escapes.Escape(TokenTagValue, tag.Value)
		if err != nil {
			return dst[:n], err
		}
		dst = append(dst, ',')
		dst = append(dst, key...)
		dst = append(dst, '=')
		dst = append(dst, value...)
	}

	for i, field := range rec.Fields {
		if field.Key == "" {
			return dst[:n], fmt.Errorf("lineprotocol: record %q has an empty field key", rec.Series)
		}
		key, err := escapes.Escape(TokenFieldKey, field.Key)
		if err != nil {
			return dst[:n], err
		}
		if i == 0 {
			dst = append(dst, ' ')
		} else {
			dst = append(dst, ',')
		}
		dst = append(dst, key...)
		dst = append(dst, '=')
		if dst, err = appendValue(dst, field.Value, escapes); err != nil {
			return dst[:n], fmt.Errorf("lineprotocol: field %q: %w", field.Key, err)
		}
	}

	if rec.HasTimestamp {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, rec.Timestamp, 10)
	}
	return append(dst, '\n'), nil
}

func appendValue(dst []byte, v models.Value, escapes EscapeStrategy) ([]byte, error) {
	switch v.Kind() {
	case models.KindBoolean:
		return strconv.AppendBool(dst, v.Bool()), nil
	case models.KindInteger:
		dst = strconv.AppendInt(dst, v.Int(), 10)
		return append(dst, 'i'), nil
	case models.KindFloat:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return dst, fmt.Errorf("non-finite float %v: %w", f, ErrUnrepresentable)
		}
		return strconv.AppendFloat(dst, f, 'g', -1, 64), nil
	case models.KindString:
		s, err := escapes.Escape(TokenString, v.Str())
		if err != nil {
			return dst, err
		}
		dst = append(dst, '"')
		dst = append(dst, s...)
		return append(dst, '"'), nil
	default:
		return dst, errors.New("invalid value")
	}
}
