package lineprotocol

import (
	"regexp"
	"strconv"

	"github.com/basekick-labs/lpstream/pkg/models"
)

var (
	floatPattern     = regexp.MustCompile(`^[+-]?(?:[0-9]+(?:\.[0-9]+)?|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)
	integerPattern   = regexp.MustCompile(`^[+-]?[0-9]+[iu]$`)
	timestampPattern = regexp.MustCompile(`^-?[0-9]+$`)
)

// DecodeBoolean decodes t, T, true, True, f, F, false or False.
func DecodeBoolean(raw string) (models.Value, error) {
	switch raw {
	case "t", "T", "true", "True":
		return models.BoolValue(true), nil
	case "f", "F", "false", "False":
		return models.BoolValue(false), nil
	}
	return models.Value{}, ErrInvalidBoolean
}

// DecodeNumeric decodes a float (1, -2.5, .4, 1e2) or an integer with an
// i or u suffix (3i, -1u). The u suffix is accepted for compatibility but
// the value is still a signed 64-bit integer.
func DecodeNumeric(raw string) (models.Value, error) {
	if floatPattern.MatchString(raw) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Value{}, ErrInvalidNumeric
		}
		return models.FloatValue(f), nil
	}
	if integerPattern.MatchString(raw) {
		i, err := strconv.ParseInt(raw[:len(raw)-1], 10, 64)
		if err != nil {
			return models.Value{}, ErrInvalidNumeric
		}
		return models.IntValue(i), nil
	}
	return models.Value{}, ErrInvalidNumeric
}

// DecodeTimestamp decodes an optionally negative decimal integer.
func DecodeTimestamp(raw string) (int64, error) {
	if !timestampPattern.MatchString(raw) {
		return 0, ErrInvalidTimestamp
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidTimestamp
	}
	return ts, nil
}
