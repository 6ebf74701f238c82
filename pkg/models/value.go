package models

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// ValueKind identifies the type held by a Value.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindString
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
}

// Value is a field value: a boolean, a signed 64-bit integer, a 64-bit
// float or a string. The zero Value is invalid.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
}

func BoolValue(v bool) Value     { return Value{kind: KindBoolean, b: v} }
func IntValue(v int64) Value     { return Value{kind: KindInteger, i: v} }
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsValid() bool   { return v.kind != KindInvalid }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Str() string     { return v.s }

// Interface returns the value as bool, int64, float64 or string.
// An invalid Value returns nil.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

// String renders the value for humans and logs, e.g. Integer(1).
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return "Boolean(" + strconv.FormatBool(v.b) + ")"
	case KindInteger:
		return "Integer(" + strconv.FormatInt(v.i, 10) + ")"
	case KindFloat:
		return "Float(" + strconv.FormatFloat(v.f, 'g', -1, 64) + ")"
	case KindString:
		return "String(" + strconv.Quote(v.s) + ")"
	default:
		return "Invalid"
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	return v == o
}

// MarshalJSON encodes the value as its native JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}
