package models

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSetters(t *testing.T) {
	rec := &Record{Series: "cpu"}
	assert.Nil(t, rec.TagMap())

	rec.SetTag("host", "a")
	rec.SetTag("region", "eu")
	rec.SetTag("host", "b")
	assert.True(t, rec.HasTags)
	assert.Equal(t, []Tag{{Key: "host", Value: "b"}, {Key: "region", Value: "eu"}}, rec.Tags)

	rec.SetField("x", IntValue(1))
	rec.SetField("y", BoolValue(true))
	rec.SetField("x", FloatValue(2))
	require.Len(t, rec.Fields, 2)
	assert.Equal(t, "x", rec.Fields[0].Key)
	assert.Equal(t, KindFloat, rec.Fields[0].Value.Kind())

	v, ok := rec.Field("y")
	assert.True(t, ok)
	assert.True(t, v.Bool())
	_, ok = rec.Field("missing")
	assert.False(t, ok)

	host, ok := rec.Tag("host")
	assert.True(t, ok)
	assert.Equal(t, "b", host)

	assert.False(t, rec.HasTimestamp)
	rec.SetTimestamp(0)
	assert.True(t, rec.HasTimestamp)
}

func TestRecordEmptyTagSet(t *testing.T) {
	rec := &Record{Series: "m", HasTags: true}
	assert.Equal(t, map[string]string{}, rec.TagMap())
}

func TestSeriesKey(t *testing.T) {
	rec := &Record{Series: "cpu"}
	assert.Equal(t, "cpu", rec.SeriesKey())

	rec.SetTag("region", "eu")
	rec.SetTag("host", "a")
	assert.Equal(t, "cpu,host=a,region=eu", rec.SeriesKey())
	// Ordering of the record itself is untouched.
	assert.Equal(t, "region", rec.Tags[0].Key)
}

func TestFieldMap(t *testing.T) {
	rec := &Record{Series: "m"}
	rec.SetField("b", BoolValue(false))
	rec.SetField("i", IntValue(-1))
	rec.SetField("f", FloatValue(0.5))
	rec.SetField("s", StringValue("x"))

	assert.Equal(t, map[string]interface{}{
		"b": false,
		"i": int64(-1),
		"f": 0.5,
		"s": "x",
	}, rec.FieldMap())
}

func TestValue(t *testing.T) {
	tests := []struct {
		v    Value
		kind ValueKind
		str  string
		json string
	}{
		{BoolValue(true), KindBoolean, "Boolean(true)", "true"},
		{IntValue(42), KindInteger, "Integer(42)", "42"},
		{FloatValue(1.5), KindFloat, "Float(1.5)", "1.5"},
		{StringValue(`a"b`), KindString, `String("a\"b")`, `"a\"b"`},
		{Value{}, KindInvalid, "Invalid", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.v.Kind())
			assert.Equal(t, tt.kind != KindInvalid, tt.v.IsValid())
			assert.Equal(t, tt.str, tt.v.String())

			data, err := json.Marshal(tt.v)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))
		})
	}
}

func TestValueEqual(t *testing.T) {
	assert.True(t, IntValue(1).Equal(IntValue(1)))
	assert.False(t, IntValue(1).Equal(FloatValue(1)))
	assert.False(t, StringValue("a").Equal(StringValue("b")))
	assert.False(t, FloatValue(math.NaN()).Equal(FloatValue(math.NaN())))
	assert.Equal(t, "integer", KindInteger.String())
}
