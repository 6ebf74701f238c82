package lineprotocol

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/lpstream/pkg/models"
)

// collector records every diagnostic a parser reports.
type collector struct {
	errs []error
}

func (c *collector) report(err error) {
	c.errs = append(c.errs, err)
}

func newTestParser(escapes EscapeStrategy) (*Parser, *collector) {
	c := &collector{}
	return NewParser(&Config{Escapes: escapes, Diagnostics: c.report}), c
}

func field(key string, v models.Value) models.Field {
	return models.Field{Key: key, Value: v}
}

func point(series string, fields ...models.Field) *models.Record {
	return &models.Record{Series: series, Fields: fields}
}

func withTags(rec *models.Record, tags ...models.Tag) *models.Record {
	rec.Tags = tags
	rec.HasTags = true
	return rec
}

func withTimestamp(rec *models.Record, ts int64) *models.Record {
	rec.SetTimestamp(ts)
	return rec
}

func assertRecords(t *testing.T, want, got []*models.Record) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParser_PullAndPush(t *testing.T) {
	const src = "m f=1i\n"
	want := point("m", field("f", models.IntValue(1)))

	p, _ := newTestParser(EscapeStrict)
	assertRecords(t, []*models.Record{want}, p.FeedString(src))

	p, _ = newTestParser(EscapeStrict)
	var pushed []*models.Record
	p.FeedFunc([]byte(src), func(rec *models.Record) {
		pushed = append(pushed, rec)
	})
	assertRecords(t, []*models.Record{want}, pushed)
}

func TestParser_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []*models.Record
	}{
		{
			name:  "no tags no timestamp",
			input: "m f=1i\n",
			want:  []*models.Record{point("m", field("f", models.IntValue(1)))},
		},
		{
			name:  "tags and integer fields",
			input: "m,t1=b,t2=c f1=3i,f2=4i\n",
			want: []*models.Record{withTags(
				point("m", field("f1", models.IntValue(3)), field("f2", models.IntValue(4))),
				models.Tag{Key: "t1", Value: "b"}, models.Tag{Key: "t2", Value: "c"},
			)},
		},
		{
			name:  "missing measurement discards whole line",
			input: "  , m f=1i\n",
			want:  nil,
		},
		{
			name:  "empty string",
			input: "m f=\"\"\n",
			want:  []*models.Record{point("m", field("f", models.StringValue("")))},
		},
		{
			name:  "timestamp",
			input: "cpu,host=a usage=90.5 1609459200000000000\n",
			want: []*models.Record{withTimestamp(withTags(
				point("cpu", field("usage", models.FloatValue(90.5))),
				models.Tag{Key: "host", Value: "a"},
			), 1609459200000000000)},
		},
		{
			name:  "negative timestamp",
			input: "m f=1 -5\n",
			want:  []*models.Record{withTimestamp(point("m", field("f", models.FloatValue(1))), -5)},
		},
		{
			name:  "no trailing newline emits nothing",
			input: "m f=1i",
			want:  nil,
		},
		{
			name:  "string spans lines",
			input: "m f=\"a\nb\"\n",
			want:  []*models.Record{point("m", field("f", models.StringValue("a\nb")))},
		},
		{
			name:  "string with comma space and equals",
			input: "m f=\"a, b=c\",g=t\n",
			want: []*models.Record{point("m",
				field("f", models.StringValue("a, b=c")),
				field("g", models.BoolValue(true)),
			)},
		},
		{
			name:  "repeated field key keeps first position",
			input: "m a=1i,b=2i,a=3i\n",
			want: []*models.Record{point("m",
				field("a", models.IntValue(3)),
				field("b", models.IntValue(2)),
			)},
		},
		{
			name:  "multibyte text is opaque",
			input: "温度,場所=東京 値=\"😀\"\n",
			want: []*models.Record{withTags(
				point("温度", field("値", models.StringValue("😀"))),
				models.Tag{Key: "場所", Value: "東京"},
			)},
		},
		{
			name:  "empty tag value",
			input: "m,t= f=1i\n",
			want: []*models.Record{withTags(
				point("m", field("f", models.IntValue(1))),
				models.Tag{Key: "t", Value: ""},
			)},
		},
		{
			name:  "blank lines and comments",
			input: "\n# comment\n\t\n\x00\nm f=1i\n",
			want:  []*models.Record{point("m", field("f", models.IntValue(1)))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestParser(EscapeStrict)
			assertRecords(t, tt.want, p.FeedString(tt.input))
		})
	}
}

func TestParser_TagsAbsentVersusPresent(t *testing.T) {
	p, _ := newTestParser(EscapeStrict)

	records := p.FeedString("m f=1i\nm,t=v f=1i\n")
	require.Len(t, records, 2)

	assert.False(t, records[0].HasTags)
	assert.Nil(t, records[0].TagMap())
	assert.False(t, records[0].HasTimestamp)

	assert.True(t, records[1].HasTags)
	assert.Equal(t, map[string]string{"t": "v"}, records[1].TagMap())
}

func TestParser_SplitAcrossCalls(t *testing.T) {
	p, _ := newTestParser(EscapeStrict)

	assert.Empty(t, p.FeedString("m"))
	assert.Empty(t, p.FeedString(" f"))
	assert.Empty(t, p.FeedString("=1i"))
	assertRecords(t, []*models.Record{point("m", field("f", models.IntValue(1)))}, p.FeedString("\n"))
}

func TestParser_EmptyChunk(t *testing.T) {
	p, c := newTestParser(EscapeStrict)

	assert.Empty(t, p.Feed(nil))
	assert.Empty(t, p.Feed([]byte{}))
	assert.Empty(t, p.FeedString("m f="))
	assert.Empty(t, p.Feed(nil))
	assertRecords(t, []*models.Record{point("m", field("f", models.IntValue(2)))}, p.FeedString("2i\n"))
	assert.Empty(t, c.errs)
}

func TestParser_EscapePendingAcrossChunks(t *testing.T) {
	p, _ := newTestParser(EscapeStrict)

	assert.Empty(t, p.FeedString(`m\`))
	assert.Empty(t, p.FeedString(" x,t=a\\"))
	assert.Empty(t, p.FeedString(",b f=\"q\\"))
	records := p.FeedString("\"\"\n")

	want := withTags(point("m x", field("f", models.StringValue(`q"`))), models.Tag{Key: "t", Value: "a,b"})
	assertRecords(t, []*models.Record{want}, records)
}

func TestParser_Reset(t *testing.T) {
	p, _ := newTestParser(EscapeStrict)

	assert.Empty(t, p.FeedString("broken,t=v f="))
	p.Reset()
	assertRecords(t, []*models.Record{point("m", field("f", models.IntValue(1)))}, p.FeedString("m f=1i\n"))
}

func TestParser_AtLineStart(t *testing.T) {
	p, _ := newTestParser(EscapeStrict)
	assert.True(t, p.AtLineStart())

	assert.Empty(t, p.FeedString("m f=\"a\n"))
	assert.False(t, p.AtLineStart(), "newline inside a string")
	records := p.FeedString("b\"\n")
	assertRecords(t, []*models.Record{point("m", field("f", models.StringValue("a\nb")))}, records)
	assert.True(t, p.AtLineStart())

	assert.Empty(t, p.FeedString("m,t=a\\\n"))
	assert.False(t, p.AtLineStart(), "escaped newline")
	records = p.FeedString("b f=1i\n")
	want := withTags(point("m", field("f", models.IntValue(1))), models.Tag{Key: "t", Value: "a\nb"})
	assertRecords(t, []*models.Record{want}, records)
	assert.True(t, p.AtLineStart())
}

func TestParser_DiscardLine(t *testing.T) {
	p, c := newTestParser(EscapeStrict)

	assert.Empty(t, p.FeedString(`m,t=v f="abc`))
	p.DiscardLine()
	assert.True(t, p.Discarding())
	assert.Empty(t, p.FeedString("\nstill in the string\n"))
	assert.False(t, p.AtLineStart())
	records := p.FeedString("\" 10\nok f=1i\n")
	assertRecords(t, []*models.Record{point("ok", field("f", models.IntValue(1)))}, records)
	assert.False(t, p.Discarding())

	// A malformed tail ends the line without a diagnostic.
	assert.Empty(t, p.FeedString("m f="))
	p.DiscardLine()
	records = p.FeedString("oops x\nn f=2i\n")
	assertRecords(t, []*models.Record{point("n", field("f", models.IntValue(2)))}, records)

	// Discarding at a line start drops the next line.
	p.DiscardLine()
	records = p.FeedString("skipped f=1i\nkept f=1i\n")
	assertRecords(t, []*models.Record{point("kept", field("f", models.IntValue(1)))}, records)

	assert.Empty(t, c.errs)
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error // nil means the line is dropped without a diagnostic
	}{
		{"missing measurement", ", m f=1i\n", ErrMissingMeasurement},
		{"measurement only", "m\n", ErrMissingFields},
		{"measurement and space", "m \n", ErrMissingFields},
		{"tags without fields", "m,t=v\n", ErrMissingFields},
		{"tags and space without fields", "m,t=v \t\n", ErrMissingFields},
		{"newline in tag key", "m,t\n", ErrUnterminatedKey},
		{"empty tag key", "m,=v f=1i\n", ErrEmptyKey},
		{"empty field key", "m =1i\n", ErrEmptyKey},
		{"newline in field key", "m f\n", ErrUnterminatedKey},
		{"invalid field value start", "m f=x\n", ErrInvalidFieldValueStart},
		{"field value starts with newline", "m f=\n", ErrInvalidFieldValueStart},
		{"empty field value before comma", "m f=,g=1i\n", ErrInvalidFieldValueStart},
		{"invalid boolean before comma", "m f=tru,g=1i\n", ErrInvalidBoolean},
		{"invalid boolean before timestamp", "m f=tru 1\n", ErrInvalidBoolean},
		{"invalid boolean at end of line", "m f=tru\n", nil},
		{"invalid numeric at end of line", "m f=1.2.3\n", ErrInvalidNumeric},
		{"invalid numeric before comma", "m f=12x,g=1i\n", ErrInvalidNumeric},
		{"trailing dot", "m f=1.\n", ErrInvalidNumeric},
		{"integer overflow", "m f=9223372036854775808i\n", ErrInvalidNumeric},
		{"invalid timestamp", "m f=1i 12a\n", ErrInvalidTimestamp},
		{"plus signed timestamp", "m f=1i +12\n", ErrInvalidTimestamp},
		{"missing timestamp", "m f=1i \n", ErrMissingTimestamp},
		{"malformed string trailer", "m f=\"a\"x\n", ErrMalformedStringTrailer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, c := newTestParser(EscapeStrict)

			assert.Empty(t, p.FeedString(tt.input))
			if tt.want == nil {
				assert.Empty(t, c.errs)
			} else {
				require.Len(t, c.errs, 1)
				assert.True(t, errors.Is(c.errs[0], tt.want), "got %v", c.errs[0])

				var pe *ParseError
				require.True(t, errors.As(c.errs[0], &pe))
				assert.Contains(t, pe.Error(), "lineprotocol: ")
			}

			// The next line must parse normally.
			records := p.FeedString("ok f=1i\n")
			assertRecords(t, []*models.Record{point("ok", field("f", models.IntValue(1)))}, records)
		})
	}
}

func TestParser_ErrorCarriesSeries(t *testing.T) {
	p, c := newTestParser(EscapeStrict)
	p.FeedString("cpu,host=a usage=oops\n")

	require.Len(t, c.errs, 1)
	var pe *ParseError
	require.True(t, errors.As(c.errs[0], &pe))
	assert.Equal(t, "cpu", pe.Series)
	assert.Equal(t, "o", pe.Token)
	assert.Equal(t, "invalid_field_value_start", ErrorKind(c.errs[0]))
}

// An invalid boolean that ends its line is dropped silently while an
// invalid numeric in the same position is reported. Both behaviours are
// kept for compatibility.
func TestParser_BooleanNumericAsymmetry(t *testing.T) {
	p, c := newTestParser(EscapeStrict)
	assert.Empty(t, p.FeedString("m f=yes\n"))
	require.Len(t, c.errs, 1, "y is not a boolean start, so this is an invalid value start")

	p, c = newTestParser(EscapeStrict)
	assert.Empty(t, p.FeedString("m f=Truth\n"))
	assert.Empty(t, c.errs)

	p, c = newTestParser(EscapeStrict)
	assert.Empty(t, p.FeedString("m f=1e\n"))
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ErrInvalidNumeric)
}

const chunkingCorpus = "# header comment\n" +
	"cpu,host=server01,region=us-west usage_idle=90.5,usage_system=2.1 1609459200000000000\n" +
	"temperature,sensor=bedroom temp=22.5\n" +
	"\n" +
	"http_requests,method=GET,status=200 count=1i\n" +
	"bad,line\n" +
	"  \t\x00events,kind=a\\ b msg=\"he said \\\"hi\\\"\",ok=T -42\n" +
	"weird\\,name,t\\=k=v\\ w f\\ k=-1u\n" +
	"broken f=tru\n" +
	"m f1=.4,f2=+3,f3=6e-7,f4=8E+9\n" +
	", nope f=1i\n" +
	"multi f=\"line one\nline two\" 7\n" +
	"last f=false\n"

func TestParser_ChunkingInvariance(t *testing.T) {
	whole, _ := newTestParser(EscapeStrict)
	want := whole.FeedString(chunkingCorpus)
	require.Len(t, want, 8)

	t.Run("byte at a time", func(t *testing.T) {
		p, _ := newTestParser(EscapeStrict)
		var got []*models.Record
		for i := 0; i < len(chunkingCorpus); i++ {
			got = append(got, p.FeedByte(chunkingCorpus[i])...)
		}
		assertRecords(t, want, got)
	})

	t.Run("random splits", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		for round := 0; round < 50; round++ {
			p, _ := newTestParser(EscapeStrict)
			var got []*models.Record
			rest := chunkingCorpus
			for len(rest) > 0 {
				n := 1 + rng.Intn(12)
				if n > len(rest) {
					n = len(rest)
				}
				got = append(got, p.FeedString(rest[:n])...)
				rest = rest[n:]
			}
			assertRecords(t, want, got)
		}
	})

	t.Run("line at a time", func(t *testing.T) {
		p, _ := newTestParser(EscapeStrict)
		var got []*models.Record
		for _, line := range strings.SplitAfter(chunkingCorpus, "\n") {
			got = append(got, p.FeedString(line)...)
		}
		assertRecords(t, want, got)
	})
}

func TestParser_NilConfig(t *testing.T) {
	p := NewParser(nil)
	assert.Equal(t, EscapeStrict, p.Escapes())
	assert.Len(t, p.FeedString("m f=1i\n"), 1)

	p = NewParser(&Config{Escapes: EscapeCompat})
	assert.Equal(t, EscapeCompat, p.Escapes())
	assert.Empty(t, p.FeedString("m f=\n"))
}
