package lineprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/lpstream/pkg/models"
)

// incompatible marks inputs the compat strategy reads differently from
// upstream InfluxDB, so there is no compat expectation to check.
const incompatible = "<incompatible>"

type tokenCase struct {
	name   string
	src    string
	strict string
	compat string
}

func runTokenCases(t *testing.T, cases []tokenCase, extract func(*models.Record) string) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, c := newTestParser(EscapeStrict)
			records := p.FeedString(tc.src + "\n")
			require.Len(t, records, 1, "diagnostics: %v", c.errs)
			assert.Equal(t, tc.strict, extract(records[0]))
		})
		if tc.compat == incompatible {
			continue
		}
		t.Run(tc.name+"_compat", func(t *testing.T) {
			p, c := newTestParser(EscapeCompat)
			records := p.FeedString(tc.src + "\n")
			require.Len(t, records, 1, "diagnostics: %v", c.errs)
			assert.Equal(t, tc.compat, extract(records[0]))
		})
	}
}

func TestMeasurementEscapes(t *testing.T) {
	cases := []tokenCase{
		// backslash
		{"measurement1", `\measurement1 ok=true`, `\measurement1`, `\measurement1`},
		{"measurement2", `measur\ement1 ok=true`, `measur\ement1`, `measur\ement1`},
		{"measurement3", `measurement3\\ ok=true`, `measurement3\`, incompatible},
		{"measurement4", `measurement4\\,tag=foo ok=true`, `measurement4\`, incompatible},

		// comma
		{"measurement5", `\,measurement5 ok=true`, ",measurement5", ",measurement5"},
		{"measurement6", `measur\,ement6 ok=true`, "measur,ement6", "measur,ement6"},
		{"measurement7", `measurement7\, ok=true`, "measurement7,", "measurement7,"},
		{"measurement8", `measurement8\,,tag=foo ok=true`, "measurement8,", "measurement8,"},

		// equals
		{"measurement9", "=measurement9 ok=true", "=measurement9", "=measurement9"},
		{"measurement10", "measur=ement10 ok=true", "measur=ement10", "measur=ement10"},
		{"measurement11", "measurement11= ok=true", "measurement11=", "measurement11="},
		{"measurement12", "measurement12=,tag=foo ok=true", "measurement12=", "measurement12="},

		// hash
		{"measurement13", `\#measurement13 ok=true`, "#measurement13", `\#measurement13`},
		{"measurement14", "measur#ement14 ok=true", "measur#ement14", "measur#ement14"},
		{"measurement15", "measurement15# ok=true", "measurement15#", "measurement15#"},
		{"measurement16", "measurement16#,tag=foo ok=true", "measurement16#", "measurement16#"},

		// newline
		{"measurement17", "\\\nmeasurement17 ok=true", "\nmeasurement17", "\\\nmeasurement17"},
		{"measurement18", "measur\\\nement18 ok=true", "measur\nement18", "measur\\\nement18"},
		{"measurement19", "measurement19\\\n ok=true", "measurement19\n", "measurement19\\\n"},
		{"measurement20", "measurement20\\\n,tag=foo ok=true", "measurement20\n", "measurement20\\\n"},

		// NUL
		{"measurement21", "\\\x00measurement21 ok=true", "\x00measurement21", "\\\x00measurement21"},
		{"measurement22", "measur\x00ement22 ok=true", "measur\x00ement22", "measur\x00ement22"},
		{"measurement23", "measurement23\x00 ok=true", "measurement23\x00", "measurement23\x00"},
		{"measurement24", "measurement24\x00,tag=foo ok=true", "measurement24\x00", "measurement24\x00"},

		// space
		{"measurement25", `\ measurement25 ok=true`, " measurement25", " measurement25"},
		{"measurement26", `measur\ ement26 ok=true`, "measur ement26", "measur ement26"},
		{"measurement27", `measurement27\  ok=true`, "measurement27 ", "measurement27 "},
		{"measurement28", `measurement28\ ,tag=foo ok=true`, "measurement28 ", "measurement28 "},

		// tab
		{"measurement29", "\\\tmeasurement29 ok=true", "\tmeasurement29", "\\\tmeasurement29"},
		{"measurement30", "measur\tement30 ok=true", "measur\tement30", "measur\tement30"},
		{"measurement31", "measurement31\t ok=true", "measurement31\t", "measurement31\t"},
		{"measurement32", "measurement32\t,tag=foo ok=true", "measurement32\t", "measurement32\t"},
	}

	runTokenCases(t, cases, func(rec *models.Record) string { return rec.Series })
}

func firstTagKey(rec *models.Record) string {
	if len(rec.Tags) == 0 {
		return "<no tags>"
	}
	return rec.Tags[0].Key
}

func firstTagValue(rec *models.Record) string {
	if len(rec.Tags) == 0 {
		return "<no tags>"
	}
	return rec.Tags[0].Value
}

func TestTagKeyEscapes(t *testing.T) {
	cases := []tokenCase{
		{"backslash1", `backslash,\tag=foo ok=true`, `\tag`, `\tag`},
		{"backslash2", `backslash,ta\g=foo ok=true`, `ta\g`, `ta\g`},
		{"backslash3", `backslash,tag\\=foo ok=true`, `tag\`, incompatible},

		{"comma1", "comma,,tag=foo ok=false", ",tag", incompatible},
		{"comma2", "comma,ta,g=foo ok=false", "ta,g", incompatible},
		{"comma3", "comma,tag,=foo ok=false", "tag,", incompatible},
		{"comma1_lenient", `comma,\,tag=foo ok=false`, ",tag", ",tag"},
		{"comma2_lenient", `comma,ta\,g=foo ok=false`, "ta,g", "ta,g"},
		{"comma3_lenient", `comma,tag\,=foo ok=false`, "tag,", "tag,"},

		{"equals1", `equals,\=tag=foo ok=true`, "=tag", "=tag"},
		{"equals2", `equals,ta\=g=foo ok=true`, "ta=g", "ta=g"},
		{"equals3", `equals,tag\==foo ok=true`, "tag=", "tag="},

		{"hash1", "hash,#tag=foo ok=false", "#tag", "#tag"},
		{"hash2", "hash,ta#g=foo ok=false", "ta#g", "ta#g"},
		{"hash3", "hash,tag#=foo ok=false", "tag#", "tag#"},

		{"newline1", "newline,\\\ntag=foo ok=false", "\ntag", "\\\ntag"},
		{"newline2", "newline,ta\\\ng=foo ok=false", "ta\ng", "ta\\\ng"},
		{"newline3", "newline,tag\\\n=foo ok=false", "tag\n", "tag\\\n"},

		{"null1", "null,\x00tag=foo ok=false", "\x00tag", "\x00tag"},
		{"null2", "null,ta\x00g=foo ok=false", "ta\x00g", "ta\x00g"},
		{"null3", "null,tag\x00=foo ok=false", "tag\x00", "tag\x00"},

		{"space1", "space, tag=foo ok=false", " tag", incompatible},
		{"space2", "space,ta g=foo ok=false", "ta g", incompatible},
		{"space3", "space,tag =foo ok=false", "tag ", incompatible},
		{"space1_lenient", `space,\ tag=foo ok=false`, " tag", " tag"},
		{"space2_lenient", `space,ta\ g=foo ok=false`, "ta g", "ta g"},
		{"space3_lenient", `space,tag\ =foo ok=false`, "tag ", "tag "},

		{"tab1", "tab,\ttag=foo ok=false", "\ttag", "\ttag"},
		{"tab2", "tab,ta\tg=foo ok=false", "ta\tg", "ta\tg"},
		{"tab3", "tab,tag\t=foo ok=false", "tag\t", "tag\t"},
	}

	runTokenCases(t, cases, firstTagKey)
}

func TestTagValueEscapes(t *testing.T) {
	cases := []tokenCase{
		{"backslash1", `backslash,tag=\foo ok=true`, `\foo`, `\foo`},
		{"backslash2", `backslash,tag=fo\o ok=true`, `fo\o`, `fo\o`},
		{"backslash3", `backslash,tag=foo\\ ok=true`, `foo\`, incompatible},

		{"comma1", `comma,tag=\,foo ok=true`, ",foo", ",foo"},
		{"comma2", `comma,tag=fo\,o ok=true`, "fo,o", "fo,o"},
		{"comma3", `comma,tag=foo\, ok=true`, "foo,", "foo,"},

		{"equals1", "equals,tag==foo ok=true", "=foo", "=foo"},
		{"equals2", "equals,tag=fo=o ok=true", "fo=o", incompatible},
		{"equals3", "equals,tag=foo= ok=true", "foo=", incompatible},
		{"equals1_lenient", `equals,tag=\=foo ok=true`, "=foo", "=foo"},
		{"equals2_lenient", `equals,tag=fo\=o ok=true`, "fo=o", "fo=o"},
		{"equals3_lenient", `equals,tag=foo\= ok=true`, "foo=", "foo="},

		{"hash1", "hash,tag=#foo ok=true", "#foo", "#foo"},
		{"hash2", "hash,tag=fo#o ok=true", "fo#o", "fo#o"},
		{"hash3", "hash,tag=foo# ok=true", "foo#", "foo#"},

		{"newline1", "newline,tag=\\\nfoo ok=true", "\nfoo", "\\\nfoo"},
		{"newline2", "newline,tag=fo\\\no ok=true", "fo\no", "fo\\\no"},
		{"newline3", "newline,tag=foo\\\n ok=true", "foo\n", "foo\\\n"},

		{"null1", "null,tag=\x00foo ok=true", "\x00foo", "\x00foo"},
		{"null2", "null,tag=fo\x00o ok=true", "fo\x00o", "fo\x00o"},
		{"null3", "null,tag=foo\x00 ok=true", "foo\x00", "foo\x00"},

		{"space1", `space,tag=\ foo ok=true`, " foo", " foo"},
		{"space2", `space,tag=fo\ o ok=true`, "fo o", "fo o"},
		{"space3", `space,tag=foo\  ok=true`, "foo ", "foo "},

		{"tab1", "tab,tag=\tfoo ok=true", "\tfoo", "\tfoo"},
		{"tab2", "tab,tag=fo\to ok=true", "fo\to", "fo\to"},
		{"tab3", "tab,tag=foo\t ok=true", "foo\t", "foo\t"},
	}

	runTokenCases(t, cases, firstTagValue)
}

func TestFieldKeyEscapes(t *testing.T) {
	cases := []tokenCase{
		{"backslash1", `backslash \f1=t`, `\f1`, `\f1`},
		{"backslash2", `backslash f\1=t`, `f\1`, `f\1`},
		{"backslash3", `backslash f1\\=t`, `f1\`, incompatible},

		{"comma1", "comma ,f1=t", ",f1", incompatible},
		{"comma2", "comma f,1=t", "f,1", incompatible},
		{"comma3", "comma f1,=t", "f1,", incompatible},
		{"comma1_lenient", `comma \,f1=t`, ",f1", ",f1"},
		{"comma2_lenient", `comma f\,1=t`, "f,1", "f,1"},
		{"comma3_lenient", `comma f1\,=t`, "f1,", "f1,"},

		{"equals1", `equals \=f1=t`, "=f1", "=f1"},
		{"equals2", `equals f\=1=t`, "f=1", "f=1"},
		{"equals3", `equals f1\==t`, "f1=", "f1="},

		{"hash1", "hash #f1=t", "#f1", "#f1"},
		{"hash2", "hash f#1=t", "f#1", "f#1"},
		{"hash3", "hash f1#=t", "f1#", "f1#"},

		{"newline1", "newline \\\nf1=t", "\nf1", "\\\nf1"},
		{"newline2", "newline f\\\n1=t", "f\n1", "f\\\n1"},
		{"newline3", "newline f1\\\n=t", "f1\n", "f1\\\n"},

		{"null1", "null \\\x00f1=t", "\x00f1", "\\\x00f1"},
		{"null2", "null f\x001=t", "f\x001", "f\x001"},
		{"null3", "null f1\x00=t", "f1\x00", "f1\x00"},

		{"space1", `space \ f1=t`, " f1", incompatible},
		{"space2", "space f 1=t", "f 1", incompatible},
		{"space3", "space f1 =t", "f1 ", incompatible},
		{"space1_lenient", `space \ f1=t`, " f1", " f1"},
		{"space2_lenient", `space f\ 1=t`, "f 1", "f 1"},
		{"space3_lenient", `space f1\ =t`, "f1 ", "f1 "},

		{"tab1", "tab \\\tf1=t", "\tf1", "\\\tf1"},
		{"tab2", "tab f\t1=t", "f\t1", "f\t1"},
		{"tab3", "tab f1\t=t", "f1\t", "f1\t"},
	}

	runTokenCases(t, cases, func(rec *models.Record) string {
		if len(rec.Fields) == 0 {
			return "<no fields>"
		}
		return rec.Fields[0].Key
	})
}
