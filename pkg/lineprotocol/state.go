package lineprotocol

// state is the position of the parser within the current line.
type state uint8

const (
	stateLineStart state = iota
	stateComment
	stateInvalid
	stateMeasurement
	stateTagKey
	stateTagValue
	stateFieldSetWhitespace
	stateFieldKey
	stateFieldValue
	stateFieldBoolean
	stateFieldNumeric
	stateFieldString
	stateFieldStringEnd
	stateTimestampWhitespace
	stateTimestamp
)

var stateNames = [...]string{
	stateLineStart:           "line-start",
	stateComment:             "comment",
	stateInvalid:             "invalid",
	stateMeasurement:         "measurement",
	stateTagKey:              "tag-key",
	stateTagValue:            "tag-value",
	stateFieldSetWhitespace:  "field-set-whitespace",
	stateFieldKey:            "field-key",
	stateFieldValue:          "field-value-dispatch",
	stateFieldBoolean:        "field-value-boolean",
	stateFieldNumeric:        "field-value-numeric",
	stateFieldString:         "field-value-string",
	stateFieldStringEnd:      "field-value-string-end",
	stateTimestampWhitespace: "ts-whitespace",
	stateTimestamp:           "timestamp",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// byteSet is a lookup table of special bytes.
type byteSet [256]bool

func newByteSet(chars string) *byteSet {
	var set byteSet
	for i := 0; i < len(chars); i++ {
		set[chars[i]] = true
	}
	return &set
}

func (s *byteSet) has(c byte) bool {
	return s[c]
}

var (
	blanks = newByteSet(" \t\x00")

	measurementDelims = newByteSet(", \n")
	keyDelims         = newByteSet("=\n")
	tagValueDelims    = newByteSet(", \n")
	fieldValueDelims  = newByteSet(", \n")
	stringDelims      = newByteSet(`"`)
	timestampDelims   = newByteSet("\n")

	booleanStart = newByteSet("tTfF")
	numericStart = newByteSet("0123456789+-.")
)

// tokenDelims maps a token kind to the bytes that end it when unescaped.
var tokenDelims = [numTokenKinds]*byteSet{
	TokenMeasurement: measurementDelims,
	TokenTagKey:      keyDelims,
	TokenTagValue:    tagValueDelims,
	TokenFieldKey:    keyDelims,
	TokenString:      stringDelims,
}

// leadingSkipped maps a token kind to the bytes the preceding state
// consumes before the token starts, so they cannot open the token unescaped.
var leadingSkipped = [numTokenKinds]*byteSet{
	TokenMeasurement: newByteSet(" \t\x00#"),
	TokenTagKey:      newByteSet(""),
	TokenTagValue:    newByteSet(""),
	TokenFieldKey:    blanks,
	TokenString:      newByteSet(""),
}
