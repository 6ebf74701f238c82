package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
	"github.com/basekick-labs/lpstream/pkg/models"
)

// Format is an output serialisation.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgPack Format = "msgpack"
	FormatLP      Format = "lp"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatMsgPack, FormatLP:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, msgpack or lp)", s)
	}
}

// ContentType returns the HTTP media type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatMsgPack:
		return "application/msgpack"
	case FormatLP:
		return "text/plain; charset=utf-8"
	default:
		return "application/x-ndjson"
	}
}

// Encoder writes one record at a time.
type Encoder interface {
	Encode(rec *models.Record) error
}

// NewEncoder creates an encoder for format writing to w. escapes is used
// only by the lp format.
func NewEncoder(format Format, w io.Writer, escapes lineprotocol.EscapeStrategy) (Encoder, error) {
	switch format {
	case FormatJSON:
		return &jsonEncoder{enc: json.NewEncoder(w)}, nil
	case FormatMsgPack:
		return &msgpackEncoder{enc: msgpack.NewEncoder(w)}, nil
	case FormatLP:
		return &lpEncoder{w: w, escapes: escapes}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// jsonEncoder writes newline-delimited JSON documents.
type jsonEncoder struct {
	enc *json.Encoder
}

func (e *jsonEncoder) Encode(rec *models.Record) error {
	doc, _ := NewDocument(rec)
	return e.enc.Encode(doc)
}

// msgpackEncoder writes a stream of concatenated MessagePack maps.
type msgpackEncoder struct {
	enc *msgpack.Encoder
}

func (e *msgpackEncoder) Encode(rec *models.Record) error {
	doc, _ := NewDocument(rec)
	return e.enc.Encode(doc)
}

// lpEncoder writes normalised line protocol. A record that the strategy
// cannot represent returns an error wrapping lineprotocol.ErrUnrepresentable
// and nothing is written for it.
type lpEncoder struct {
	w       io.Writer
	escapes lineprotocol.EscapeStrategy
	buf     []byte
}

func (e *lpEncoder) Encode(rec *models.Record) error {
	buf, err := lineprotocol.AppendRecord(e.buf[:0], rec, e.escapes)
	if err != nil {
		return err
	}
	e.buf = buf
	_, err = e.w.Write(buf)
	return err
}
