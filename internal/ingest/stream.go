// Package ingest feeds byte streams into the incremental line protocol
// parser. It handles the concerns that sit outside a single parser: reading
// in bounded chunks, decompression, the maximum line length, series
// accounting and the columnar view of parsed batches.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/basekick-labs/lpstream/internal/metrics"
	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
	"github.com/basekick-labs/lpstream/pkg/models"
)

const (
	DefaultChunkSize     = 64 * 1024
	DefaultMaxLineLength = 1024 * 1024
)

// ErrLineTooLong reports a line longer than the configured maximum. Lines
// before it have already been delivered.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// DecoderConfig holds stream decoder configuration
type DecoderConfig struct {
	Escapes lineprotocol.EscapeStrategy
	// ChunkSize is the read size. Default: 64KB.
	ChunkSize int
	// MaxLineLength bounds a single line, newline excluded. <= 0 disables
	// the limit.
	MaxLineLength int64
	// Diagnostics receives every discarded line. Default: Diagnostics on the
	// global logger.
	Diagnostics lineprotocol.DiagnosticFunc
	// TerminateFinalLine completes an unterminated last line at EOF, as is
	// usual for files. Without it such a line is dropped.
	TerminateFinalLine bool
	// Series, when set, observes every emitted record.
	Series *SeriesTracker
}

// Stats summarises one decoded stream.
type Stats struct {
	Bytes    int64 `json:"bytes"`
	Records  int64 `json:"records"`
	Rejected int64 `json:"rejected"`
}

// Decoder reads line protocol from an io.Reader. A Decoder owns one parser
// and is not safe for concurrent use.
type Decoder struct {
	cfg    DecoderConfig
	parser *lineprotocol.Parser
	buf    []byte

	lineLen  int64 // bytes of the current line seen so far
	lastByte byte
	stats    Stats
}

// NewDecoder creates a decoder.
func NewDecoder(cfg DecoderConfig) *Decoder {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	d := &Decoder{
		cfg: cfg,
		buf: make([]byte, cfg.ChunkSize),
	}

	diagnostics := cfg.Diagnostics
	if diagnostics == nil {
		diagnostics = Diagnostics(defaultLogger())
	}
	d.parser = lineprotocol.NewParser(&lineprotocol.Config{
		Escapes: cfg.Escapes,
		Diagnostics: func(err error) {
			d.stats.Rejected++
			diagnostics(err)
		},
	})
	return d
}

// Stats returns the totals of everything decoded so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Decode reads r until EOF and calls fn for every record in input order.
// Malformed lines are reported to the diagnostics and skipped. Decode stops
// at the first read error, ErrLineTooLong, a cancelled ctx or an error from
// fn, and returns it.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, fn func(*models.Record) error) (Stats, error) {
	m := metrics.Get()
	m.IncStreams()

	start := d.stats
	err := d.decode(ctx, r, fn)

	m.IncParserBytes(d.stats.Bytes - start.Bytes)
	m.IncParserRecords(d.stats.Records - start.Records)
	if err != nil {
		m.IncStreamErrors()
		if errors.Is(err, ErrLineTooLong) {
			m.IncLinesTooLong()
		}
	}

	return Stats{
		Bytes:    d.stats.Bytes - start.Bytes,
		Records:  d.stats.Records - start.Records,
		Rejected: d.stats.Rejected - start.Rejected,
	}, err
}

func (d *Decoder) decode(ctx context.Context, r io.Reader, fn func(*models.Record) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(d.buf)
		if n > 0 {
			if err := d.feed(d.buf[:n], fn, false); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			if d.cfg.TerminateFinalLine && d.stats.Bytes > 0 && d.lastByte != '\n' {
				return d.feed([]byte{'\n'}, fn, false)
			}
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

// FeedChunk parses one chunk outside of a reader loop, for transports that
// deliver data in discrete messages. A line over the length limit is
// discarded up to the newline that ends it and reported as ErrLineTooLong;
// parsing resumes with the next line.
func (d *Decoder) FeedChunk(chunk []byte, fn func(*models.Record) error) error {
	return d.feed(chunk, fn, true)
}

// Reset discards any partially read line.
func (d *Decoder) Reset() {
	d.parser.Reset()
	d.lineLen = 0
	d.lastByte = 0
}

// feed hands chunk to the parser one newline-terminated segment at a time.
// Only the parser knows whether a newline ends the line, since quoted and
// escaped newlines do not, so the line length is carried over until it
// reports a line start.
func (d *Decoder) feed(chunk []byte, fn func(*models.Record) error, resume bool) error {
	var lineErr error
	for len(chunk) > 0 {
		end := len(chunk)
		if j := bytes.IndexByte(chunk, '\n'); j >= 0 {
			end = j + 1
		}
		seg := chunk[:end]
		chunk = chunk[end:]

		if d.overLimit(seg) {
			if lineErr == nil {
				lineErr = fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, d.cfg.MaxLineLength)
			}
			if !resume {
				d.Reset()
				return lineErr
			}
			d.parser.DiscardLine()
		}

		var fnErr error
		d.parser.FeedFunc(seg, func(rec *models.Record) {
			if fnErr != nil {
				return
			}
			d.stats.Records++
			if d.cfg.Series != nil {
				d.cfg.Series.Observe(rec)
			}
			fnErr = fn(rec)
		})
		d.consume(seg)
		if fnErr != nil {
			return fnErr
		}

		if d.parser.AtLineStart() {
			d.lineLen = 0
		} else {
			d.lineLen += int64(len(seg))
		}
	}
	return lineErr
}

// overLimit reports whether feeding seg would take the current line past
// the maximum length. The terminating newline is not counted.
func (d *Decoder) overLimit(seg []byte) bool {
	limit := d.cfg.MaxLineLength
	if limit <= 0 || d.parser.Discarding() {
		return false
	}
	n := int64(len(seg))
	if seg[len(seg)-1] == '\n' {
		n--
	}
	return d.lineLen+n > limit
}

func (d *Decoder) consume(b []byte) {
	d.stats.Bytes += int64(len(b))
	if len(b) > 0 {
		d.lastByte = b[len(b)-1]
	}
}
