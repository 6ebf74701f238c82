package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/lpstream/internal/metrics"
	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
	"github.com/basekick-labs/lpstream/pkg/models"
)

// Sink is a concurrency-safe destination for parsed records. The HTTP
// gateway and the MQTT subscriber share one Sink.
type Sink struct {
	mu     sync.Mutex
	format Format
	buf    *bufio.Writer
	count  *countingWriter
	enc    Encoder
	closer io.Closer
	closed bool
	logger zerolog.Logger
}

// SinkConfig holds sink configuration
type SinkConfig struct {
	Format Format
	// Path is a file to append to. "-" or "" writes to stdout.
	Path    string
	Escapes lineprotocol.EscapeStrategy
}

// OpenSink opens the sink described by cfg.
func OpenSink(cfg SinkConfig, logger zerolog.Logger) (*Sink, error) {
	if cfg.Path == "" || cfg.Path == "-" {
		return NewSink(cfg.Format, nopCloser{os.Stdout}, cfg.Escapes, logger)
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	s, err := NewSink(cfg.Format, f, cfg.Escapes, logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewSink creates a sink writing to w. Close closes w.
func NewSink(format Format, w io.WriteCloser, escapes lineprotocol.EscapeStrategy, logger zerolog.Logger) (*Sink, error) {
	count := &countingWriter{w: w}
	buf := bufio.NewWriterSize(count, 64*1024)
	enc, err := NewEncoder(format, buf, escapes)
	if err != nil {
		return nil, err
	}
	return &Sink{
		format: format,
		buf:    buf,
		count:  count,
		enc:    enc,
		closer: w,
		logger: logger.With().Str("component", "sink").Str("format", string(format)).Logger(),
	}, nil
}

// Format returns the sink's output format.
func (s *Sink) Format() Format {
	return s.format
}

// Write encodes records in order. A record the format cannot represent is
// skipped and counted as an output error; any other error stops the batch
// and is returned.
func (s *Sink) Write(records []*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}

	m := metrics.Get()
	before := s.count.n
	written := 0
	defer func() {
		m.IncOutputRecords(int64(written))
	}()

	for _, rec := range records {
		if err := s.enc.Encode(rec); err != nil {
			m.IncOutputErrors()
			if errors.Is(err, lineprotocol.ErrUnrepresentable) {
				s.logger.Warn().Err(err).Str("series", rec.Series).Msg("Skipped record")
				continue
			}
			return fmt.Errorf("encode: %w", err)
		}
		written++
	}
	m.IncOutputBytes(s.count.n - before)
	return nil
}

// Flush writes buffered output to the underlying writer.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	before := s.count.n
	err := s.buf.Flush()
	metrics.Get().IncOutputBytes(s.count.n - before)
	return err
}

// Close flushes and closes the sink. Further writes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	before := s.count.n
	flushErr := s.buf.Flush()
	metrics.Get().IncOutputBytes(s.count.n - before)
	closeErr := s.closer.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

var errSinkClosed = errors.New("sink is closed")

// countingWriter counts bytes that reach the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
