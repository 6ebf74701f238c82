package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Encoding names a payload compression.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingGzip     Encoding = "gzip"
	EncodingZstd     Encoding = "zstd"
	EncodingLZ4      Encoding = "lz4"
	EncodingSnappy   Encoding = "snappy"
)

// DefaultMaxDecompressedSize caps how many bytes a compressed payload may
// expand to.
const DefaultMaxDecompressedSize = 100 * 1024 * 1024 // 100MB

// ErrDecompressedTooLarge is returned once a decompressed stream exceeds its cap.
var ErrDecompressedTooLarge = errors.New("decompressed payload exceeds size limit")

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic    = []byte{0x04, 0x22, 0x4d, 0x18}
	snappyMagic = []byte{0xff, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}
)

// Pool for gzip readers - avoids allocating ~32KB internal decompression state per request
var gzipReaderPool = sync.Pool{}

// ParseEncoding maps a Content-Encoding header value to an Encoding. An
// empty value yields "" so that the caller can fall back to DetectEncoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "identity":
		return EncodingIdentity, nil
	case "gzip", "x-gzip":
		return EncodingGzip, nil
	case "zstd":
		return EncodingZstd, nil
	case "lz4":
		return EncodingLZ4, nil
	case "snappy", "x-snappy-framed":
		return EncodingSnappy, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", s)
	}
}

// DetectEncoding sniffs the compression of a payload from its leading bytes.
// Anything unrecognised is treated as plain text.
func DetectEncoding(prefix []byte) Encoding {
	switch {
	case bytes.HasPrefix(prefix, gzipMagic):
		return EncodingGzip
	case bytes.HasPrefix(prefix, zstdMagic):
		return EncodingZstd
	case bytes.HasPrefix(prefix, lz4Magic):
		return EncodingLZ4
	case bytes.HasPrefix(prefix, snappyMagic):
		return EncodingSnappy
	default:
		return EncodingIdentity
	}
}

// NewReader returns a reader that decompresses r. When enc is empty the
// encoding is detected from the stream itself. At most limit decompressed
// bytes are returned before ErrDecompressedTooLarge; limit <= 0 disables the
// cap. The caller must Close the returned reader.
func NewReader(r io.Reader, enc Encoding, limit int64) (io.ReadCloser, Encoding, error) {
	if enc == "" {
		br := bufio.NewReader(r)
		prefix, err := br.Peek(len(snappyMagic))
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, "", err
		}
		enc = DetectEncoding(prefix)
		r = br
	}

	var rc io.ReadCloser
	switch enc {
	case EncodingIdentity:
		rc = io.NopCloser(r)
	case EncodingGzip:
		gz, err := getGzipReader(r)
		if err != nil {
			return nil, enc, fmt.Errorf("gzip: %w", err)
		}
		rc = &pooledGzipReader{Reader: gz}
	case EncodingZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, enc, fmt.Errorf("zstd: %w", err)
		}
		rc = dec.IOReadCloser()
	case EncodingLZ4:
		rc = io.NopCloser(lz4.NewReader(r))
	case EncodingSnappy:
		rc = io.NopCloser(snappy.NewReader(r))
	default:
		return nil, enc, fmt.Errorf("unsupported encoding %q", enc)
	}

	if limit > 0 && enc != EncodingIdentity {
		rc = &cappedReader{ReadCloser: rc, remaining: limit}
	}
	return rc, enc, nil
}

// Decompress expands a whole payload in memory.
func Decompress(data []byte, enc Encoding, limit int64) ([]byte, Encoding, error) {
	if enc == "" {
		enc = DetectEncoding(data)
	}
	if enc == EncodingIdentity {
		return data, enc, nil
	}

	rc, enc, err := NewReader(bytes.NewReader(data), enc, limit)
	if err != nil {
		return nil, enc, err
	}
	defer rc.Close()

	result, err := io.ReadAll(rc)
	if err != nil {
		return nil, enc, fmt.Errorf("%s: %w", enc, err)
	}
	return result, enc, nil
}

func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	if pooled := gzipReaderPool.Get(); pooled != nil {
		reader := pooled.(*gzip.Reader)
		if err := reader.Reset(r); err != nil {
			gzipReaderPool.Put(reader)
			return nil, err
		}
		return reader, nil
	}
	return gzip.NewReader(r)
}

// pooledGzipReader returns its reader to the pool on Close.
type pooledGzipReader struct {
	*gzip.Reader
	closed bool
}

func (p *pooledGzipReader) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.Reader.Close()
	gzipReaderPool.Put(p.Reader)
	return err
}

type cappedReader struct {
	io.ReadCloser
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		// Anything beyond the cap is an error, a clean EOF is not.
		var probe [1]byte
		n, err := c.ReadCloser.Read(probe[:])
		if n > 0 {
			return 0, ErrDecompressedTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.ReadCloser.Read(p)
	c.remaining -= int64(n)
	return n, err
}
