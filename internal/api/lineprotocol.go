package api

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/basekick-labs/lpstream/internal/ingest"
	"github.com/basekick-labs/lpstream/internal/output"
	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
	"github.com/basekick-labs/lpstream/pkg/models"
)

// maxReportedErrors caps the per-line errors returned by the parse endpoint.
const maxReportedErrors = 100

// RecordWriter receives the records of accepted writes. *output.Sink
// implements it.
type RecordWriter interface {
	Write(records []*models.Record) error
}

// LineProtocolConfig holds the parsing settings of the write endpoints
type LineProtocolConfig struct {
	Escapes             lineprotocol.EscapeStrategy
	ChunkSize           int
	MaxLineLength       int64
	MaxDecompressedSize int64
}

// LineProtocolHandler handles Line Protocol write and parse requests
type LineProtocolHandler struct {
	config      LineProtocolConfig
	sink        RecordWriter
	series      *ingest.SeriesTracker
	diagnostics lineprotocol.DiagnosticFunc
	logger      zerolog.Logger

	// Stats
	totalRequests        atomic.Int64
	totalRecords         atomic.Int64
	totalRejected        atomic.Int64
	totalBytes           atomic.Int64
	totalBytesCompressed atomic.Int64
	totalErrors          atomic.Int64
}

// NewLineProtocolHandler creates a new Line Protocol handler. series may be
// nil.
func NewLineProtocolHandler(config LineProtocolConfig, sink RecordWriter, series *ingest.SeriesTracker, logger zerolog.Logger) *LineProtocolHandler {
	if config.MaxDecompressedSize <= 0 {
		config.MaxDecompressedSize = ingest.DefaultMaxDecompressedSize
	}
	logger = logger.With().Str("component", "lineprotocol-handler").Logger()
	return &LineProtocolHandler{
		config:      config,
		sink:        sink,
		series:      series,
		diagnostics: ingest.Diagnostics(logger),
		logger:      logger,
	}
}

// RegisterRoutes registers Line Protocol endpoints
func (h *LineProtocolHandler) RegisterRoutes(app *fiber.App) {
	// InfluxDB 1.x and 2.x compatible write endpoints
	app.Post("/write", h.Write)
	app.Post("/api/v2/write", h.Write)

	app.Post("/api/v1/parse", h.Parse)

	app.Get("/api/v1/write/stats", h.Stats)
	app.Get("/api/v1/write/health", h.Health)
}

// LineError is one discarded line as reported to clients.
type LineError struct {
	Kind    string `json:"kind" msgpack:"kind"`
	Series  string `json:"series,omitempty" msgpack:"series,omitempty"`
	Message string `json:"message" msgpack:"message"`
}

// parseResult is everything decoded from one request body.
type parseResult struct {
	records  []*models.Record
	errors   []LineError
	stats    ingest.Stats
	encoding ingest.Encoding
}

// requestError is a failure that maps to an HTTP status.
type requestError struct {
	status int
	msg    string
	err    error
}

func (e *requestError) Error() string { return e.msg + ": " + e.err.Error() }

// decodeBody decompresses and parses the request body.
func (h *LineProtocolHandler) decodeBody(ctx context.Context, c *fiber.Ctx, escapes lineprotocol.EscapeStrategy) (*parseResult, error) {
	// Raw bytes: c.Body() would already gunzip, unpooled and unbounded.
	body := c.Request().Body()
	h.totalBytes.Add(int64(len(body)))

	if len(body) == 0 {
		return nil, &requestError{status: fiber.StatusBadRequest, msg: "Empty request body", err: errors.New("no data")}
	}

	enc, err := ingest.ParseEncoding(c.Get(fiber.HeaderContentEncoding))
	if err != nil {
		return nil, &requestError{status: fiber.StatusUnsupportedMediaType, msg: "Unsupported Content-Encoding", err: err}
	}

	rc, enc, err := ingest.NewReader(bytes.NewReader(body), enc, h.config.MaxDecompressedSize)
	if err != nil {
		return nil, &requestError{status: fiber.StatusBadRequest, msg: "Failed to decompress body", err: err}
	}
	defer rc.Close()
	if enc != ingest.EncodingIdentity {
		h.totalBytesCompressed.Add(int64(len(body)))
	}

	result := &parseResult{encoding: enc}
	decoder := ingest.NewDecoder(ingest.DecoderConfig{
		Escapes:            escapes,
		ChunkSize:          h.config.ChunkSize,
		MaxLineLength:      h.config.MaxLineLength,
		TerminateFinalLine: true,
		Series:             h.series,
		Diagnostics:        h.collectDiagnostics(result),
	})

	stats, err := decoder.Decode(ctx, rc, func(rec *models.Record) error {
		result.records = append(result.records, rec)
		return nil
	})
	result.stats = stats
	h.totalRejected.Add(stats.Rejected)

	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrDecompressedTooLarge):
			return nil, &requestError{status: fiber.StatusRequestEntityTooLarge, msg: "Decompressed payload too large", err: err}
		case errors.Is(err, ingest.ErrLineTooLong):
			return nil, &requestError{status: fiber.StatusRequestEntityTooLarge, msg: "Line too long", err: err}
		default:
			return nil, &requestError{status: fiber.StatusBadRequest, msg: "Failed to read body", err: err}
		}
	}
	return result, nil
}

func (h *LineProtocolHandler) collectDiagnostics(result *parseResult) lineprotocol.DiagnosticFunc {
	return func(err error) {
		h.diagnostics(err)
		if len(result.errors) >= maxReportedErrors {
			return
		}
		le := LineError{Kind: lineprotocol.ErrorKind(err), Message: err.Error()}
		var pe *lineprotocol.ParseError
		if errors.As(err, &pe) {
			le.Series = pe.Series
		}
		result.errors = append(result.errors, le)
	}
}

// escapesFor returns the strategy for the request: ?escapes= or the default.
func (h *LineProtocolHandler) escapesFor(c *fiber.Ctx) (lineprotocol.EscapeStrategy, error) {
	if q := c.Query("escapes"); q != "" {
		return lineprotocol.ParseEscapeStrategy(q)
	}
	return h.config.Escapes, nil
}

func (h *LineProtocolHandler) fail(c *fiber.Ctx, err error) error {
	h.totalErrors.Add(1)

	var re *requestError
	if errors.As(err, &re) {
		h.logger.Warn().Err(re.err).Int("status", re.status).Msg(re.msg)
		return c.Status(re.status).JSON(fiber.Map{
			"error": re.msg + ": " + re.err.Error(),
		})
	}

	h.logger.Error().Err(err).Msg("Write failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Write failed: " + err.Error(),
	})
}

// Write handles InfluxDB-style writes. Valid lines go to the sink; the
// response is 204 when at least one record was accepted.
func (h *LineProtocolHandler) Write(c *fiber.Ctx) error {
	h.totalRequests.Add(1)

	escapes, err := h.escapesFor(c)
	if err != nil {
		return h.fail(c, &requestError{status: fiber.StatusBadRequest, msg: "Invalid escapes parameter", err: err})
	}

	result, err := h.decodeBody(c.UserContext(), c, escapes)
	if err != nil {
		return h.fail(c, err)
	}

	if len(result.records) == 0 {
		h.totalErrors.Add(1)
		resp := fiber.Map{
			"error":    "No valid records in request",
			"rejected": result.stats.Rejected,
		}
		if len(result.errors) > 0 {
			resp["first_error"] = result.errors[0].Message
		}
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	}

	if h.sink != nil {
		if err := h.sink.Write(result.records); err != nil {
			return h.fail(c, err)
		}
	}
	h.totalRecords.Add(int64(len(result.records)))

	// InfluxDB returns 204 No Content on success
	return c.SendStatus(fiber.StatusNoContent)
}

// ParseResponse is the body returned by the parse endpoint.
type ParseResponse struct {
	RequestID string                              `json:"request_id" msgpack:"request_id"`
	Escapes   string                              `json:"escapes" msgpack:"escapes"`
	Encoding  string                              `json:"encoding" msgpack:"encoding"`
	Stats     ingest.Stats                        `json:"stats" msgpack:"stats"`
	Records   []output.Document                   `json:"records,omitempty" msgpack:"records,omitempty"`
	Columnar  map[string]map[string][]interface{} `json:"columnar,omitempty" msgpack:"columnar,omitempty"`
	Flat      []map[string]interface{}            `json:"flat,omitempty" msgpack:"flat,omitempty"`
	Errors    []LineError                         `json:"errors" msgpack:"errors"`
	Sanitized int                                 `json:"sanitized_strings,omitempty" msgpack:"sanitized_strings,omitempty"`
}

// Parse parses the body and returns the records instead of storing them.
// ?columnar=true groups them into columns per measurement, ?flat=true
// returns one flat map per record.
func (h *LineProtocolHandler) Parse(c *fiber.Ctx) error {
	h.totalRequests.Add(1)
	requestID := uuid.NewString()
	c.Set("X-Request-Id", requestID)

	escapes, err := h.escapesFor(c)
	if err != nil {
		return h.fail(c, &requestError{status: fiber.StatusBadRequest, msg: "Invalid escapes parameter", err: err})
	}

	result, err := h.decodeBody(c.UserContext(), c, escapes)
	if err != nil {
		return h.fail(c, err)
	}
	h.totalRecords.Add(int64(len(result.records)))

	resp := ParseResponse{
		RequestID: requestID,
		Escapes:   escapes.String(),
		Encoding:  string(result.encoding),
		Stats:     result.stats,
		Errors:    result.errors,
	}
	if resp.Errors == nil {
		resp.Errors = []LineError{}
	}
	switch {
	case c.QueryBool("columnar"):
		resp.Columnar = ingest.BatchToColumnar(result.records)
	case c.QueryBool("flat"):
		resp.Flat = make([]map[string]interface{}, len(result.records))
		for i, rec := range result.records {
			resp.Flat[i] = ingest.ToFlatRecord(rec)
		}
	default:
		resp.Records, resp.Sanitized = output.NewDocuments(result.records)
	}

	if wantsMsgPack(c) {
		data, err := msgpack.Marshal(&resp)
		if err != nil {
			return h.fail(c, err)
		}
		c.Set(fiber.HeaderContentType, output.FormatMsgPack.ContentType())
		return c.Send(data)
	}
	return c.JSON(resp)
}

func wantsMsgPack(c *fiber.Ctx) bool {
	accept := c.Get(fiber.HeaderAccept)
	return strings.Contains(accept, "application/msgpack") || strings.Contains(accept, "application/x-msgpack")
}

// Stats returns Line Protocol handler statistics
func (h *LineProtocolHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "success",
		"stats":  h.GetStats(),
	})
}

// Health returns health status
func (h *LineProtocolHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "line_protocol_writer",
		"escapes": h.config.Escapes.String(),
	})
}

// GetStats returns stats as a map (for programmatic access)
func (h *LineProtocolHandler) GetStats() map[string]int64 {
	stats := map[string]int64{
		"total_requests":         h.totalRequests.Load(),
		"total_records":          h.totalRecords.Load(),
		"total_rejected":         h.totalRejected.Load(),
		"total_bytes":            h.totalBytes.Load(),
		"total_bytes_compressed": h.totalBytesCompressed.Load(),
		"total_errors":           h.totalErrors.Load(),
	}
	if h.series != nil {
		stats["distinct_series"] = int64(h.series.Count())
		if h.series.Saturated() {
			stats["series_saturated"] = 1
		}
	}
	return stats
}
