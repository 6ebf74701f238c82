package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
)

// Metrics holds all lpstream metrics for Prometheus export
type Metrics struct {
	startTime time.Time

	// HTTP request metrics
	httpRequestsTotal   atomic.Int64
	httpRequestsSuccess atomic.Int64
	httpRequestsError   atomic.Int64

	// HTTP latency histogram buckets (microseconds)
	// Buckets: 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, +Inf
	httpLatencyBuckets [10]atomic.Int64
	httpLatencySum     atomic.Int64
	httpLatencyCount   atomic.Int64

	// Parser metrics
	parserBytesTotal    atomic.Int64
	parserRecordsTotal  atomic.Int64
	parserRejectedTotal atomic.Int64
	parserRejectedKind  map[string]*atomic.Int64 // fixed key set, read without locking
	streamsTotal        atomic.Int64
	streamErrorsTotal   atomic.Int64
	linesTooLongTotal   atomic.Int64
	decompressedTotal   atomic.Int64
	seriesDistinct      atomic.Int64

	// Output metrics
	outputRecordsTotal atomic.Int64
	outputBytesTotal   atomic.Int64
	outputErrorsTotal  atomic.Int64

	// MQTT metrics
	mqttMessagesReceived atomic.Int64
	mqttMessagesFailed   atomic.Int64
	mqttBytesReceived    atomic.Int64
	mqttReconnects       atomic.Int64
	mqttConnected        atomic.Bool

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		startTime:          time.Now(),
		parserRejectedKind: make(map[string]*atomic.Int64, len(lineprotocol.ErrorKinds)+1),
	}
	for _, kind := range lineprotocol.ErrorKinds {
		m.parserRejectedKind[kind] = new(atomic.Int64)
	}
	m.parserRejectedKind["unknown"] = new(atomic.Int64)
	return m
}

// Init initializes the metrics with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("Metrics collector initialized")
	return m
}

// HTTP Metrics
func (m *Metrics) IncHTTPRequests() { m.httpRequestsTotal.Add(1) }
func (m *Metrics) IncHTTPSuccess()  { m.httpRequestsSuccess.Add(1) }
func (m *Metrics) IncHTTPError()    { m.httpRequestsError.Add(1) }

// RecordHTTPLatency records HTTP request latency in microseconds
func (m *Metrics) RecordHTTPLatency(durationMicros int64) {
	m.httpLatencySum.Add(durationMicros)
	m.httpLatencyCount.Add(1)
	m.httpLatencyBuckets[m.getLatencyBucket(durationMicros)].Add(1)
}

var latencyBounds = [...]int64{1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000}

func (m *Metrics) getLatencyBucket(micros int64) int {
	for i, bound := range latencyBounds {
		if micros <= bound {
			return i
		}
	}
	return len(latencyBounds)
}

// Parser Metrics
func (m *Metrics) IncParserBytes(n int64)   { m.parserBytesTotal.Add(n) }
func (m *Metrics) IncParserRecords(n int64) { m.parserRecordsTotal.Add(n) }
func (m *Metrics) IncStreams()              { m.streamsTotal.Add(1) }
func (m *Metrics) IncStreamErrors()         { m.streamErrorsTotal.Add(1) }
func (m *Metrics) IncLinesTooLong()         { m.linesTooLongTotal.Add(1) }
func (m *Metrics) IncDecompressed()         { m.decompressedTotal.Add(1) }
func (m *Metrics) SetSeriesDistinct(n int64) { m.seriesDistinct.Store(n) }

// IncParserRejected counts one discarded line under the given error kind.
func (m *Metrics) IncParserRejected(kind string) {
	m.parserRejectedTotal.Add(1)
	counter, ok := m.parserRejectedKind[kind]
	if !ok {
		counter = m.parserRejectedKind["unknown"]
	}
	counter.Add(1)
}

// ParserRejected returns the number of discarded lines of the given kind.
func (m *Metrics) ParserRejected(kind string) int64 {
	if counter, ok := m.parserRejectedKind[kind]; ok {
		return counter.Load()
	}
	return 0
}

// Output Metrics
func (m *Metrics) IncOutputRecords(n int64) { m.outputRecordsTotal.Add(n) }
func (m *Metrics) IncOutputBytes(n int64)   { m.outputBytesTotal.Add(n) }
func (m *Metrics) IncOutputErrors()         { m.outputErrorsTotal.Add(1) }

// MQTT Metrics
func (m *Metrics) IncMQTTMessagesReceived()     { m.mqttMessagesReceived.Add(1) }
func (m *Metrics) IncMQTTMessagesFailed()       { m.mqttMessagesFailed.Add(1) }
func (m *Metrics) IncMQTTBytesReceived(n int64) { m.mqttBytesReceived.Add(n) }
func (m *Metrics) IncMQTTReconnects()           { m.mqttReconnects.Add(1) }
func (m *Metrics) SetMQTTConnected(v bool)      { m.mqttConnected.Store(v) }

// Snapshot returns all metrics as a map (for JSON endpoint)
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	rejectedByKind := make(map[string]int64, len(m.parserRejectedKind))
	for kind, counter := range m.parserRejectedKind {
		rejectedByKind[kind] = counter.Load()
	}

	return map[string]interface{}{
		// Process info
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"num_cpu":        runtime.NumCPU(),

		// Memory (Go runtime)
		"memory_alloc_bytes":      memStats.Alloc,
		"memory_heap_alloc_bytes": memStats.HeapAlloc,
		"memory_sys_bytes":        memStats.Sys,
		"gc_cycles":               memStats.NumGC,

		// HTTP
		"http_requests_total":   m.httpRequestsTotal.Load(),
		"http_requests_success": m.httpRequestsSuccess.Load(),
		"http_requests_error":   m.httpRequestsError.Load(),
		"http_latency_sum_us":   m.httpLatencySum.Load(),
		"http_latency_count":    m.httpLatencyCount.Load(),

		// Parser
		"parser_bytes_total":          m.parserBytesTotal.Load(),
		"parser_records_total":        m.parserRecordsTotal.Load(),
		"parser_rejected_total":       m.parserRejectedTotal.Load(),
		"parser_rejected_by_kind":     rejectedByKind,
		"streams_total":               m.streamsTotal.Load(),
		"stream_errors_total":         m.streamErrorsTotal.Load(),
		"lines_too_long_total":        m.linesTooLongTotal.Load(),
		"decompressed_payloads_total": m.decompressedTotal.Load(),
		"series_distinct":             m.seriesDistinct.Load(),

		// Output
		"output_records_total": m.outputRecordsTotal.Load(),
		"output_bytes_total":   m.outputBytesTotal.Load(),
		"output_errors_total":  m.outputErrorsTotal.Load(),

		// MQTT
		"mqtt_messages_received": m.mqttMessagesReceived.Load(),
		"mqtt_messages_failed":   m.mqttMessagesFailed.Load(),
		"mqtt_bytes_received":    m.mqttBytesReceived.Load(),
		"mqtt_reconnects":        m.mqttReconnects.Load(),
		"mqtt_connected":         m.mqttConnected.Load(),
	}
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var b []byte
	b = appendFamily(b, "lpstream_uptime_seconds", "Time since lpstream started", "gauge", time.Since(m.startTime).Seconds())
	b = appendFamily(b, "lpstream_goroutines", "Number of goroutines", "gauge", float64(runtime.NumGoroutine()))
	b = appendFamily(b, "lpstream_memory_alloc_bytes", "Current allocated memory", "gauge", float64(memStats.Alloc))
	b = appendFamily(b, "lpstream_gc_cycles_total", "Total number of GC cycles", "counter", float64(memStats.NumGC))

	// HTTP metrics
	b = appendFamily(b, "lpstream_http_requests_total", "Total HTTP requests", "counter", float64(m.httpRequestsTotal.Load()))
	b = appendFamily(b, "lpstream_http_requests_success_total", "Successful HTTP requests", "counter", float64(m.httpRequestsSuccess.Load()))
	b = appendFamily(b, "lpstream_http_requests_error_total", "Failed HTTP requests", "counter", float64(m.httpRequestsError.Load()))

	// HTTP latency histogram
	b = append(b, "# HELP lpstream_http_latency_seconds HTTP request latency\n"...)
	b = append(b, "# TYPE lpstream_http_latency_seconds histogram\n"...)
	bucketLabels := []string{"0.001", "0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "1", "+Inf"}
	var cumulative int64
	for i, label := range bucketLabels {
		cumulative += m.httpLatencyBuckets[i].Load()
		b = appendMetricWithLabel(b, "lpstream_http_latency_seconds_bucket", "le", label, float64(cumulative))
	}
	b = appendMetric(b, "lpstream_http_latency_seconds_sum", float64(m.httpLatencySum.Load())/1000000.0)
	b = appendMetric(b, "lpstream_http_latency_seconds_count", float64(m.httpLatencyCount.Load()))

	// Parser metrics
	b = appendFamily(b, "lpstream_parser_bytes_total", "Bytes fed to line protocol parsers", "counter", float64(m.parserBytesTotal.Load()))
	b = appendFamily(b, "lpstream_parser_records_total", "Records emitted by line protocol parsers", "counter", float64(m.parserRecordsTotal.Load()))

	b = append(b, "# HELP lpstream_parser_rejected_lines_total Lines discarded by line protocol parsers\n"...)
	b = append(b, "# TYPE lpstream_parser_rejected_lines_total counter\n"...)
	for _, kind := range lineprotocol.ErrorKinds {
		b = appendMetricWithLabel(b, "lpstream_parser_rejected_lines_total", "kind", kind, float64(m.parserRejectedKind[kind].Load()))
	}
	b = appendMetricWithLabel(b, "lpstream_parser_rejected_lines_total", "kind", "unknown", float64(m.parserRejectedKind["unknown"].Load()))

	b = appendFamily(b, "lpstream_streams_total", "Input streams decoded", "counter", float64(m.streamsTotal.Load()))
	b = appendFamily(b, "lpstream_stream_errors_total", "Input streams aborted by an error", "counter", float64(m.streamErrorsTotal.Load()))
	b = appendFamily(b, "lpstream_lines_too_long_total", "Streams aborted by an oversized line", "counter", float64(m.linesTooLongTotal.Load()))
	b = appendFamily(b, "lpstream_decompressed_payloads_total", "Compressed payloads decoded", "counter", float64(m.decompressedTotal.Load()))
	b = appendFamily(b, "lpstream_series_distinct", "Distinct series seen", "gauge", float64(m.seriesDistinct.Load()))

	// Output metrics
	b = appendFamily(b, "lpstream_output_records_total", "Records written to the output sink", "counter", float64(m.outputRecordsTotal.Load()))
	b = appendFamily(b, "lpstream_output_bytes_total", "Bytes written to the output sink", "counter", float64(m.outputBytesTotal.Load()))
	b = appendFamily(b, "lpstream_output_errors_total", "Output sink write errors", "counter", float64(m.outputErrorsTotal.Load()))

	// MQTT metrics
	b = appendFamily(b, "lpstream_mqtt_messages_received_total", "MQTT messages received", "counter", float64(m.mqttMessagesReceived.Load()))
	b = appendFamily(b, "lpstream_mqtt_messages_failed_total", "MQTT messages that failed processing", "counter", float64(m.mqttMessagesFailed.Load()))
	b = appendFamily(b, "lpstream_mqtt_bytes_received_total", "MQTT payload bytes received", "counter", float64(m.mqttBytesReceived.Load()))
	b = appendFamily(b, "lpstream_mqtt_reconnects_total", "MQTT reconnect attempts", "counter", float64(m.mqttReconnects.Load()))
	connected := 0.0
	if m.mqttConnected.Load() {
		connected = 1
	}
	b = appendFamily(b, "lpstream_mqtt_connected", "Whether the MQTT client is connected", "gauge", connected)

	return string(b)
}

// Helper functions for Prometheus format
func appendFamily(b []byte, name, help, typ string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	return appendMetric(b, name, value)
}

func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendMetricWithLabel(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = append(b, labelName...)
	b = append(b, '=', '"')
	b = append(b, labelValue...)
	b = append(b, '"', '}', ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, v float64) []byte {
	if v == float64(int64(v)) {
		return appendInt(b, int64(v))
	}
	// Up to 6 decimal places
	intPart := int64(v)
	fracPart := int64((v - float64(intPart)) * 1000000)
	if fracPart < 0 {
		fracPart = -fracPart
	}
	b = appendInt(b, intPart)
	b = append(b, '.')
	for div := int64(100000); div > 1 && fracPart < div; div /= 10 {
		b = append(b, '0')
	}
	b = appendInt(b, fracPart)
	return b
}

func appendInt(b []byte, v int64) []byte {
	if v < 0 {
		b = append(b, '-')
		v = -v
	}
	if v == 0 {
		return append(b, '0')
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, digits[i:]...)
}
