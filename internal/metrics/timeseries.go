package metrics

import (
	"runtime"
	"sync"
	"time"
)

// TimeSeriesPoint represents a single data point in a time series
type TimeSeriesPoint struct {
	Timestamp time.Time              `json:"timestamp"`
	Values    map[string]interface{} `json:"values"`
}

// TimeSeriesBuffer stores time-series metrics data
type TimeSeriesBuffer struct {
	mu       sync.RWMutex
	points   []TimeSeriesPoint
	size     int
	writePos int
	count    int
}

// TimeSeriesCollector samples the counters at a fixed interval so the
// recent history can be charted without an external scraper.
type TimeSeriesCollector struct {
	system   *TimeSeriesBuffer // goroutines, memory, GC
	ingest   *TimeSeriesBuffer // parser, output and MQTT counters
	api      *TimeSeriesBuffer // HTTP requests and latency
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTimeSeriesCollector creates a collector that keeps retention worth of
// samples taken every interval.
func NewTimeSeriesCollector(retention, interval time.Duration) *TimeSeriesCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	size := int(retention / interval)
	if size < 1 {
		size = 1
	}
	return &TimeSeriesCollector{
		system:   NewTimeSeriesBuffer(size),
		ingest:   NewTimeSeriesBuffer(size),
		api:      NewTimeSeriesBuffer(size),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// NewTimeSeriesBuffer creates a new time-series buffer
func NewTimeSeriesBuffer(size int) *TimeSeriesBuffer {
	return &TimeSeriesBuffer{
		points: make([]TimeSeriesPoint, size),
		size:   size,
	}
}

// Start begins collecting time-series data
func (c *TimeSeriesCollector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(Get())
			}
		}
	}()
}

// Stop stops the time-series collector. It is safe to call more than once.
func (c *TimeSeriesCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// collect gathers all metrics at the current time
func (c *TimeSeriesCollector) collect(m *Metrics) {
	now := time.Now()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.system.Add(TimeSeriesPoint{
		Timestamp: now,
		Values: map[string]interface{}{
			"goroutines":      runtime.NumGoroutine(),
			"memory_alloc_mb": float64(memStats.Alloc) / 1024 / 1024,
			"memory_heap_mb":  float64(memStats.HeapAlloc) / 1024 / 1024,
			"memory_sys_mb":   float64(memStats.Sys) / 1024 / 1024,
			"gc_cycles":       memStats.NumGC,
			"gc_pause_ns":     memStats.PauseNs[(memStats.NumGC+255)%256],
		},
	})

	c.ingest.Add(TimeSeriesPoint{
		Timestamp: now,
		Values: map[string]interface{}{
			"parser_bytes_total":     m.parserBytesTotal.Load(),
			"parser_records_total":   m.parserRecordsTotal.Load(),
			"parser_rejected_total":  m.parserRejectedTotal.Load(),
			"stream_errors_total":    m.streamErrorsTotal.Load(),
			"series_distinct":        m.seriesDistinct.Load(),
			"output_records_total":   m.outputRecordsTotal.Load(),
			"mqtt_messages_received": m.mqttMessagesReceived.Load(),
		},
	})

	c.api.Add(TimeSeriesPoint{
		Timestamp: now,
		Values: map[string]interface{}{
			"http_requests_total":   m.httpRequestsTotal.Load(),
			"http_requests_success": m.httpRequestsSuccess.Load(),
			"http_requests_error":   m.httpRequestsError.Load(),
			"http_latency_avg_us":   calculateAvgLatency(m.httpLatencySum.Load(), m.httpLatencyCount.Load()),
		},
	})
}

func calculateAvgLatency(sum, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// Add adds a point to the buffer
func (b *TimeSeriesBuffer) Add(point TimeSeriesPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points[b.writePos] = point
	b.writePos = (b.writePos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// GetRecent returns points from the last N minutes, oldest first
func (b *TimeSeriesBuffer) GetRecent(durationMinutes int) []TimeSeriesPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Now().Add(-time.Duration(durationMinutes) * time.Minute)
	var result []TimeSeriesPoint

	for i := 0; i < b.count; i++ {
		idx := (b.writePos - b.count + i + b.size) % b.size
		point := b.points[idx]

		if point.Timestamp.After(cutoff) {
			result = append(result, point)
		}
	}

	return result
}

// Get returns the named series ("system", "ingest" or "api"), or false
// for an unknown name.
func (c *TimeSeriesCollector) Get(name string, durationMinutes int) ([]TimeSeriesPoint, bool) {
	switch name {
	case "system":
		return c.system.GetRecent(durationMinutes), true
	case "ingest":
		return c.ingest.GetRecent(durationMinutes), true
	case "api":
		return c.api.GetRecent(durationMinutes), true
	default:
		return nil, false
	}
}
