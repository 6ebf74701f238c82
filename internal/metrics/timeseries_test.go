package metrics

import (
	"testing"
	"time"
)

func TestNewTimeSeriesCollector_BufferSize(t *testing.T) {
	tests := []struct {
		retention time.Duration
		interval  time.Duration
		wantSize  int
	}{
		{30 * time.Minute, 5 * time.Second, 360},
		{60 * time.Minute, 10 * time.Second, 360},
		{30 * time.Minute, time.Second, 1800},
		{time.Second, time.Minute, 1},
	}

	for _, tt := range tests {
		c := NewTimeSeriesCollector(tt.retention, tt.interval)
		if c.system.size != tt.wantSize {
			t.Errorf("size for %v/%v = %d, want %d", tt.retention, tt.interval, c.system.size, tt.wantSize)
		}
		if c.interval != tt.interval {
			t.Errorf("interval = %v, want %v", c.interval, tt.interval)
		}
	}
}

func TestTimeSeriesBuffer_RingBuffer(t *testing.T) {
	buf := NewTimeSeriesBuffer(3)

	for i := 0; i < 5; i++ {
		buf.Add(TimeSeriesPoint{
			Timestamp: time.Now(),
			Values:    map[string]interface{}{"value": i},
		})
	}

	if buf.count != 3 {
		t.Errorf("count = %d, want 3 (buffer size)", buf.count)
	}
	if buf.writePos != 2 { // 5 % 3
		t.Errorf("writePos = %d, want 2", buf.writePos)
	}

	recent := buf.GetRecent(1)
	if len(recent) != 3 {
		t.Fatalf("GetRecent returned %d points, want 3", len(recent))
	}
	if recent[0].Values["value"] != 2 || recent[2].Values["value"] != 4 {
		t.Errorf("points out of order: %v", recent)
	}
}

func TestTimeSeriesBuffer_GetRecent(t *testing.T) {
	buf := NewTimeSeriesBuffer(10)

	baseTime := time.Now().Add(-5 * time.Minute)
	for i := 0; i < 6; i++ {
		buf.Add(TimeSeriesPoint{
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
			Values:    map[string]interface{}{"minute": i},
		})
	}

	// Minutes 3, 4 and 5
	if recent := buf.GetRecent(3); len(recent) != 3 {
		t.Errorf("GetRecent(3) returned %d points, want 3", len(recent))
	}
	if all := buf.GetRecent(10); len(all) != 6 {
		t.Errorf("GetRecent(10) returned %d points, want 6", len(all))
	}
}

func TestTimeSeriesCollector_Collect(t *testing.T) {
	c := NewTimeSeriesCollector(time.Minute, time.Second)
	m := newMetrics()
	m.IncParserRecords(7)
	m.IncHTTPRequests()

	c.collect(m)

	ingest, ok := c.Get("ingest", 1)
	if !ok || len(ingest) != 1 {
		t.Fatalf("ingest series = %v, %v", ingest, ok)
	}
	if got := ingest[0].Values["parser_records_total"]; got != int64(7) {
		t.Errorf("parser_records_total = %v, want 7", got)
	}

	api, _ := c.Get("api", 1)
	if len(api) != 1 || api[0].Values["http_requests_total"] != int64(1) {
		t.Errorf("api series = %v", api)
	}

	system, _ := c.Get("system", 1)
	for _, key := range []string{"goroutines", "memory_alloc_mb", "gc_cycles"} {
		if _, ok := system[0].Values[key]; !ok {
			t.Errorf("system metrics missing key: %s", key)
		}
	}

	if _, ok := c.Get("query", 1); ok {
		t.Error("unknown series should not be found")
	}
}

func TestTimeSeriesCollector_StartStop(t *testing.T) {
	c := NewTimeSeriesCollector(time.Minute, 20*time.Millisecond)
	c.Start()
	time.Sleep(100 * time.Millisecond)
	c.Stop()
	c.Stop()

	if system, _ := c.Get("system", 1); len(system) == 0 {
		t.Error("no system data collected")
	}
}

func TestCalculateAvgLatency(t *testing.T) {
	tests := []struct {
		name     string
		sum      int64
		count    int64
		expected float64
	}{
		{"zero count", 100, 0, 0},
		{"normal case", 1000, 10, 100},
		{"single value", 500, 1, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := calculateAvgLatency(tt.sum, tt.count); result != tt.expected {
				t.Errorf("calculateAvgLatency(%d, %d) = %f, want %f", tt.sum, tt.count, result, tt.expected)
			}
		})
	}
}
