package api

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/lpstream/internal/metrics"
	"github.com/basekick-labs/lpstream/internal/mqtt"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(nil, zerolog.Nop())
	s.RegisterRoutes()
	return s
}

func get(t *testing.T, app *fiber.App, target string, headers map[string]string) (int, string) {
	t.Helper()

	req := httptest.NewRequest("GET", target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Health(t *testing.T) {
	s := setupTestServer(t)

	code, body := get(t, s.GetApp(), "/health", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"status":"ok"`)
}

func TestServer_SecurityHeaders(t *testing.T) {
	s := setupTestServer(t)

	resp, err := s.GetApp().Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestServer_Ready(t *testing.T) {
	s := setupTestServer(t)

	code, _ := get(t, s.GetApp(), "/ready", nil)
	assert.Equal(t, fiber.StatusOK, code)

	var brokerErr error
	s.AddReadinessCheck("sink", func() error { return nil })
	s.AddReadinessCheck("mqtt", func() error { return brokerErr })

	code, _ = get(t, s.GetApp(), "/ready", nil)
	assert.Equal(t, fiber.StatusOK, code)

	brokerErr = errors.New("not connected")
	code, body := get(t, s.GetApp(), "/ready", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"mqtt":"not connected"`)
	assert.NotContains(t, body, `"sink"`)
}

func TestServer_Metrics(t *testing.T) {
	s := setupTestServer(t)
	metrics.Get().IncParserRecords(3)

	code, body := get(t, s.GetApp(), "/metrics", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, "lpstream_parser_records_total")

	code, body = get(t, s.GetApp(), "/metrics", map[string]string{"Accept": "application/json"})
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "{"))

	code, body = get(t, s.GetApp(), "/api/v1/metrics", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"timestamp"`)

	code, body = get(t, s.GetApp(), "/api/v1/metrics/memory", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"goroutines"`)
}

func TestServer_TimeSeries(t *testing.T) {
	s := setupTestServer(t)

	code, _ := get(t, s.GetApp(), "/api/v1/metrics/timeseries/ingest", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, code, "no collector attached")

	s.SetTimeSeriesCollector(metrics.NewTimeSeriesCollector(time.Hour, time.Minute))

	code, body := get(t, s.GetApp(), "/api/v1/metrics/timeseries/ingest?duration_minutes=5", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"duration_minutes":5`)

	code, body = get(t, s.GetApp(), "/api/v1/metrics/timeseries/disk", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, body, "Invalid metric type")
}

func TestServer_Logs(t *testing.T) {
	s := setupTestServer(t)

	code, body := get(t, s.GetApp(), "/api/v1/logs?limit=5&level=error", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"limit":5`)
	assert.Contains(t, body, `"level_filter":"error"`)
}

func TestServer_Addr(t *testing.T) {
	s := NewServer(&ServerConfig{Host: "127.0.0.1", Port: 9999}, zerolog.Nop())
	assert.Equal(t, "127.0.0.1:9999", s.Addr())
}

type fakeMQTT struct {
	stats *mqtt.SubscriptionStats
	err   error
}

func (f *fakeMQTT) GetStats() *mqtt.SubscriptionStats { return f.stats }
func (f *fakeMQTT) Ready() error                      { return f.err }

func TestMQTTHandler(t *testing.T) {
	src := &fakeMQTT{stats: &mqtt.SubscriptionStats{
		Status:           mqtt.StatusConnected,
		Broker:           "tcp://localhost:1883",
		Topics:           []string{"lp/#"},
		MessagesReceived: 4,
		MessagesFailed:   1,
	}}

	app := fiber.New()
	NewMQTTHandler(src, zerolog.Nop()).RegisterRoutes(app)

	code, body := get(t, app, "/api/v1/mqtt/stats", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"failure_rate":0.25`)
	assert.Contains(t, body, `"messages_received":4`)

	code, body = get(t, app, "/api/v1/mqtt/health", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"status":"healthy"`)

	src.err = mqtt.ErrNotConnected
	src.stats.Status = mqtt.StatusRunning
	code, body = get(t, app, "/api/v1/mqtt/health", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"status":"degraded"`)

	src.stats.Status = mqtt.StatusStopped
	code, body = get(t, app, "/api/v1/mqtt/health", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"status":"unhealthy"`)
}
