package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/lpstream/internal/mqtt"
)

// MQTTSource is the view of the MQTT subscriber the API needs.
// *mqtt.Subscriber implements it.
type MQTTSource interface {
	GetStats() *mqtt.SubscriptionStats
	Ready() error
}

// MQTTHandler handles MQTT stats and health endpoints
type MQTTHandler struct {
	subscriber MQTTSource
	logger     zerolog.Logger
}

// NewMQTTHandler creates a new MQTT handler
func NewMQTTHandler(subscriber MQTTSource, logger zerolog.Logger) *MQTTHandler {
	return &MQTTHandler{
		subscriber: subscriber,
		logger:     logger.With().Str("component", "mqtt-api").Logger(),
	}
}

// RegisterRoutes registers the MQTT stats/health API routes
func (h *MQTTHandler) RegisterRoutes(app *fiber.App) {
	mqttGroup := app.Group("/api/v1/mqtt")

	mqttGroup.Get("/stats", h.handleStats)
	mqttGroup.Get("/health", h.handleHealth)
}

// handleStats returns the subscriber's counters
func (h *MQTTHandler) handleStats(c *fiber.Ctx) error {
	stats := h.subscriber.GetStats()

	var failureRate float64
	if stats.MessagesReceived > 0 {
		failureRate = float64(stats.MessagesFailed) / float64(stats.MessagesReceived)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"stats":   stats,
		"summary": fiber.Map{
			"failure_rate": failureRate,
			"topics":       len(stats.Topics),
		},
	})
}

// handleHealth returns MQTT subsystem health status
func (h *MQTTHandler) handleHealth(c *fiber.Ctx) error {
	stats := h.subscriber.GetStats()

	status := "healthy"
	if err := h.subscriber.Ready(); err != nil {
		status = "unhealthy"
		if stats.Status == mqtt.StatusRunning {
			// auto-reconnect in progress
			status = "degraded"
		}
	}

	code := fiber.StatusOK
	if status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":     status,
		"healthy":    status == "healthy",
		"connection": stats.Status,
		"broker":     stats.Broker,
		"reconnects": stats.Reconnects,
	})
}
