package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation limits
const (
	MaxTopics       = 100
	MaxTopicLength  = 1024
	MaxClientIDLen  = 255
	MaxBrokerURLLen = 2048
)

// Status represents the current state of the subscriber
type Status string

const (
	StatusStopped   Status = "stopped"
	StatusRunning   Status = "running"
	StatusConnected Status = "connected"
)

// Subscription describes what to consume and how to reach the broker.
// Every payload received on Topics is treated as a chunk of line protocol.
type Subscription struct {
	Broker                string
	ClientID              string
	Topics                []string
	QoS                   int
	Username              string
	Password              string
	TLSEnabled            bool
	TLSCertPath           string
	TLSKeyPath            string
	TLSCAPath             string
	TLSInsecureSkipVerify bool
	KeepAliveSeconds      int
	ConnectTimeoutSeconds int
	ReconnectMaxSeconds   int
	// TerminateMessages ends every message with a newline when it does not
	// carry one, for publishers that send one line per message without it.
	TerminateMessages bool
}

// SubscriptionStats contains runtime statistics for the subscriber
type SubscriptionStats struct {
	Status           Status    `json:"status"`
	Broker           string    `json:"broker"`
	Topics           []string  `json:"topics"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesFailed   int64     `json:"messages_failed"`
	BytesReceived    int64     `json:"bytes_received"`
	RecordsParsed    int64     `json:"records_parsed"`
	LinesRejected    int64     `json:"lines_rejected"`
	LastMessageAt    time.Time `json:"last_message_at,omitempty"`
	ConnectedSince   time.Time `json:"connected_since,omitempty"`
	Reconnects       int64     `json:"reconnects"`
}

// Validate validates the subscription configuration
func (s *Subscription) Validate() error {
	if s.Broker == "" {
		return errors.New("broker is required")
	}
	if len(s.Broker) > MaxBrokerURLLen {
		return fmt.Errorf("broker URL exceeds %d characters", MaxBrokerURLLen)
	}
	if err := validateBrokerURL(s.Broker); err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	if len(s.ClientID) > MaxClientIDLen {
		return fmt.Errorf("client_id exceeds %d characters", MaxClientIDLen)
	}

	if len(s.Topics) == 0 {
		return errors.New("at least one topic is required")
	}
	if len(s.Topics) > MaxTopics {
		return fmt.Errorf("maximum %d topics allowed", MaxTopics)
	}
	for _, topic := range s.Topics {
		if topic == "" {
			return errors.New("empty topic not allowed")
		}
		if len(topic) > MaxTopicLength {
			return fmt.Errorf("topic pattern exceeds %d characters", MaxTopicLength)
		}
	}

	if s.QoS < 0 || s.QoS > 2 {
		return errors.New("qos must be 0, 1, or 2")
	}

	for _, path := range []string{s.TLSCertPath, s.TLSKeyPath, s.TLSCAPath} {
		if path != "" && strings.Contains(path, "..") {
			return errors.New("path traversal not allowed in certificate paths")
		}
	}

	if s.KeepAliveSeconds < 0 {
		return errors.New("keep_alive_seconds cannot be negative")
	}
	if s.ConnectTimeoutSeconds < 0 {
		return errors.New("connect_timeout_seconds cannot be negative")
	}
	if s.ReconnectMaxSeconds < 0 {
		return errors.New("reconnect_max_seconds cannot be negative")
	}

	return nil
}

// SetDefaults sets default values for optional fields
func (s *Subscription) SetDefaults() {
	if s.ClientID == "" {
		s.ClientID = generateClientID()
	}
	if s.KeepAliveSeconds == 0 {
		s.KeepAliveSeconds = 60
	}
	if s.ConnectTimeoutSeconds == 0 {
		s.ConnectTimeoutSeconds = 30
	}
	if s.ReconnectMaxSeconds == 0 {
		s.ReconnectMaxSeconds = 60
	}
}

// generateClientID creates a unique client ID for MQTT connections
func generateClientID() string {
	return "lpstream-" + uuid.NewString()[:8]
}

// validateBrokerURL validates the MQTT broker URL format
func validateBrokerURL(brokerURL string) error {
	validSchemes := []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"}

	hasValidScheme := false
	for _, scheme := range validSchemes {
		if strings.HasPrefix(brokerURL, scheme) {
			hasValidScheme = true
			break
		}
	}
	if !hasValidScheme {
		return fmt.Errorf("must start with one of: %v", validSchemes)
	}

	parsed, err := url.Parse(brokerURL)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return errors.New("host is required")
	}

	return nil
}
