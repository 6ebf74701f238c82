// Package mqtt consumes line protocol from MQTT topics. Each topic has its
// own incremental parser, so a line may be split across messages.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/lpstream/internal/ingest"
	"github.com/basekick-labs/lpstream/internal/metrics"
	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
	"github.com/basekick-labs/lpstream/pkg/models"
)

// RecordWriter receives parsed records. *output.Sink implements it.
type RecordWriter interface {
	Write(records []*models.Record) error
}

// ParserConfig holds the per-topic parsing settings
type ParserConfig struct {
	Escapes             lineprotocol.EscapeStrategy
	MaxLineLength       int64
	MaxDecompressedSize int64
}

// ErrNotConnected is reported by readiness checks while the broker is
// unreachable.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// Subscriber handles the MQTT connection and message processing
type Subscriber struct {
	config *Subscription
	parser ParserConfig
	client pahomqtt.Client
	sink   RecordWriter
	series *ingest.SeriesTracker
	logger zerolog.Logger

	diagnostics lineprotocol.DiagnosticFunc

	// Runtime state
	mu             sync.RWMutex
	running        bool
	connected      bool
	connectedSince time.Time
	lastMessageAt  time.Time

	topicsMu sync.Mutex
	topics   map[string]*topicStream

	// Statistics
	messagesReceived atomic.Int64
	messagesFailed   atomic.Int64
	bytesReceived    atomic.Int64
	recordsParsed    atomic.Int64
	linesRejected    atomic.Int64
	reconnects       atomic.Int64
}

// topicStream is the parsing state of one topic.
type topicStream struct {
	mu      sync.Mutex
	decoder *ingest.Decoder
}

// NewSubscriber creates a new MQTT subscriber. series may be nil.
func NewSubscriber(config *Subscription, parser ParserConfig, sink RecordWriter, series *ingest.SeriesTracker, logger zerolog.Logger) *Subscriber {
	if parser.MaxDecompressedSize <= 0 {
		parser.MaxDecompressedSize = ingest.DefaultMaxDecompressedSize
	}
	logger = logger.With().Str("component", "mqtt").Str("broker", config.Broker).Logger()
	return &Subscriber{
		config:      config,
		parser:      parser,
		sink:        sink,
		series:      series,
		logger:      logger,
		diagnostics: ingest.Diagnostics(logger),
		topics:      make(map[string]*topicStream),
	}
}

// Start connects to the MQTT broker and begins message processing
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("subscriber already running")
	}
	s.mu.Unlock()

	opts, err := s.buildClientOptions()
	if err != nil {
		return fmt.Errorf("failed to build client options: %w", err)
	}

	s.client = pahomqtt.NewClient(opts)

	s.logger.Info().Strs("topics", s.config.Topics).Msg("Connecting to MQTT broker")

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(s.config.ConnectTimeoutSeconds) * time.Second):
		return fmt.Errorf("connection timeout after %d seconds", s.config.ConnectTimeoutSeconds)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	return nil
}

// Close disconnects from the MQTT broker
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.connected = false
	s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		for _, topic := range s.config.Topics {
			s.client.Unsubscribe(topic)
		}
		// Disconnect with 1 second timeout
		s.client.Disconnect(1000)
	}
	metrics.Get().SetMQTTConnected(false)

	s.logger.Info().Msg("Disconnected from MQTT broker")
	return nil
}

// Ready returns nil while the subscriber holds a broker connection.
func (s *Subscriber) Ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return ErrNotConnected
	}
	return nil
}

// GetStats returns current statistics
func (s *Subscriber) GetStats() *SubscriptionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := StatusStopped
	switch {
	case s.connected:
		status = StatusConnected
	case s.running:
		status = StatusRunning
	}

	return &SubscriptionStats{
		Status:           status,
		Broker:           s.config.Broker,
		Topics:           s.config.Topics,
		MessagesReceived: s.messagesReceived.Load(),
		MessagesFailed:   s.messagesFailed.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		RecordsParsed:    s.recordsParsed.Load(),
		LinesRejected:    s.linesRejected.Load(),
		LastMessageAt:    s.lastMessageAt,
		ConnectedSince:   s.connectedSince,
		Reconnects:       s.reconnects.Load(),
	}
}

// buildClientOptions creates MQTT client options from subscription config
func (s *Subscriber) buildClientOptions() (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(s.config.Broker)
	opts.SetClientID(s.config.ClientID)

	opts.SetKeepAlive(time.Duration(s.config.KeepAliveSeconds) * time.Second)
	opts.SetConnectTimeout(time.Duration(s.config.ConnectTimeoutSeconds) * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Duration(s.config.ReconnectMaxSeconds) * time.Second)

	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
	}
	if s.config.Password != "" {
		opts.SetPassword(s.config.Password)
	}

	if s.config.TLSEnabled {
		tlsConfig, err := buildTLSConfig(s.config)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(s.onReconnecting)

	// Messages of one topic must reach its parser in order.
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)

	return opts, nil
}

// buildTLSConfig creates TLS configuration
func buildTLSConfig(config *Subscription) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.TLSInsecureSkipVerify,
	}

	if config.TLSCAPath != "" {
		caCert, err := os.ReadFile(config.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if config.TLSCertPath != "" && config.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(config.TLSCertPath, config.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// onConnect is called when connection is established
func (s *Subscriber) onConnect(client pahomqtt.Client) {
	// Messages published while disconnected are gone; a line left open
	// before the outage cannot be completed.
	s.resetTopics()

	s.logger.Info().Msg("MQTT connection established, subscribing to topics")

	for _, topic := range s.config.Topics {
		token := client.Subscribe(topic, byte(s.config.QoS), s.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to topic")
			continue
		}
		s.logger.Info().Str("topic", topic).Int("qos", s.config.QoS).Msg("Subscribed to topic")
	}

	s.mu.Lock()
	s.connected = true
	s.connectedSince = time.Now()
	s.mu.Unlock()

	metrics.Get().SetMQTTConnected(true)
}

// onConnectionLost is called when connection is lost
func (s *Subscriber) onConnectionLost(client pahomqtt.Client, err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("MQTT connection lost")
	metrics.Get().SetMQTTConnected(false)
}

// onReconnecting is called before reconnection attempt
func (s *Subscriber) onReconnecting(client pahomqtt.Client, opts *pahomqtt.ClientOptions) {
	s.reconnects.Add(1)
	metrics.Get().IncMQTTReconnects()
	s.logger.Info().Int64("reconnect_count", s.reconnects.Load()).Msg("Attempting to reconnect to MQTT broker")
}

// onMessage handles incoming MQTT messages
func (s *Subscriber) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := msg.Payload()
	s.messagesReceived.Add(1)
	s.bytesReceived.Add(int64(len(payload)))

	s.mu.Lock()
	s.lastMessageAt = time.Now()
	s.mu.Unlock()

	m := metrics.Get()
	m.IncMQTTMessagesReceived()
	m.IncMQTTBytesReceived(int64(len(payload)))

	if err := s.processMessage(msg.Topic(), payload); err != nil {
		s.messagesFailed.Add(1)
		m.IncMQTTMessagesFailed()
		s.logger.Error().
			Err(err).
			Str("topic", msg.Topic()).
			Int("payload_size", len(payload)).
			Msg("Failed to process MQTT message")
	}
}

// processMessage feeds one payload to its topic's parser and writes the
// completed records to the sink.
func (s *Subscriber) processMessage(topic string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	data, enc, err := ingest.Decompress(payload, "", s.parser.MaxDecompressedSize)
	if err != nil {
		return fmt.Errorf("failed to decompress payload: %w", err)
	}
	if enc != ingest.EncodingIdentity {
		metrics.Get().IncDecompressed()
	}
	if len(data) == 0 {
		return nil
	}
	if s.config.TerminateMessages && data[len(data)-1] != '\n' {
		data = append(data[:len(data):len(data)], '\n')
	}

	ts := s.topic(topic)
	ts.mu.Lock()
	before := ts.decoder.Stats()
	var records []*models.Record
	err = ts.decoder.FeedChunk(data, func(rec *models.Record) error {
		records = append(records, rec)
		return nil
	})
	after := ts.decoder.Stats()
	ts.mu.Unlock()

	s.recordsParsed.Add(after.Records - before.Records)
	s.linesRejected.Add(after.Rejected - before.Rejected)
	m := metrics.Get()
	m.IncParserBytes(after.Bytes - before.Bytes)
	m.IncParserRecords(after.Records - before.Records)

	// Records completed before an over-long line are still delivered.
	if len(records) > 0 {
		if werr := s.sink.Write(records); werr != nil {
			return fmt.Errorf("failed to write records: %w", werr)
		}
	}
	if err != nil {
		if errors.Is(err, ingest.ErrLineTooLong) {
			m.IncLinesTooLong()
		}
		return err
	}
	return nil
}

// topic returns the parsing state of a topic, creating it on first use.
func (s *Subscriber) topic(name string) *topicStream {
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()

	ts, ok := s.topics[name]
	if !ok {
		ts = &topicStream{
			decoder: ingest.NewDecoder(ingest.DecoderConfig{
				Escapes:       s.parser.Escapes,
				MaxLineLength: s.parser.MaxLineLength,
				Diagnostics:   s.diagnostics,
				Series:        s.series,
			}),
		}
		s.topics[name] = ts
	}
	return ts
}

func (s *Subscriber) resetTopics() {
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	for _, ts := range s.topics {
		ts.mu.Lock()
		ts.decoder.Reset()
		ts.mu.Unlock()
	}
}
