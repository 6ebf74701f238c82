package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
)

// Config holds all configuration for lpstream
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Parser   ParserConfig
	Output   OutputConfig
	MQTT     MQTTConfig
	Shutdown ShutdownConfig
}

type ServerConfig struct {
	Enabled        bool
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	MaxPayloadSize int64 // Maximum request payload size in bytes (applies to both compressed and decompressed)
	// TLS Configuration
	TLSEnabled  bool   // Enable HTTPS/TLS
	TLSCertFile string // Path to TLS certificate file (PEM format)
	TLSKeyFile  string // Path to TLS private key file (PEM format)
}

type LogConfig struct {
	Level  string
	Format string
}

type ParserConfig struct {
	EscapeStrategy string // strict or compat
	MaxLineLength  int64  // Longest accepted line in bytes; 0 disables the limit
	ChunkSize      int    // Read size when decoding streams
}

type OutputConfig struct {
	Format string // json, msgpack or lp
	Path   string // "-" writes to stdout
}

// MQTTConfig describes a single broker connection. Every topic gets its own
// parser, so a line may be split across messages on the same topic.
type MQTTConfig struct {
	Enabled               bool
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
	TerminateMessages     bool // Treat every message as ending with a newline
}

type ShutdownConfig struct {
	TimeoutSeconds int
}

// Load loads configuration from environment and the default config file
// locations.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from environment and the given TOML file.
// An empty path searches ., /etc/lpstream/ and $HOME/.lpstream/ for
// lpstream.toml; a missing file there is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("LPSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("lpstream")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lpstream/")
		v.AddConfigPath("$HOME/.lpstream/")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Config file not found is OK, use defaults
		}
	}

	maxPayloadSize, err := ParseSize(v.GetString("server.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.max_payload_size: %w", err)
	}
	maxLineLength, err := ParseSize(v.GetString("parser.max_line_length"))
	if err != nil {
		return nil, fmt.Errorf("invalid parser.max_line_length: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Enabled:        v.GetBool("server.enabled"),
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			ReadTimeout:    v.GetInt("server.read_timeout"),
			WriteTimeout:   v.GetInt("server.write_timeout"),
			MaxPayloadSize: maxPayloadSize,
			TLSEnabled:     v.GetBool("server.tls_enabled"),
			TLSCertFile:    v.GetString("server.tls_cert_file"),
			TLSKeyFile:     v.GetString("server.tls_key_file"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Parser: ParserConfig{
			EscapeStrategy: v.GetString("parser.escape_strategy"),
			MaxLineLength:  maxLineLength,
			ChunkSize:      v.GetInt("parser.chunk_size"),
		},
		Output: OutputConfig{
			Format: v.GetString("output.format"),
			Path:   v.GetString("output.path"),
		},
		MQTT: MQTTConfig{
			Enabled:               v.GetBool("mqtt.enabled"),
			Broker:                v.GetString("mqtt.broker"),
			ClientID:              v.GetString("mqtt.client_id"),
			Topics:                v.GetStringSlice("mqtt.topics"),
			QoS:                   v.GetInt("mqtt.qos"),
			Username:              v.GetString("mqtt.username"),
			Password:              v.GetString("mqtt.password"),
			TLSEnabled:            v.GetBool("mqtt.tls_enabled"),
			TLSCertPath:           v.GetString("mqtt.tls_cert_path"),
			TLSKeyPath:            v.GetString("mqtt.tls_key_path"),
			TLSCAPath:             v.GetString("mqtt.tls_ca_path"),
			TLSInsecureSkipVerify: v.GetBool("mqtt.tls_insecure_skip_verify"),
			KeepAliveSeconds:      v.GetInt("mqtt.keep_alive_seconds"),
			ConnectTimeoutSeconds: v.GetInt("mqtt.connect_timeout_seconds"),
			ReconnectMaxSeconds:   v.GetInt("mqtt.reconnect_max_seconds"),
			TerminateMessages:     v.GetBool("mqtt.terminate_messages"),
		},
		Shutdown: ShutdownConfig{
			TimeoutSeconds: v.GetInt("shutdown.timeout_seconds"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8086) // InfluxDB's write port
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.max_payload_size", "100MB")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Parser defaults
	v.SetDefault("parser.escape_strategy", "strict")
	v.SetDefault("parser.max_line_length", "1MB")
	v.SetDefault("parser.chunk_size", 64*1024)

	// Output defaults
	v.SetDefault("output.format", "json")
	v.SetDefault("output.path", "-")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "lpstream")
	v.SetDefault("mqtt.topics", []string{})
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive_seconds", 60)
	v.SetDefault("mqtt.connect_timeout_seconds", 30)
	v.SetDefault("mqtt.reconnect_max_seconds", 60)
	v.SetDefault("mqtt.terminate_messages", false)

	v.SetDefault("shutdown.timeout_seconds", 30)
}

// Validate checks values that would otherwise fail later at startup.
func (cfg *Config) Validate() error {
	if _, err := lineprotocol.ParseEscapeStrategy(cfg.Parser.EscapeStrategy); err != nil {
		return fmt.Errorf("invalid parser.escape_strategy: %w", err)
	}
	if cfg.Parser.ChunkSize <= 0 {
		return fmt.Errorf("parser.chunk_size must be positive, got %d", cfg.Parser.ChunkSize)
	}
	if cfg.Parser.MaxLineLength < 0 {
		return fmt.Errorf("parser.max_line_length cannot be negative")
	}
	switch cfg.Output.Format {
	case "json", "msgpack", "lp":
	default:
		return fmt.Errorf("invalid output.format %q (want json, msgpack or lp)", cfg.Output.Format)
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.enabled but mqtt.broker not specified")
		}
		if len(cfg.MQTT.Topics) == 0 {
			return fmt.Errorf("mqtt.enabled but mqtt.topics is empty")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
	}
	return cfg.Server.ValidateTLS()
}

// ValidateTLS validates TLS configuration when TLS is enabled.
// Returns nil if TLS is disabled or if configuration is valid.
func (cfg *ServerConfig) ValidateTLS() error {
	if !cfg.TLSEnabled {
		return nil
	}

	if cfg.TLSCertFile == "" {
		return fmt.Errorf("TLS enabled but server.tls_cert_file not specified")
	}
	if cfg.TLSKeyFile == "" {
		return fmt.Errorf("TLS enabled but server.tls_key_file not specified")
	}

	if err := checkFile("TLS certificate", cfg.TLSCertFile); err != nil {
		return err
	}
	return checkFile("TLS key", cfg.TLSKeyFile)
}

func checkFile(what, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s file not found: %s", what, path)
		}
		return fmt.Errorf("cannot access %s file %s: %w", what, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s path is a directory, not a file: %s", what, path)
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
// Returns the size in bytes or an error if the format is invalid.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Order matters: check longer suffixes first
	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				// Likely an unrecognized unit like "T" in "1TB"
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	// Plain number of bytes
	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
