package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Admission AdmissionConfig `yaml:"admission"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the HTTP/control-plane server configuration.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// IngestConfig contains the datagram ingestion configuration.
type IngestConfig struct {
	UDPPort     int        `yaml:"udp_port"`
	BindAddress string     `yaml:"bind_address"`
	ReadBuffer  int        `yaml:"read_buffer"`
	NATS        NATSConfig `yaml:"nats"`
}

// NATSConfig configures the optional NATS ingestion path.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// BufferConfig bounds the packet buffer.
type BufferConfig struct {
	CeilingBytes    int `yaml:"ceiling_bytes"`
	MaxWindowChunks int `yaml:"max_window_chunks"`
}

// ClassLimit is one fixed-window limit: count per interval.
type ClassLimit struct {
	Interval float64 `yaml:"interval"` // seconds
	Limit    int     `yaml:"limit"`
}

// GetInterval returns the window length as a time.Duration.
func (c ClassLimit) GetInterval() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

// AdmissionConfig contains rate limiting and connection capping.
type AdmissionConfig struct {
	// Request gates HTTP-style control-plane calls per source address.
	Request ClassLimit `yaml:"request"`
	// Role, Signal and Data gate per-connection events by class.
	Role   ClassLimit `yaml:"role"`
	Signal ClassLimit `yaml:"signal"`
	Data   ClassLimit `yaml:"data"`
	// ConnCap limits open connections per originating address.
	ConnCap int `yaml:"conn_cap"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			Address: "0.0.0.0",
		},
		Ingest: IngestConfig{
			UDPPort:     9000,
			BindAddress: "0.0.0.0",
			ReadBuffer:  1 << 20,
			NATS: NATSConfig{
				Enabled: false,
				URL:     "nats://127.0.0.1:4222",
				Subject: "relay.ingest",
			},
		},
		Buffer: BufferConfig{
			CeilingBytes:    5 * 1024 * 1024,
			MaxWindowChunks: 50,
		},
		Admission: AdmissionConfig{
			Request: ClassLimit{Interval: 10, Limit: 100},
			Role:    ClassLimit{Interval: 10, Limit: 10},
			Signal:  ClassLimit{Interval: 1, Limit: 50},
			Data:    ClassLimit{Interval: 1, Limit: 20},
			ConnCap: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, overlaid by the YAML file if path
// names one that exists, overlaid by environment variables, then validated.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnv overlays the environment-style configuration surface.
func (c *Config) applyEnv() error {
	ints := []struct {
		name   string
		target *int
	}{
		{"RELAY_HTTP_PORT", &c.Server.Port},
		{"RELAY_UDP_PORT", &c.Ingest.UDPPort},
		{"RELAY_BUFFER_CEILING", &c.Buffer.CeilingBytes},
		{"RELAY_CONN_CAP", &c.Admission.ConnCap},
		{"RELAY_REQUEST_LIMIT", &c.Admission.Request.Limit},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", e.name, v, err)
		}
		*e.target = n
	}

	strs := []struct {
		name   string
		target *string
	}{
		{"RELAY_HTTP_ADDRESS", &c.Server.Address},
		{"RELAY_BIND_ADDRESS", &c.Ingest.BindAddress},
		{"RELAY_NATS_URL", &c.Ingest.NATS.URL},
		{"RELAY_NATS_SUBJECT", &c.Ingest.NATS.Subject},
		{"RELAY_LOG_LEVEL", &c.Logging.Level},
	}
	for _, e := range strs {
		if v := os.Getenv(e.name); v != "" {
			*e.target = v
		}
	}

	if v := os.Getenv("RELAY_NATS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RELAY_NATS_ENABLED=%q: %w", v, err)
		}
		c.Ingest.NATS.Enabled = b
	}

	return nil
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}
	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer config: %w", err)
	}
	if err := c.Admission.Validate(); err != nil {
		return fmt.Errorf("admission config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

// Validate validates ingestion configuration.
func (i *IngestConfig) Validate() error {
	if i.UDPPort < 1 || i.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", i.UDPPort)
	}
	if i.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if i.ReadBuffer < 1024 {
		return fmt.Errorf("read_buffer must be at least 1024 bytes, got %d", i.ReadBuffer)
	}
	if i.NATS.Enabled {
		if i.NATS.URL == "" {
			return fmt.Errorf("nats url cannot be empty when nats is enabled")
		}
		if i.NATS.Subject == "" {
			return fmt.Errorf("nats subject cannot be empty when nats is enabled")
		}
	}
	return nil
}

// Validate validates buffer configuration.
func (b *BufferConfig) Validate() error {
	if b.CeilingBytes < 1024 {
		return fmt.Errorf("ceiling_bytes must be at least 1024, got %d", b.CeilingBytes)
	}
	if b.MaxWindowChunks < 1 {
		return fmt.Errorf("max_window_chunks must be at least 1, got %d", b.MaxWindowChunks)
	}
	return nil
}

// Validate validates admission configuration.
func (a *AdmissionConfig) Validate() error {
	limits := []struct {
		name string
		l    ClassLimit
	}{
		{"request", a.Request},
		{"role", a.Role},
		{"signal", a.Signal},
		{"data", a.Data},
	}
	for _, e := range limits {
		if e.l.Interval <= 0 {
			return fmt.Errorf("%s interval must be positive, got %f", e.name, e.l.Interval)
		}
		if e.l.Limit < 1 {
			return fmt.Errorf("%s limit must be at least 1, got %d", e.name, e.l.Limit)
		}
	}
	if a.ConnCap < 1 {
		return fmt.Errorf("conn_cap must be at least 1, got %d", a.ConnCap)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}
