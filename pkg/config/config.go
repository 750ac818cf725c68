// Package config provides configuration structures and loading logic for the
// monitoring service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the service.
type Config struct {
	Server ServerConfig `yaml:"server"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Feed      FeedConfig      `yaml:"feed"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Rules     RulesConfig     `yaml:"rules"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the admin HTTP server.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// FeedConfig holds configuration for the gazette feed client.
type FeedConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
	// BreakerMaxFailures consecutive fetch failures open the feed circuit
	// breaker; zero disables it.
	BreakerMaxFailures int      `yaml:"breaker_max_failures"`
	BreakerCooldown    Duration `yaml:"breaker_cooldown"`
}

// MonitorConfig holds configuration for the monitoring cycle.
type MonitorConfig struct {
	Interval     Duration `yaml:"interval"`
	RetryDelay   Duration `yaml:"retry_delay"`
	CycleTimeout Duration `yaml:"cycle_timeout"`
	Lookback     Duration `yaml:"lookback"`
	Workers      int      `yaml:"workers"`
	MaxAttempts  int      `yaml:"max_attempts"`
	// Recipients is the stakeholder list for notification fan-out.
	Recipients []string `yaml:"recipients"`
}

// RulesConfig holds configuration for the classification rule table.
type RulesConfig struct {
	// File is the YAML rule table to load and watch. Empty uses the
	// built-in default rules.
	File string `yaml:"file"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "6h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server: ServerConfig{
			ListenAddress: ":8090",
		},
		Feed: FeedConfig{
			Timeout:            Duration(30 * time.Second),
			BreakerMaxFailures: 5,
			BreakerCooldown:    Duration(5 * time.Minute),
		},
		Monitor: MonitorConfig{
			Interval:     Duration(6 * time.Hour),
			RetryDelay:   Duration(15 * time.Minute),
			CycleTimeout: Duration(10 * time.Minute),
			Lookback:     Duration(24 * time.Hour),
			Workers:      4,
			MaxAttempts:  3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("NORMWATCH_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddress = val
	}

	if val := os.Getenv("NORMWATCH_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("NORMWATCH_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("NORMWATCH_FEED_ENDPOINT"); val != "" {
		cfg.Feed.Endpoint = val
	}

	if val := os.Getenv("NORMWATCH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Monitor.Interval = Duration(d)
		}
	}
	if val := os.Getenv("NORMWATCH_LOOKBACK"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Monitor.Lookback = Duration(d)
		}
	}
	if val := os.Getenv("NORMWATCH_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Monitor.Workers = n
		}
	}
	if val := os.Getenv("NORMWATCH_RECIPIENTS"); val != "" {
		parts := strings.Split(val, ",")
		recipients := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				recipients = append(recipients, p)
			}
		}
		cfg.Monitor.Recipients = recipients
	}

	if val := os.Getenv("NORMWATCH_RULES_FILE"); val != "" {
		cfg.Rules.File = val
	}

	if val := os.Getenv("NORMWATCH_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("feed configuration: %w", err)
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate checks server configuration.
func (s *ServerConfig) Validate() error {
	if s.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	return nil
}

// Validate checks feed configuration.
func (f *FeedConfig) Validate() error {
	if f.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if f.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if f.BreakerMaxFailures < 0 {
		return fmt.Errorf("breaker_max_failures must not be negative")
	}
	return nil
}

// Validate checks monitor configuration.
func (m *MonitorConfig) Validate() error {
	if m.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if m.RetryDelay <= 0 {
		return fmt.Errorf("retry_delay must be positive")
	}
	if m.RetryDelay >= m.Interval {
		return fmt.Errorf("retry_delay must be shorter than interval")
	}
	if m.CycleTimeout <= 0 {
		return fmt.Errorf("cycle_timeout must be positive")
	}
	if m.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive")
	}
	if m.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if m.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if len(m.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

// Validate checks logging configuration.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", l.Level)
	}
}
