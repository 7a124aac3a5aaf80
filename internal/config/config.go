package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the stepflow configuration
type Config struct {
	Engine  EngineConfig  `json:"engine" mapstructure:"engine"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Store   StoreConfig   `json:"store" mapstructure:"store"`
	Stream  StreamConfig  `json:"stream" mapstructure:"stream"`
	Audit   AuditConfig   `json:"audit" mapstructure:"audit"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// EngineConfig tunes plan execution
type EngineConfig struct {
	MaxAttempts    int           `json:"max_attempts" mapstructure:"max_attempts"`
	MaxConcurrency int           `json:"max_concurrency" mapstructure:"max_concurrency"` // 0 = unbounded
	RoundLimit     int           `json:"round_limit" mapstructure:"round_limit"`         // 0 = 2x step count
	StepTimeout    time.Duration `json:"step_timeout" mapstructure:"step_timeout"`
	RunTimeout     time.Duration `json:"run_timeout" mapstructure:"run_timeout"`
	Backoff        BackoffConfig `json:"backoff" mapstructure:"backoff"`
}

// BackoffConfig configures the delay between step attempts
type BackoffConfig struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	Initial     time.Duration `json:"initial" mapstructure:"initial"`
	MaxInterval time.Duration `json:"max_interval" mapstructure:"max_interval"`
	Multiplier  float64       `json:"multiplier" mapstructure:"multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	Exporter    string `json:"exporter" mapstructure:"exporter"` // none, stdout
}

// StoreConfig controls run history persistence
type StoreConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// StreamConfig controls the websocket event stream
type StreamConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// AuditConfig controls the JSON-lines event audit log
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxAttempts:    2,
			MaxConcurrency: 0,
			RoundLimit:     0,
			Backoff: BackoffConfig{
				Enabled:     false,
				Initial:     500 * time.Millisecond,
				MaxInterval: 10 * time.Second,
				Multiplier:  2,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "stepflow",
			Exporter:    "none",
		},
		Store: StoreConfig{
			Enabled: true,
		},
		Stream: StreamConfig{
			Enabled: false,
			Addr:    ":8080",
		},
		Audit: AuditConfig{
			Enabled: false,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	if c.Engine.MaxConcurrency < 0 {
		return fmt.Errorf("engine.max_concurrency cannot be negative")
	}
	if c.Engine.RoundLimit < 0 {
		return fmt.Errorf("engine.round_limit cannot be negative")
	}
	if c.Engine.StepTimeout < 0 || c.Engine.RunTimeout < 0 {
		return fmt.Errorf("engine timeouts cannot be negative")
	}
	if c.Engine.Backoff.Enabled {
		if c.Engine.Backoff.Initial <= 0 {
			return fmt.Errorf("engine.backoff.initial must be positive when backoff is enabled")
		}
		if c.Engine.Backoff.Multiplier < 1 {
			return fmt.Errorf("engine.backoff.multiplier must be >= 1")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Stream.Enabled && c.Stream.Addr == "" {
		return fmt.Errorf("stream.addr is required when the event stream is enabled")
	}
	if c.Tracing.Enabled && c.Tracing.Exporter != "none" && c.Tracing.Exporter != "stdout" {
		return fmt.Errorf("invalid tracing exporter: %s (must be: none, stdout)", c.Tracing.Exporter)
	}

	return nil
}
