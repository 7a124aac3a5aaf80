package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "STEPFLOW"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and STEPFLOW_* environment
// variables. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".stepflow")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "runs.db")
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = filepath.Join(cfg.DataDir, "audit.jsonl")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".stepflow", "stepflow.yaml")
}

// bindEnv registers every key so AutomaticEnv can override values that are
// absent from the config file.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"engine.max_attempts",
		"engine.max_concurrency",
		"engine.round_limit",
		"engine.step_timeout",
		"engine.run_timeout",
		"engine.backoff.enabled",
		"engine.backoff.initial",
		"engine.backoff.max_interval",
		"engine.backoff.multiplier",
		"logging.level",
		"logging.file",
		"logging.pretty",
		"metrics.enabled",
		"metrics.addr",
		"tracing.enabled",
		"tracing.service_name",
		"tracing.exporter",
		"store.enabled",
		"store.path",
		"stream.enabled",
		"stream.addr",
		"audit.enabled",
		"audit.path",
		"data_dir",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
