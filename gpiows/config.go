package gpiows

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a config or Options field is left zero.
const (
	defaultBufferCap        = 1000
	defaultConnectTimeout   = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReconnectTries   = 10
	defaultReconnectBase    = 200 * time.Millisecond
	defaultReconnectCeiling = 10 * time.Second
	defaultBackoffFactor    = 2.0
)

// Duration is a time.Duration that parses from Go duration strings ("500ms",
// "5s") or raw nanosecond integers in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, parseErr)
		}
		*d = Duration(parsed)
		return nil
	}

	var nanos int64
	if err := value.Decode(&nanos); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	*d = Duration(nanos)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ClientConfig is the YAML-loadable configuration for a client instance.
type ClientConfig struct {
	URL            string   `yaml:"url"`
	BufferCap      int      `yaml:"buffer_cap"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`

	// MessageTypes extends the accepted type discriminators beyond the
	// GpioMessage/GpioAck pair from the schema.
	MessageTypes []string `yaml:"message_types"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig configures the auto-reconnect policy.
type ReconnectConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	Strategy    string   `yaml:"strategy"` // "fixed" or "exponential"
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Factor      float64  `yaml:"factor"`
}

// LoadConfig reads a YAML config file and expands ${VAR} environment
// variables before parsing.
func LoadConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg ClientConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithDefaults loads config and applies default values.
func LoadConfigWithDefaults(path string) (*ClientConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidateConfig loads config, applies defaults, and validates.
func LoadAndValidateConfig(path string) (*ClientConfig, error) {
	cfg, err := LoadConfigWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *ClientConfig) applyDefaults() {
	if cfg.BufferCap == 0 {
		cfg.BufferCap = defaultBufferCap
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = Duration(defaultConnectTimeout)
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if cfg.Reconnect.Strategy == "" {
		cfg.Reconnect.Strategy = "exponential"
	}
	if cfg.Reconnect.MaxAttempts == 0 && cfg.Reconnect.Timeout == 0 {
		cfg.Reconnect.MaxAttempts = defaultReconnectTries
	}
	if cfg.Reconnect.BaseDelay == 0 {
		cfg.Reconnect.BaseDelay = Duration(defaultReconnectBase)
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = Duration(defaultReconnectCeiling)
	}
	if cfg.Reconnect.Factor == 0 {
		cfg.Reconnect.Factor = defaultBackoffFactor
	}
}

// Validate checks the configuration for values the client cannot run with.
func (cfg *ClientConfig) Validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("url is required")
	}
	if _, err := ParseEndpoint(cfg.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if cfg.BufferCap < 0 {
		return fmt.Errorf("buffer_cap must not be negative")
	}
	switch cfg.Reconnect.Strategy {
	case "", "fixed", "exponential":
	default:
		return fmt.Errorf("reconnect.strategy must be fixed or exponential, got %q", cfg.Reconnect.Strategy)
	}
	return nil
}

// Policy builds the ReconnectPolicy described by the config.
func (cfg *ClientConfig) Policy() ReconnectPolicy {
	policy := ReconnectPolicy{
		Enabled:     cfg.Reconnect.Enabled,
		Timeout:     cfg.Reconnect.Timeout.Std(),
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	switch cfg.Reconnect.Strategy {
	case "fixed":
		policy.Strategy = NewFixedDelayStrategy(cfg.Reconnect.BaseDelay.Std())
	default:
		policy.Strategy = NewExponentialDelayStrategy(cfg.Reconnect.BaseDelay.Std(), cfg.Reconnect.MaxDelay.Std(), cfg.Reconnect.Factor)
	}
	return policy
}
