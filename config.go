package process

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deepnoodle-ai/process/retry"
)

const (
	DefaultStepTimeout    = 30 * time.Second
	DefaultProcessTimeout = 5 * time.Minute
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the engine's configuration source: the remote workflow base URL,
// default timeouts, and the default retry policy parameters.
type Config struct {
	RemoteBaseURL   string   `yaml:"remote_base_url"`
	RemoteAuthToken string   `yaml:"remote_auth_token,omitempty"`
	StepTimeout     Duration `yaml:"step_timeout,omitempty"`
	ProcessTimeout  Duration `yaml:"process_timeout,omitempty"`
	TraceDirectory  string   `yaml:"trace_directory,omitempty"`
	Retry           struct {
		MaxAttempts int      `yaml:"max_attempts,omitempty"`
		BaseDelay   Duration `yaml:"base_delay,omitempty"`
		MaxDelay    Duration `yaml:"max_delay,omitempty"`
	} `yaml:"retry,omitempty"`
}

// ApplyDefaults fills zero values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.StepTimeout <= 0 {
		c.StepTimeout = Duration(DefaultStepTimeout)
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = Duration(DefaultProcessTimeout)
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = Duration(retry.DefaultBaseDelay)
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = Duration(retry.DefaultMaxDelay)
	}
}

// RetryPolicy returns the configured default retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay.Std(),
		MaxDelay:    c.Retry.MaxDelay.Std(),
	}.Normalize()
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfigFile loads a Config from a YAML file
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfigString(string(data))
}

// LoadConfigString loads a Config from a YAML string
func LoadConfigString(data string) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
