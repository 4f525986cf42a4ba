// Package config loads the YAML configuration of the docqa stream client.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults
const (
	DefaultBaseURL        = "http://localhost:8080/api/v1"
	DefaultStreamPath     = "/chat/stream"
	DefaultTimeout        = 30 * time.Second
	DefaultUserAgent      = "docqa-stream/1.0"
	DefaultReadBufferSize = 4096
	DefaultLogLevel       = "info"
)

// Config is the complete client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://qa.example.com/api/v1".
	BaseURL string `yaml:"base_url"`

	// StreamPath is joined to BaseURL to form the chat stream endpoint.
	StreamPath string `yaml:"stream_path"`

	// Timeout bounds connection setup and the wait for response headers.
	// It never bounds the lifetime of an open stream.
	Timeout time.Duration `yaml:"timeout"`

	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	// ReadBufferSize is the size of each network read.
	ReadBufferSize int `yaml:"read_buffer_size"`

	Log LogConfig `yaml:"log,omitempty"`
}

// RateLimitConfig limits how quickly new stream requests are issued.
// A zero RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and parses a YAML configuration file, applies defaults and
// validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates
// the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.StreamPath == "" {
		c.StreamPath = DefaultStreamPath
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks the configuration for values the client cannot use.
func (c *Config) Validate() error {
	var problems []string

	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("base_url %q must be an absolute URL", c.BaseURL))
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		problems = append(problems, fmt.Sprintf("stream_path %q must start with /", c.StreamPath))
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout cannot be negative")
	}
	if c.ReadBufferSize < 0 {
		problems = append(problems, "read_buffer_size cannot be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		problems = append(problems, "rate_limit.requests_per_second cannot be negative")
	}
	if c.RateLimit.Burst < 0 {
		problems = append(problems, "rate_limit.burst cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// StreamURL returns the absolute URL of the chat stream endpoint.
func (c *Config) StreamURL() (string, error) {
	return url.JoinPath(c.BaseURL, c.StreamPath)
}
