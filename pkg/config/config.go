// Package config loads and validates the Periscope client configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	perrors "github.com/periscope-dev/periscope/pkg/errors"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBackendURL = "http://localhost:8000"

	// DefaultReconnectSeconds is the fixed delay between stream
	// reconnection attempts. There is no backoff and no retry cap: the
	// stream retries at this cadence until the session ends.
	DefaultReconnectSeconds = 2

	// DefaultPollSeconds is the refresh cadence of the polling viewer.
	DefaultPollSeconds = 1

	DefaultDialTimeoutSeconds    = 15
	DefaultRequestTimeoutSeconds = 120
	DefaultPreviewBind           = "127.0.0.1:8090"
	DefaultStartMode             = "stream"
	DefaultStreamReadLimitBytes  = 32 << 20
)

// Config represents the complete Periscope configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Stream  StreamConfig  `yaml:"stream"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Preview PreviewConfig `yaml:"preview"`
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig points the client at the browser-automation backend.
type BackendConfig struct {
	// BaseURL is the backend HTTP root, e.g. http://localhost:8000
	BaseURL string `yaml:"base_url"`

	// StreamURL optionally overrides the derived ws://<host>/ws/browser
	// endpoint for the visual frame stream.
	StreamURL string `yaml:"stream_url"`

	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// StreamConfig tunes the live frame stream connection.
type StreamConfig struct {
	ReconnectSeconds   int   `yaml:"reconnect_seconds"`
	DialTimeoutSeconds int   `yaml:"dial_timeout_seconds"`
	ReadLimitBytes     int64 `yaml:"read_limit_bytes"`
}

// ViewerConfig tunes the polling viewer and the starting view mode.
type ViewerConfig struct {
	PollSeconds int `yaml:"poll_seconds"`

	// StartMode is "stream" or "poll".
	StartMode string `yaml:"start_mode"`
}

// PreviewConfig controls the optional local preview HTTP server.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
}

// LoggingConfig controls the structured session log.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:               DefaultBackendURL,
			RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
		},
		Stream: StreamConfig{
			ReconnectSeconds:   DefaultReconnectSeconds,
			DialTimeoutSeconds: DefaultDialTimeoutSeconds,
			ReadLimitBytes:     DefaultStreamReadLimitBytes,
		},
		Viewer: ViewerConfig{
			PollSeconds: DefaultPollSeconds,
			StartMode:   DefaultStartMode,
		},
		Preview: PreviewConfig{
			Enabled: true,
			Bind:    DefaultPreviewBind,
		},
		Logging: LoggingConfig{
			Dir:   defaultLogDir(),
			Level: "info",
		},
	}
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "periscope", "logs")
	}
	return filepath.Join(home, ".periscope", "logs")
}

// Load reads configuration from path (optional), applies environment
// overrides, validates, and returns the result. A missing file is not
// an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, perrors.Wrap(err, perrors.ErrCodeConfigLoad, "failed to read config file").
					WithContext("path", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, perrors.Wrap(err, perrors.ErrCodeConfigParse, "failed to parse config file").
				WithContext("path", path)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets PERISCOPE_* environment variables win over the
// file for the handful of settings people change per invocation.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PERISCOPE_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("PERISCOPE_STREAM_URL"); v != "" {
		c.Backend.StreamURL = v
	}
	if v := os.Getenv("PERISCOPE_PREVIEW_BIND"); v != "" {
		c.Preview.Bind = v
	}
	if v := os.Getenv("PERISCOPE_PREVIEW_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Preview.Enabled = b
		}
	}
	if v := os.Getenv("PERISCOPE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PERISCOPE_START_MODE"); v != "" {
		c.Viewer.StartMode = v
	}
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return perrors.New(perrors.ErrCodeConfigInvalid, "backend.base_url must be an absolute http(s) URL").
			WithContext("base_url", c.Backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return perrors.New(perrors.ErrCodeConfigInvalid, "backend.base_url scheme must be http or https").
			WithContext("scheme", u.Scheme)
	}
	if c.Backend.StreamURL != "" {
		su, err := url.Parse(c.Backend.StreamURL)
		if err != nil || (su.Scheme != "ws" && su.Scheme != "wss") {
			return perrors.New(perrors.ErrCodeConfigInvalid, "backend.stream_url must be a ws(s) URL").
				WithContext("stream_url", c.Backend.StreamURL)
		}
	}
	if c.Stream.ReconnectSeconds <= 0 {
		return perrors.New(perrors.ErrCodeConfigInvalid, "stream.reconnect_seconds must be positive")
	}
	if c.Viewer.PollSeconds <= 0 {
		return perrors.New(perrors.ErrCodeConfigInvalid, "viewer.poll_seconds must be positive")
	}
	switch c.Viewer.StartMode {
	case "stream", "poll":
	default:
		return perrors.New(perrors.ErrCodeConfigInvalid, "viewer.start_mode must be \"stream\" or \"poll\"").
			WithContext("start_mode", c.Viewer.StartMode)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return perrors.New(perrors.ErrCodeConfigInvalid, "logging.level must be one of debug, info, warn, error").
			WithContext("level", c.Logging.Level)
	}
	return nil
}

// RequestTimeout returns the backend HTTP request timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Backend.RequestTimeoutSeconds <= 0 {
		return time.Duration(DefaultRequestTimeoutSeconds) * time.Second
	}
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// ReconnectDelay returns the fixed stream reconnection delay.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectSeconds) * time.Second
}

// DialTimeout returns the stream dial timeout.
func (c *Config) DialTimeout() time.Duration {
	if c.Stream.DialTimeoutSeconds <= 0 {
		return time.Duration(DefaultDialTimeoutSeconds) * time.Second
	}
	return time.Duration(c.Stream.DialTimeoutSeconds) * time.Second
}

// PollInterval returns the polling viewer refresh interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Viewer.PollSeconds) * time.Second
}

// String renders the effective configuration for debugging.
func (c *Config) String() string {
	return fmt.Sprintf("backend=%s stream=%s mode=%s poll=%ds reconnect=%ds preview=%v",
		c.Backend.BaseURL, c.Backend.StreamURL, c.Viewer.StartMode,
		c.Viewer.PollSeconds, c.Stream.ReconnectSeconds, c.Preview.Enabled)
}
