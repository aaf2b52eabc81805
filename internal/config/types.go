package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DatabaseConfig selects the task store.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"` // SQLite file; empty or ":memory:" for an in-memory store
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// ClaimConfig tunes claiming.
type ClaimConfig struct {
	TTLMinutes  int `json:"ttl_minutes" yaml:"ttl_minutes"`   // Claim lifetime
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"` // Attempts per transition on conflict
}

// SweepConfig configures the expiry sweeper.
type SweepConfig struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
}

// NotifyConfig configures webhook delivery of transition events.
type NotifyConfig struct {
	WebhookURLs      []string `json:"webhook_urls,omitempty" yaml:"webhook_urls,omitempty"`
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`
	FailureThreshold uint32   `json:"failure_threshold" yaml:"failure_threshold"` // Consecutive failures that open an endpoint's circuit
	BufferSize       int      `json:"buffer_size" yaml:"buffer_size"`             // Events queued for the forwarder
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// Config is the top-level configuration.
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Claim    ClaimConfig    `json:"claim" yaml:"claim"`
	Sweep    SweepConfig    `json:"sweep" yaml:"sweep"`
	Notify   NotifyConfig   `json:"notify" yaml:"notify"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// ClaimTTL returns the claim lifetime.
func (c *Config) ClaimTTL() time.Duration {
	return time.Duration(c.Claim.TTLMinutes) * time.Minute
}

// SweepInterval returns the time between expiry sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSeconds) * time.Second
}

// NotifyTimeout returns the per-request webhook timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSeconds) * time.Second
}

// InMemory reports whether the store should live in memory only.
func (c *Config) InMemory() bool {
	return c.Database.Path == "" || c.Database.Path == ":memory:"
}

// SlogLevel parses the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Claim.TTLMinutes <= 0 {
		return fmt.Errorf("claim.ttl_minutes must be positive, got %d", c.Claim.TTLMinutes)
	}
	if c.Claim.MaxAttempts <= 0 {
		return fmt.Errorf("claim.max_attempts must be positive, got %d", c.Claim.MaxAttempts)
	}
	if c.Sweep.IntervalSeconds <= 0 {
		return fmt.Errorf("sweep.interval_seconds must be positive, got %d", c.Sweep.IntervalSeconds)
	}
	if c.Notify.TimeoutSeconds <= 0 {
		return fmt.Errorf("notify.timeout_seconds must be positive, got %d", c.Notify.TimeoutSeconds)
	}
	for _, u := range c.Notify.WebhookURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("notify.webhook_urls: %q is not an http(s) URL", u)
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
