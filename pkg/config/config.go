// Package config provides the explicit configuration surface of the fleet
// core. Values are read once at startup from the environment (with an
// optional YAML overlay) and passed down as a Config value; nothing in the
// core reads globals from inside functions.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// RepoMode selects how completed work is gated.
type RepoMode string

const (
	// RepoModeGitHub gates completion on pull-request review.
	RepoModeGitHub RepoMode = "github"
	// RepoModeLocalGit gates completion on local branch review.
	RepoModeLocalGit RepoMode = "local-git"
	// RepoModeDirect applies work directly; the judge is a polling
	// fallback that auto-approves stuck tasks.
	RepoModeDirect RepoMode = "direct"
)

// Valid returns true if the mode is recognized.
func (m RepoMode) Valid() bool {
	switch m {
	case RepoModeGitHub, RepoModeLocalGit, RepoModeDirect:
		return true
	}
	return false
}

// JudgeGated reports whether successful runs wait for judge approval.
func (m RepoMode) JudgeGated() bool { return m != RepoModeDirect }

// Config is the full configuration surface.
type Config struct {
	// DatabaseURL is the store DSN. Required.
	DatabaseURL string `env:"DATABASE_URL" yaml:"database_url"`

	// RepoMode selects the completion gate.
	RepoMode RepoMode `env:"REPO_MODE" envDefault:"github" yaml:"repo_mode"`

	// LeaseDurationMinutes is the default lease lifetime.
	LeaseDurationMinutes int `env:"DEFAULT_LEASE_DURATION_MINUTES" envDefault:"60" yaml:"lease_duration_minutes"`

	// GraceMS is the sweeper's orphan-detection grace window.
	GraceMS int `env:"GRACE_MS" envDefault:"120000" yaml:"grace_ms"`

	// HeartbeatIntervalMS is the agent liveness tick interval.
	HeartbeatIntervalMS int `env:"HEARTBEAT_INTERVAL_MS" envDefault:"30000" yaml:"heartbeat_interval_ms"`

	// SweepIntervalMS is the recovery sweeper scan interval.
	SweepIntervalMS int `env:"SWEEP_INTERVAL_MS" envDefault:"15000" yaml:"sweep_interval_ms"`

	// SweepCron optionally gates sweeper ticks on a cron expression.
	// Empty means every tick runs.
	SweepCron string `env:"SWEEP_CRON" yaml:"sweep_cron"`

	// MaxRetries is the global retry budget. Negative means unlimited;
	// the per-category caps still apply.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"-1" yaml:"max_retries"`

	// JudgePollIntervalMS throttles the direct-mode auto-approve pass.
	JudgePollIntervalMS int `env:"JUDGE_POLL_INTERVAL_MS" envDefault:"60000" yaml:"judge_poll_interval_ms"`

	// DispatchIntervalMS is the dispatcher scan interval.
	DispatchIntervalMS int `env:"DISPATCH_INTERVAL_MS" envDefault:"2000" yaml:"dispatch_interval_ms"`

	// SweepBatchSize bounds how many stuck-in-judge tasks pass D releases
	// per sweep.
	SweepBatchSize int `env:"SWEEP_BATCH_SIZE" envDefault:"20" yaml:"sweep_batch_size"`

	// APIAddr is the HTTP listen address.
	APIAddr string `env:"API_ADDR" envDefault:":8700" yaml:"api_addr"`

	// APIKey protects the HTTP surface. Empty disables auth (dev only).
	APIKey string `env:"API_KEY" yaml:"api_key"`

	// SlackWebhookURL enables terminal-failure notifications when set.
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL" yaml:"slack_webhook_url"`
}

// Load parses the environment, applying an optional YAML overlay file first
// (environment wins). Pass an empty path to skip the overlay.
func Load(overlayPath string) (*Config, error) {
	cfg := &Config{}

	if overlayPath != "" {
		data, err := os.ReadFile(overlayPath)
		if err != nil {
			return nil, fmt.Errorf("read config overlay %s: %w", overlayPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config overlay %s: %w", overlayPath, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !c.RepoMode.Valid() {
		return fmt.Errorf("invalid REPO_MODE %q", c.RepoMode)
	}
	if c.LeaseDurationMinutes <= 0 {
		return fmt.Errorf("DEFAULT_LEASE_DURATION_MINUTES must be positive")
	}
	if c.GraceMS < 0 {
		return fmt.Errorf("GRACE_MS must be non-negative")
	}
	if c.SweepIntervalMS <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MS must be positive")
	}
	if c.HeartbeatIntervalMS <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_MS must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	return nil
}

// LeaseDuration returns the default lease lifetime as a duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationMinutes) * time.Minute
}

// Grace returns the orphan-detection grace window as a duration.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.GraceMS) * time.Millisecond
}

// SweepInterval returns the sweeper scan interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// HeartbeatInterval returns the liveness tick interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// DispatchInterval returns the dispatcher scan interval as a duration.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalMS) * time.Millisecond
}

// JudgePollInterval returns the direct-mode judge poll interval.
func (c *Config) JudgePollInterval() time.Duration {
	return time.Duration(c.JudgePollIntervalMS) * time.Millisecond
}
