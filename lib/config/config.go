// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for deployed devices.
	Production Environment = "production"
)

// Sampling sources.
const (
	SourceGPSD  = "gpsd"
	SourceFixed = "fixed"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses "15s", "1h30m" and so on.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"15s\": %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for beacon-agent.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// ServerRoot is the base URL of the telemetry server, for
	// example https://track.example.com. Endpoint paths are appended.
	ServerRoot string `yaml:"server_root"`

	Paths       PathsConfig       `yaml:"paths"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Control     ControlConfig     `yaml:"control"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment. Zero values leave the base value alone.
type ConfigOverrides struct {
	ServerRoot string          `yaml:"server_root,omitempty"`
	Paths      *PathsConfig    `yaml:"paths,omitempty"`
	Delivery   *DeliveryConfig `yaml:"delivery,omitempty"`
	Sampling   *SamplingConfig `yaml:"sampling,omitempty"`
	Control    *ControlConfig  `yaml:"control,omitempty"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// StateDir holds the queue database, the persisted agent state,
	// the encrypted credentials and the instance lock.
	StateDir string `yaml:"state_dir"`
}

// DeliveryConfig configures the queue and the delivery workers.
type DeliveryConfig struct {
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts"`

	// Jitter is a fraction in [0, 1) of each retry delay added at
	// random. Default 0.
	Jitter float64 `yaml:"jitter"`

	// MaxQueueDepth bounds the number of Pending jobs; the oldest is
	// evicted when it is reached. 0 means unbounded.
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// AuditRetain is how many abandoned/evicted records are kept.
	AuditRetain int `yaml:"audit_retain"`

	SendTimeout  Duration `yaml:"send_timeout"`
	PollInterval Duration `yaml:"poll_interval"`
	Workers      int      `yaml:"workers"`
}

// SamplingConfig configures the location source.
type SamplingConfig struct {
	// Source is "gpsd" or "fixed".
	Source string `yaml:"source"`

	MinInterval    Duration `yaml:"min_interval"`
	TargetInterval Duration `yaml:"target_interval"`

	// GPSDAddr is gpsd's host:port.
	GPSDAddr string `yaml:"gpsd_addr"`

	// FixedLat and FixedLng are reported by the fixed source.
	FixedLat float64 `yaml:"fixed_lat"`
	FixedLng float64 `yaml:"fixed_lng"`
}

// CredentialsConfig configures credential upkeep.
type CredentialsConfig struct {
	// RevalidateSchedule is a cron expression or descriptor
	// ("@every 6h"). Empty disables revalidation.
	RevalidateSchedule string `yaml:"revalidate_schedule"`
}

// ControlConfig configures the loopback control API.
type ControlConfig struct {
	// Listen is the host:port the API binds.
	Listen string `yaml:"listen"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// ServerRoot has no default: the config file must name the server.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			StateDir: filepath.Join(homeDir, ".local", "state", "beacon"),
		},
		Delivery: DeliveryConfig{
			BaseDelay:     Duration(15 * time.Second),
			MaxDelay:      Duration(time.Hour),
			MaxAttempts:   10,
			MaxQueueDepth: 10000,
			AuditRetain:   1000,
			SendTimeout:   Duration(20 * time.Second),
			PollInterval:  Duration(30 * time.Second),
			Workers:       1,
		},
		Sampling: SamplingConfig{
			Source:         SourceGPSD,
			MinInterval:    Duration(30 * time.Second),
			TargetInterval: Duration(time.Minute),
			GPSDAddr:       "localhost:2947",
		},
		Credentials: CredentialsConfig{
			RevalidateSchedule: "@every 6h",
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:7411",
		},
	}
}

// Load loads configuration from the BEACON_CONFIG environment variable.
func Load() (*Config, error) {
	configPath := os.Getenv("BEACON_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BEACON_CONFIG environment variable not set; " +
			"set it to the path of your beacon.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	override(&c.ServerRoot, overrides.ServerRoot)

	if overrides.Paths != nil {
		override(&c.Paths.StateDir, overrides.Paths.StateDir)
	}

	if delivery := overrides.Delivery; delivery != nil {
		override(&c.Delivery.BaseDelay, delivery.BaseDelay)
		override(&c.Delivery.MaxDelay, delivery.MaxDelay)
		override(&c.Delivery.MaxAttempts, delivery.MaxAttempts)
		override(&c.Delivery.Jitter, delivery.Jitter)
		override(&c.Delivery.MaxQueueDepth, delivery.MaxQueueDepth)
		override(&c.Delivery.AuditRetain, delivery.AuditRetain)
		override(&c.Delivery.SendTimeout, delivery.SendTimeout)
		override(&c.Delivery.PollInterval, delivery.PollInterval)
		override(&c.Delivery.Workers, delivery.Workers)
	}

	if sampling := overrides.Sampling; sampling != nil {
		override(&c.Sampling.Source, sampling.Source)
		override(&c.Sampling.MinInterval, sampling.MinInterval)
		override(&c.Sampling.TargetInterval, sampling.TargetInterval)
		override(&c.Sampling.GPSDAddr, sampling.GPSDAddr)
		override(&c.Sampling.FixedLat, sampling.FixedLat)
		override(&c.Sampling.FixedLng, sampling.FixedLng)
	}

	if overrides.Control != nil {
		override(&c.Control.Listen, overrides.Control.Listen)
	}
}

func override[T comparable](field *T, value T) {
	var zero T
	if value != zero {
		*field = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.StateDir = expandVars(c.Paths.StateDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.ServerRoot == "" {
		errs = append(errs, errors.New("server_root is required"))
	} else if parsed, err := url.Parse(c.ServerRoot); err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server_root must be an http or https URL, got %q", c.ServerRoot))
	} else if c.Environment == Production && parsed.Scheme != "https" {
		errs = append(errs, errors.New("server_root must use https in production"))
	}

	if c.Paths.StateDir == "" {
		errs = append(errs, errors.New("paths.state_dir is required"))
	}

	delivery := c.Delivery
	if delivery.BaseDelay <= 0 {
		errs = append(errs, errors.New("delivery.base_delay must be positive"))
	}
	if delivery.MaxDelay < delivery.BaseDelay {
		errs = append(errs, errors.New("delivery.max_delay must be at least delivery.base_delay"))
	}
	if delivery.MaxAttempts < 0 {
		errs = append(errs, errors.New("delivery.max_attempts must not be negative"))
	}
	if delivery.Jitter < 0 || delivery.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("delivery.jitter must be in [0, 1), got %g", delivery.Jitter))
	}
	if delivery.MaxQueueDepth < 0 {
		errs = append(errs, errors.New("delivery.max_queue_depth must not be negative"))
	}
	if delivery.SendTimeout <= 0 {
		errs = append(errs, errors.New("delivery.send_timeout must be positive"))
	}
	if delivery.PollInterval <= 0 {
		errs = append(errs, errors.New("delivery.poll_interval must be positive"))
	}
	if delivery.Workers < 1 {
		errs = append(errs, errors.New("delivery.workers must be at least 1"))
	}

	sampling := c.Sampling
	if sampling.MinInterval <= 0 {
		errs = append(errs, errors.New("sampling.min_interval must be positive"))
	}
	if sampling.TargetInterval < sampling.MinInterval {
		errs = append(errs, errors.New("sampling.target_interval must be at least sampling.min_interval"))
	}
	switch sampling.Source {
	case SourceGPSD:
		if sampling.GPSDAddr == "" {
			errs = append(errs, errors.New("sampling.gpsd_addr is required for the gpsd source"))
		}
	case SourceFixed:
		if sampling.FixedLat < -90 || sampling.FixedLat > 90 || sampling.FixedLng < -180 || sampling.FixedLng > 180 {
			errs = append(errs, errors.New("sampling.fixed_lat/fixed_lng out of range"))
		}
	default:
		errs = append(errs, fmt.Errorf("sampling.source must be %q or %q, got %q", SourceGPSD, SourceFixed, sampling.Source))
	}

	if schedule := c.Credentials.RevalidateSchedule; schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			errs = append(errs, fmt.Errorf("credentials.revalidate_schedule: %w", err))
		}
	}

	if c.Control.Listen == "" {
		errs = append(errs, errors.New("control.listen is required"))
	}

	return errors.Join(errs...)
}

// QueuePath is the SQLite queue database.
func (c *Config) QueuePath() string { return filepath.Join(c.Paths.StateDir, "queue.db") }

// StatePath is the persisted Active/Inactive record.
func (c *Config) StatePath() string { return filepath.Join(c.Paths.StateDir, "agent.state") }

// CredentialsDir holds the sealed credentials and their key.
func (c *Config) CredentialsDir() string { return filepath.Join(c.Paths.StateDir, "credentials") }

// LockPath is the single-instance lock.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.StateDir, "agent.lock") }

// EnsurePaths creates the state directory if it does not exist.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.StateDir, err)
	}
	return nil
}
