// Package config handles loading, validating, and defaulting the agent's
// local configuration file. This is the operator-controlled side of the
// configuration split: the API URL, token location, logging, and local
// endpoints live here, while collector behavior arrives from the API and is
// sanitized by the remoteconfig package.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen    = "127.0.0.1:9465"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// Environment variables that override file values, so containerized
// deployments can run without editing the YAML.
const (
	EnvAPIURL    = "NODEWARDEN_API_URL"
	EnvTokenFile = "NODEWARDEN_TOKEN_FILE"
)

// Config is the top-level agent configuration.
type Config struct {
	APIURL     string        `yaml:"api_url"`
	TokenFile  string        `yaml:"token_file"`
	Listen     string        `yaml:"listen"` // self-metrics endpoint, loopback expected
	QueueDepth int           `yaml:"queue_depth"`
	Logging    LoggingConfig `yaml:"logging"`
	Emit       EmitConfig    `yaml:"emit"`
}

// LoggingConfig controls the structured audit log.
type LoggingConfig struct {
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, file, both
	File   string `yaml:"file"`
	Level  string `yaml:"level"` // debug, info, warn, error
}

// EmitConfig configures security-event fan-out to external sinks. These
// carry operational events (token rotations, collectors disabled by
// sanitization, capability changes), never metric payloads.
type EmitConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Syslog  SyslogConfig  `yaml:"syslog"`
}

// WebhookConfig configures the HTTP event sink.
type WebhookConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SyslogConfig configures the local syslog event sink.
type SyslogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tag     string `yaml:"tag"`
}

// Load reads and validates the config file at path. A missing file is an
// error; use Defaults for a fresh install.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	cfg.applyEnvOverrides()

	// Resolve relative token_file path relative to config file directory.
	if cfg.TokenFile != "" && !filepath.IsAbs(cfg.TokenFile) {
		cfg.TokenFile = filepath.Join(filepath.Dir(path), cfg.TokenFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.APIURL == "" {
		c.APIURL = "https://api.fivenines.io"
	}
	if c.TokenFile == "" {
		c.TokenFile = "/etc/nodewarden/token"
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 100
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Emit.Webhook.TimeoutSeconds <= 0 {
		c.Emit.Webhook.TimeoutSeconds = 5
	}
	if c.Emit.Syslog.Tag == "" {
		c.Emit.Syslog.Tag = "nodewarden"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvTokenFile); v != "" {
		c.TokenFile = v
	}
}

// Validate checks the config for errors that must stop startup.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url %q: %w", c.APIURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("invalid api_url %q: scheme must be http or https", c.APIURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid api_url %q: missing host", c.APIURL)
	}

	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stdout, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	if c.Emit.Webhook.Enabled {
		wu, err := url.Parse(c.Emit.Webhook.URL)
		if err != nil || (wu.Scheme != "http" && wu.Scheme != "https") || wu.Host == "" {
			return fmt.Errorf("invalid webhook url %q", c.Emit.Webhook.URL)
		}
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	// Warn if listen address is not loopback (exposed to network).
	if host, _, err := net.SplitHostPort(c.Listen); err == nil {
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			fmt.Fprintf(os.Stderr, "WARNING: listen address %s is not loopback - /metrics and /stats will be exposed to the network\n", c.Listen)
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			fmt.Fprintf(os.Stderr, "WARNING: listen address %s binds to all interfaces - consider using 127.0.0.1 for local-only access\n", c.Listen)
		}
	}

	return nil
}

// WebhookTimeout returns the webhook timeout as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Emit.Webhook.TimeoutSeconds) * time.Second
}

// Defaults returns the configuration used when no config file exists.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}
