// Package config provides configuration structures and loading logic for the
// ad-rewrite proxy and its rule files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/telemetry"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds the global configuration for the proxy.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Rules     RulesConfig     `yaml:"rules"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Policy    PolicyConfig    `yaml:"policy"`
	Capture   CaptureConfig   `yaml:"capture"`
}

// ServerConfig holds configuration for the proxy and admin listeners.
type ServerConfig struct {
	ProxyAddress string `yaml:"proxy_address"`
	AdminAddress string `yaml:"admin_address"`
	// MITMHosts are host suffixes whose TLS traffic is intercepted. Empty
	// intercepts every CONNECT.
	MITMHosts []string `yaml:"mitm_hosts"`
	// CACertFile and CAKeyFile replace the built-in goproxy CA when both are set.
	CACertFile string `yaml:"ca_cert_file"`
	CAKeyFile  string `yaml:"ca_key_file"`
	// MaxBodyBytes bounds the response bodies buffered for rewriting.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	// Redactions apply to rewrite span attributes before export.
	Redactions []telemetry.Redaction `yaml:"redactions"`
}

// RulesConfig selects the rule set.
type RulesConfig struct {
	File           string `yaml:"file"`
	Watch          bool   `yaml:"watch"`
	IncludeBuiltin bool   `yaml:"include_builtin"`
}

// StoreConfig selects where the stats blob is persisted.
type StoreConfig struct {
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
	StatsKey string `yaml:"stats_key"`
}

// NotifyConfig controls user notices.
type NotifyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
	QueueSize  int           `yaml:"queue_size"`
	// RatePerSecond throttles notices sharing a title. Zero disables it.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// BreakerFailures consecutive delivery failures pause a notifier for
	// BreakerCooldown.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// PolicyConfig points at an optional Rego bypass module.
type PolicyConfig struct {
	File       string `yaml:"file"`
	Entrypoint string `yaml:"entrypoint"`
	// BypassHosts are never rewritten, subdomains included.
	BypassHosts []string `yaml:"bypass_hosts"`
}

// CaptureConfig controls the passive classification of requests.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled"`
	Notices bool `yaml:"notices"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ProxyAddress: ":8888",
			AdminAddress: ":19090",
			MaxBodyBytes: 8 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Rules: RulesConfig{
			IncludeBuiltin: true,
		},
		Store: StoreConfig{
			Kind:     StoreMemory,
			Prefix:   "adblock:",
			StatsKey: "adblock_stats",
		},
		Notify: NotifyConfig{
			Enabled:   true,
			Timeout:         5 * time.Second,
			QueueSize:       64,
			RatePerSecond:   0.2,
			Burst:           3,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		Policy: PolicyConfig{
			Entrypoint: "adblock/decision",
		},
		Capture: CaptureConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("ADBLOCK_PROXY_ADDR"); val != "" {
		cfg.Server.ProxyAddress = val
	}
	if val := os.Getenv("ADBLOCK_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("ADBLOCK_MITM_HOSTS"); val != "" {
		cfg.Server.MITMHosts = splitList(val)
	}

	if val := os.Getenv("ADBLOCK_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("ADBLOCK_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("ADBLOCK_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("ADBLOCK_RULES_FILE"); val != "" {
		cfg.Rules.File = val
	}
	if val := os.Getenv("ADBLOCK_RULES_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Rules.Watch = b
		}
	}

	if val := os.Getenv("ADBLOCK_STORE_KIND"); val != "" {
		cfg.Store.Kind = val
	}
	if val := os.Getenv("ADBLOCK_STORE_PATH"); val != "" {
		cfg.Store.Path = val
	}
	if val := os.Getenv("ADBLOCK_REDIS_ADDR"); val != "" {
		cfg.Store.RedisURL = val
	}

	if val := os.Getenv("ADBLOCK_NOTIFY_WEBHOOK"); val != "" {
		cfg.Notify.WebhookURL = val
	}

	if val := os.Getenv("ADBLOCK_POLICY_FILE"); val != "" {
		cfg.Policy.File = val
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("%w: store configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("%w: notify configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("%w: rules configuration: %w", domain.ErrConfigInvalid, err)
	}
	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ProxyAddress) == "" {
		c.ProxyAddress = ":8888"
	}
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = ":19090"
	}
	if c.ProxyAddress == c.AdminAddress {
		return fmt.Errorf("proxy_address and admin_address both use %q", c.ProxyAddress)
	}
	if (c.CACertFile == "") != (c.CAKeyFile == "") {
		return fmt.Errorf("ca_cert_file and ca_key_file must be set together")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative")
	}
	for i, host := range c.MITMHosts {
		c.MITMHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate checks the redaction rules.
func (c *TelemetryConfig) Validate() error {
	for _, r := range c.Redactions {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate performs validation of store configuration
func (c *StoreConfig) Validate() error {
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if c.Kind == "" {
		c.Kind = StoreMemory
	}
	if strings.TrimSpace(c.StatsKey) == "" {
		c.StatsKey = "adblock_stats"
	}

	switch c.Kind {
	case StoreMemory:
		return nil
	case StoreFile:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("file store requires a path")
		}
		return nil
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("redis store requires redis_url")
		}
		return nil
	default:
		return fmt.Errorf("unsupported store kind %q, supported kinds: memory, file, redis", c.Kind)
	}
}

// Validate performs validation of notify configuration
func (c *NotifyConfig) Validate() error {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second must not be negative")
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	if c.WebhookURL == "" {
		return nil
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil {
		return fmt.Errorf("webhook_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook_url must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Validate performs validation of rules configuration
func (c *RulesConfig) Validate() error {
	if c.Watch && c.File == "" {
		return fmt.Errorf("watch requires a rules file")
	}
	if c.File == "" && !c.IncludeBuiltin {
		return fmt.Errorf("no rules: set a rules file or include_builtin")
	}
	return nil
}
