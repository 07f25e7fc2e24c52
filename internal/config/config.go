// Package config provides configuration loading and management for
// changeops, the same shape as the teacher's config/config.go: a
// DefaultConfig, Validate, LoadFromFile/SaveToFile, and a layered Merge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/changeops/internal/tenantctx"
)

// Config is the complete changeops configuration.
type Config struct {
	Tenant       TenantConfig       `yaml:"tenant"`
	Store        StoreConfig        `yaml:"store"`
	LLM          LLMConfig          `yaml:"llm"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics endpoint exported by
// internal/telemetry.
type MetricsConfig struct {
	// Enabled controls whether App.Start brings up the metrics listener.
	Enabled bool `yaml:"enabled"`
	// ListenAddress is the host:port the metrics HTTP server binds to.
	ListenAddress string `yaml:"listenAddress"`
	// Path is the HTTP path the OpenMetrics exposition is served on.
	Path string `yaml:"path"`
}

// TenantConfig names the default tenant used by local/dev CLI runs that
// don't resolve one from an inbound request header.
type TenantConfig struct {
	// DefaultID is used when no tenant is supplied on the command line.
	DefaultID string `yaml:"defaultId"`
}

// StoreConfig configures the NATS-backed store.
type StoreConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url"`
	// Embedded indicates whether to use an embedded NATS server.
	Embedded bool `yaml:"embedded"`
	// BucketPrefix namespaces the JetStream KV buckets this process owns,
	// so multiple changeops deployments can share one NATS cluster.
	BucketPrefix string `yaml:"bucketPrefix"`
}

// LLMConfig configures the draft-generation producer.
type LLMConfig struct {
	// Provider names the default producer ("openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`
	// Model is the default model name for CapabilityDraftGeneration.
	Model string `yaml:"model"`
	// Endpoint is the provider API base URL.
	Endpoint string `yaml:"endpoint"`
	// Temperature controls sampling randomness (0.0-1.0).
	Temperature float64 `yaml:"temperature"`
	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout"`
	// RetryMaxAttempts, RetryBackoffBase, RetryBackoffMultiplier, and
	// RetryMaxBackoff mirror internal/llmgen.RetryConfig so it can be
	// loaded straight from file instead of always taking the built-in
	// default.
	RetryMaxAttempts       int           `yaml:"retryMaxAttempts"`
	RetryBackoffBase       time.Duration `yaml:"retryBackoffBase"`
	RetryBackoffMultiplier float64       `yaml:"retryBackoffMultiplier"`
	RetryMaxBackoff        time.Duration `yaml:"retryMaxBackoff"`
}

// DispatcherConfig configures the C8 intent dispatcher and its schedule
// poller.
type DispatcherConfig struct {
	// Concurrency is the dispatcher's bounded worker-pool width (W).
	Concurrency int `yaml:"concurrency"`
	// SchedulePollInterval is how often cron-triggered workflows are
	// checked for intents to enqueue.
	SchedulePollInterval time.Duration `yaml:"schedulePollInterval"`
	// RecoveryHorizon is how long a pending intent can sit unclaimed
	// before RecoverStalePending treats it as abandoned by a crashed
	// dispatcher.
	RecoveryHorizon time.Duration `yaml:"recoveryHorizon"`
}

// CapabilitiesConfig lists which capability profiles are enabled and
// what capability tokens each expands to. A profile named here replaces
// (not merges with) any built-in definition of the same name.
type CapabilitiesConfig struct {
	// Profiles maps a profile name to its granted capability tokens.
	// Unset means the built-in defaults in internal/tenantctx apply.
	Profiles map[string][]string `yaml:"profiles"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Tenant: TenantConfig{
			DefaultID: "",
		},
		Store: StoreConfig{
			URL:          "",
			Embedded:     true,
			BucketPrefix: "changeops",
		},
		LLM: LLMConfig{
			Provider:               "openai",
			Model:                  "gpt-4o-mini",
			Endpoint:               "https://api.openai.com/v1",
			Temperature:            0.2,
			Timeout:                2 * time.Minute,
			RetryMaxAttempts:       3,
			RetryBackoffBase:       2 * time.Second,
			RetryBackoffMultiplier: 2.0,
			RetryMaxBackoff:        30 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			Concurrency:          4,
			SchedulePollInterval: 30 * time.Second,
			RecoveryHorizon:      5 * time.Minute,
		},
		Capabilities: CapabilitiesConfig{
			Profiles: nil, // built-in defaults
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
	}
}

// Validate checks that the configuration is structurally usable.
func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("dispatcher.concurrency must be positive")
	}
	for name, tokens := range c.Capabilities.Profiles {
		for _, tok := range tokens {
			if !tenantctx.Token(tok).IsValid() {
				return fmt.Errorf("capabilities.profiles[%s]: unknown capability token %q", name, tok)
			}
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, starting from
// DefaultConfig so an unset field keeps its default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge overlays other onto c, with other's non-zero fields taking
// precedence — the same semantics as the teacher's Config.Merge, used
// to layer a reloaded capability-profile file onto the running config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Tenant.DefaultID != "" {
		c.Tenant.DefaultID = other.Tenant.DefaultID
	}

	if other.Store.URL != "" {
		c.Store.URL = other.Store.URL
		c.Store.Embedded = false
	}
	if other.Store.BucketPrefix != "" {
		c.Store.BucketPrefix = other.Store.BucketPrefix
	}

	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.RetryMaxAttempts != 0 {
		c.LLM.RetryMaxAttempts = other.LLM.RetryMaxAttempts
	}
	if other.LLM.RetryBackoffBase != 0 {
		c.LLM.RetryBackoffBase = other.LLM.RetryBackoffBase
	}
	if other.LLM.RetryBackoffMultiplier != 0 {
		c.LLM.RetryBackoffMultiplier = other.LLM.RetryBackoffMultiplier
	}
	if other.LLM.RetryMaxBackoff != 0 {
		c.LLM.RetryMaxBackoff = other.LLM.RetryMaxBackoff
	}

	if other.Dispatcher.Concurrency != 0 {
		c.Dispatcher.Concurrency = other.Dispatcher.Concurrency
	}
	if other.Dispatcher.SchedulePollInterval != 0 {
		c.Dispatcher.SchedulePollInterval = other.Dispatcher.SchedulePollInterval
	}
	if other.Dispatcher.RecoveryHorizon != 0 {
		c.Dispatcher.RecoveryHorizon = other.Dispatcher.RecoveryHorizon
	}

	if len(other.Capabilities.Profiles) > 0 {
		c.Capabilities.Profiles = other.Capabilities.Profiles
	}

	if other.Metrics.ListenAddress != "" {
		c.Metrics.ListenAddress = other.Metrics.ListenAddress
	}
	if other.Metrics.Path != "" {
		c.Metrics.Path = other.Metrics.Path
	}
}

// ApplyCapabilities installs c's capability-profile overrides into
// internal/tenantctx, replacing whatever was previously registered
// (including the package's built-in defaults) if the config names any
// profiles at all. Called once at startup and again on every hot reload.
func (c *Config) ApplyCapabilities() {
	if len(c.Capabilities.Profiles) == 0 {
		return
	}
	next := make(map[tenantctx.ProfileName][]tenantctx.Token, len(c.Capabilities.Profiles))
	for name, tokens := range c.Capabilities.Profiles {
		toks := make([]tenantctx.Token, len(tokens))
		for i, t := range tokens {
			toks[i] = tenantctx.Token(t)
		}
		next[tenantctx.ProfileName(name)] = toks
	}
	tenantctx.ReplaceProfiles(next)
}
