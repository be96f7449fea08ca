// Package config provides configuration loading and management for
// missionspend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use strings like
// "30s" or "168h". Plain integers are accepted as nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or an integer.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("invalid duration value %q", value.Value)
}

// Config represents the complete missionspend configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Missions MissionsConfig `yaml:"missions"`
	Output   OutputConfig   `yaml:"output"`
	Batch    BatchConfig    `yaml:"batch"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// APIConfig configures the spending API client.
type APIConfig struct {
	// BaseURL is the API root (default: the public USAspending endpoint).
	BaseURL string `yaml:"base_url"`
	// RequestsPerSecond is the shared rate budget across all workers.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the rate limiter's token-bucket capacity.
	Burst int `yaml:"burst"`
	// MaxAttempts bounds retries of transient upstream failures.
	MaxAttempts int `yaml:"max_attempts"`
	// Timeout applies per HTTP request.
	Timeout Duration `yaml:"timeout"`
	// PageSize is the records requested per page.
	PageSize int `yaml:"page_size"`
	// MaxRecords caps records per award query; zero means unlimited.
	MaxRecords int `yaml:"max_records"`
}

// CacheConfig configures the computation cache.
type CacheConfig struct {
	// Dir is the cache entry directory.
	Dir string `yaml:"dir"`
	// TTL is how long entries stay fresh; expired entries recompute
	// silently. Zero disables expiry.
	TTL Duration `yaml:"ttl"`
}

// MissionsConfig configures the mission registry.
type MissionsConfig struct {
	// Dir is the registry root holding mission YAML files.
	Dir string `yaml:"dir"`
	// Pattern is the doublestar glob for mission files.
	Pattern string `yaml:"pattern"`
	// DebounceDelay is how long the watcher waits for more changes
	// before recomputing, in watch mode.
	DebounceDelay Duration `yaml:"debounce_delay"`
}

// OutputConfig configures artifact publication.
type OutputConfig struct {
	// Dir receives JSON artifacts and CSV exports.
	Dir string `yaml:"dir"`
}

// BatchConfig configures orchestrator parallelism.
type BatchConfig struct {
	// Workers is the number of missions processed concurrently.
	Workers int `yaml:"workers"`
	// AwardFanOut is the concurrent award fetches within one mission.
	AwardFanOut int `yaml:"award_fan_out"`
}

// NATSConfig configures optional status eventing.
type NATSConfig struct {
	// URL is the NATS server URL (empty = eventing disabled).
	URL string `yaml:"url"`
	// SubjectPrefix roots the status subject hierarchy.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint in watch mode.
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled).
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://api.usaspending.gov",
			RequestsPerSecond: 4,
			Burst:             8,
			MaxAttempts:       5,
			Timeout:           Duration(30 * time.Second),
			PageSize:          100,
			MaxRecords:        0,
		},
		Cache: CacheConfig{
			Dir: "data/cache",
			TTL: Duration(7 * 24 * time.Hour),
		},
		Missions: MissionsConfig{
			Dir:           "data/missions",
			Pattern:       "**/*.{yaml,yml}",
			DebounceDelay: Duration(500 * time.Millisecond),
		},
		Output: OutputConfig{
			Dir: "data/outlays",
		},
		Batch: BatchConfig{
			Workers:     3,
			AwardFanOut: 4,
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "missionspend",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.requests_per_second must be positive")
	}
	if c.API.MaxAttempts <= 0 {
		return fmt.Errorf("api.max_attempts must be positive")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}
	if c.Batch.AwardFanOut <= 0 {
		return fmt.Errorf("batch.award_fan_out must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.API.BaseURL != "" {
		c.API.BaseURL = other.API.BaseURL
	}
	if other.API.RequestsPerSecond != 0 {
		c.API.RequestsPerSecond = other.API.RequestsPerSecond
	}
	if other.API.Burst != 0 {
		c.API.Burst = other.API.Burst
	}
	if other.API.MaxAttempts != 0 {
		c.API.MaxAttempts = other.API.MaxAttempts
	}
	if other.API.Timeout != 0 {
		c.API.Timeout = other.API.Timeout
	}
	if other.API.PageSize != 0 {
		c.API.PageSize = other.API.PageSize
	}
	if other.API.MaxRecords != 0 {
		c.API.MaxRecords = other.API.MaxRecords
	}

	if other.Cache.Dir != "" {
		c.Cache.Dir = other.Cache.Dir
	}
	if other.Cache.TTL != 0 {
		c.Cache.TTL = other.Cache.TTL
	}

	if other.Missions.Dir != "" {
		c.Missions.Dir = other.Missions.Dir
	}
	if other.Missions.Pattern != "" {
		c.Missions.Pattern = other.Missions.Pattern
	}
	if other.Missions.DebounceDelay != 0 {
		c.Missions.DebounceDelay = other.Missions.DebounceDelay
	}

	if other.Output.Dir != "" {
		c.Output.Dir = other.Output.Dir
	}

	if other.Batch.Workers != 0 {
		c.Batch.Workers = other.Batch.Workers
	}
	if other.Batch.AwardFanOut != 0 {
		c.Batch.AwardFanOut = other.Batch.AwardFanOut
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
