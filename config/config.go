package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"
)

// SourceConfig names one bound source channel and its optional per-source
// overrides. Only Name is required; zero-value overrides fall back to the
// pipeline-wide defaults (ScalarMaxRate/ArrayMaxRate).
type SourceConfig struct {
	Name       string  `json:"name"`
	QueueLimit int     `json:"queueLimit,omitempty"` // 0 = use rate-derived default
	MaxRateHz  float64 `json:"maxRateHz,omitempty"`  // 0 = use ScalarMaxRate/ArrayMaxRate
	Array      bool    `json:"array,omitempty"`      // true selects the array-source rate class
}

// Config is the complete bsasagg configuration surface.
type Config struct {
	WorkerCount          int            `json:"workerCount"`
	ScalarMaxRate        float64        `json:"scalarMaxRate"`
	ArrayMaxRate         float64        `json:"arrayMaxRate"`
	ControllerWaitPeriod float64        `json:"controllerWaitPeriod"` // seconds
	NATSURL              string         `json:"natsURL"`
	HealthPort           int            `json:"healthPort"` // 0 disables
	MetricsPort          int            `json:"metricsPort"`
	Sources              []SourceConfig `json:"sources"`
}

// Defaults returns the configuration's documented defaults.
func Defaults() *Config {
	return &Config{
		WorkerCount:          4,
		ScalarMaxRate:        140,
		ArrayMaxRate:         1.5,
		ControllerWaitPeriod: 1.0,
		NATSURL:              "nats://127.0.0.1:4222",
		HealthPort:           8080,
		MetricsPort:          9090,
		Sources:              nil,
	}
}

// Validate checks structural and range constraints on the configuration.
func (c *Config) Validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("workerCount must be positive, got %d", c.WorkerCount)
	}
	if c.ScalarMaxRate <= 0 {
		return fmt.Errorf("scalarMaxRate must be positive, got %v", c.ScalarMaxRate)
	}
	if c.ArrayMaxRate <= 0 {
		return fmt.Errorf("arrayMaxRate must be positive, got %v", c.ArrayMaxRate)
	}
	if c.ControllerWaitPeriod <= 0 {
		return fmt.Errorf("controllerWaitPeriod must be positive, got %v", c.ControllerWaitPeriod)
	}
	if c.NATSURL == "" {
		return fmt.Errorf("natsURL is required")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("healthPort out of range: %d", c.HealthPort)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metricsPort out of range: %d", c.MetricsPort)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.QueueLimit < 0 {
			return fmt.Errorf("sources[%d].queueLimit cannot be negative", i)
		}
		if s.MaxRateHz < 0 {
			return fmt.Errorf("sources[%d].maxRateHz cannot be negative", i)
		}
	}

	return nil
}

// Clone returns a deep copy of the configuration, via JSON round-trip the
// same way the rest of the pipeline's config objects are copied.
func (c *Config) Clone() *Config {
	if c == nil {
		return Defaults()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// String returns a JSON representation of the config, useful for logging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to a Config, the same
// get-snapshot/validate-then-swap pattern used throughout bsasagg for any
// value read concurrently by worker goroutines and updated from the
// Controller's administrative path.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Defaults()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Loader loads configuration from a JSON file, applies environment
// overrides, validates against the JSON schema, and fills in defaults for
// any field the file omits.
type Loader struct {
	path       string
	envPrefix  string
	validation bool
}

// NewLoader creates a configuration loader for the given file path.
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envPrefix:  "BSASAGG",
		validation: true,
	}
}

// EnableValidation enables or disables schema + range validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load reads the config file (if any), overlays environment overrides, and
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	if l.path != "" {
		data, err := safeReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", l.path, err)
		}

		if l.validation {
			if err := validateJSONDepth(data); err != nil {
				return nil, fmt.Errorf("config depth check failed: %w", err)
			}
			if err := ValidateSchema(data); err != nil {
				return nil, fmt.Errorf("schema validation failed: %w", err)
			}
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", l.path, err)
		}
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// applyEnvOverrides applies BSASAGG_* environment variable overrides,
// consulted after the file so operators can tweak a deployed config without
// rewriting it.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(l.envPrefix + "_NATS_URL"); v != "" && validateEnvVar(l.envPrefix+"_NATS_URL", v) == nil {
		cfg.NATSURL = v
	}
	if v := os.Getenv(l.envPrefix + "_WORKER_COUNT"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.WorkerCount = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_HEALTH_PORT"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.HealthPort = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_METRICS_PORT"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.MetricsPort = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_SOURCES"); v != "" && validateEnvVar(l.envPrefix+"_SOURCES", v) == nil {
		names := strings.Split(v, ",")
		sources := make([]SourceConfig, 0, len(names))
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n != "" {
				sources = append(sources, SourceConfig{Name: n})
			}
		}
		if len(sources) > 0 {
			cfg.Sources = sources
		}
	}
}

func parseIntEnv(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	return n, err
}

// SaveToFile writes the configuration to path as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// RateFor returns the effective max-rate (Hz) for a source, honoring any
// per-source override before falling back to the pipeline-wide default for
// its rate class.
func (c *Config) RateFor(s SourceConfig) float64 {
	if s.MaxRateHz > 0 {
		return s.MaxRateHz
	}
	if s.Array {
		return c.ArrayMaxRate
	}
	return c.ScalarMaxRate
}

// QueueLimitFor returns the effective SubscriptionQueue capacity for a
// source: an explicit override if set, otherwise max(4, round(RateFor(s)))
// per spec.md §6 / SPEC_FULL.md §6.7, so a source's queue scales with the
// rate it is expected to be bounded at.
func (c *Config) QueueLimitFor(s SourceConfig) int {
	if s.QueueLimit > 0 {
		return s.QueueLimit
	}
	limit := int(math.Round(c.RateFor(s)))
	if limit < 4 {
		limit = 4
	}
	return limit
}

// ControllerWaitDuration returns ControllerWaitPeriod as a time.Duration.
func (c *Config) ControllerWaitDuration() time.Duration {
	return time.Duration(c.ControllerWaitPeriod * float64(time.Second))
}
