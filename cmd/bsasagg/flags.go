package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	HealthPort      int // -1 means "use value from config file"
	MetricsPort     int // -1 means "use value from config file"
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	Demo            bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("BSASAGG_CONFIG", "configs/example.json"),
		"Path to configuration file (env: BSASAGG_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("BSASAGG_CONFIG", "configs/example.json"),
		"Path to configuration file (env: BSASAGG_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("BSASAGG_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BSASAGG_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("BSASAGG_LOG_FORMAT", "json"),
		"Log format: json, text (env: BSASAGG_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("BSASAGG_DEBUG", false),
		"Enable debug log level (env: BSASAGG_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("BSASAGG_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Shutdown timeout, reported in the shutdown log line; teardown is not cut off when it elapses (env: BSASAGG_SHUTDOWN_TIMEOUT)")

	flag.IntVar(&cfg.HealthPort, "health-port", -1,
		"Override the configured /healthz port, -1 to use the config file's value")

	flag.IntVar(&cfg.MetricsPort, "metrics-port", -1,
		"Override the configured /metrics port, -1 to use the config file's value")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&cfg.Demo, "demo", false, "Run the synthetic demo publisher against the configured sources instead of the aggregator")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", cfg.HealthPort)
	}

	if cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - beam-synchronous event-stream aggregator

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a custom config
  %s --config=/path/to/config.json

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export BSASAGG_CONFIG=/etc/bsasagg/config.json
  export BSASAGG_LOG_LEVEL=debug
  %s

  # Validate configuration only
  %s --validate

  # Drive the configured sources with synthetic samples
  %s --demo

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
