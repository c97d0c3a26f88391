// Package config provides configuration management for the bsasagg
// aggregation pipeline.
//
// This package handles loading, schema validation, and thread-safe access to
// the pipeline's configuration: worker count, per-rate-class queue limits,
// the NATS transport endpoint, health/metrics ports, and the initial bound
// source list (spec.md §6.7, SPEC_FULL.md §6.4/§6.7).
//
// # Core Components
//
// Config: the complete configuration surface consumed by cmd/bsasagg to
// build the Controller, WorkerPool, and transport/natsio adapter.
//
// SafeConfig: thread-safe wrapper using RWMutex and JSON deep cloning,
// from which the Controller reads WorkerCount, queue limits and its wait
// period on each rebuild. The Controller keeps its live source list (set
// through SetSignals) itself, not in the SafeConfig.
//
// Loader: loads configuration from a JSON file, applies BSASAGG_*
// environment variable overrides, validates the document against a JSON
// Schema (github.com/xeipuuv/gojsonschema), and fills in defaults for any
// field the file omits.
//
// # Basic Usage
//
//	loader := config.NewLoader("config/bsasagg.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Thread-Safe Access
//
//	safeConfig := config.NewSafeConfig(cfg)
//
//	// Read config (deep copy returned, safe to use without locks)
//	current := safeConfig.Get()
//
//	// Update atomically; validation runs before the swap
//	next := safeConfig.Get()
//	next.Sources = append(next.Sources, config.SourceConfig{Name: "device:pv1"})
//	if err := safeConfig.Update(next); err != nil {
//		log.Printf("rejected: %v", err)
//	}
//
// # Environment Variable Overrides
//
//	export BSASAGG_NATS_URL="nats://prod-nats:4222"
//	export BSASAGG_WORKER_COUNT="8"
//	export BSASAGG_SOURCES="device:pv1,device:pv2"
//
// # Security
//
// The package includes the same file-handling safeguards used throughout
// the pipeline's config loading:
//   - File size limits (10MB max) to prevent memory exhaustion
//   - JSON depth validation (100 levels max) to prevent DoS attacks
//   - Path validation to prevent directory traversal
//   - Regular file checks (no directories or device files; symlinks are
//     followed to their target)
package config
