// Package bsasagg implements a beam-synchronous event-stream aggregator: a
// pipeline that aligns samples from many independently-rated sources onto a
// shared timestamp key and emits aggregate records once every bound source
// has reported for that key.
//
// # Architecture
//
//	┌──────────────┐     ┌────────────┐     ┌─────────────┐     ┌────────────┐
//	│   Transport   │ --> │ Subscription│ --> │  Collector  │ --> │ Aggregator │
//	│ (natsio, etc.)│     │  (bounded   │     │ (slice-keyed│     │  (schema + │
//	│               │     │   queue)    │     │  alignment) │     │  emission) │
//	└──────────────┘     └────────────┘     └─────────────┘     └────────────┘
//	                                                                    │
//	                                                                    v
//	                                                           published record
//
// The Controller owns the bound source list and routes each source's
// transport callbacks through a shared WorkerPool, which dispatches them to
// that source's Subscription; the Collector drains the per-subscription
// queues into its slice map. A Collector slice becomes complete once every
// connected source has contributed a sample for that timestamp key, at
// which point the Aggregator concatenates the slice's columns into a single
// AggregateRecord and publishes it.
//
// # Packages
//
//   - sample: the Sample type, composite timestamp key, and typed Column union
//   - subscription: bounded per-source FIFO queue (drop-oldest overflow)
//   - workerpool: hash-routed worker pool dispatching transport events to subscriptions
//   - collector: slice/slice-map alignment and completion logic
//   - aggregator: schema derivation and record assembly
//   - controller: source binding, config-driven startup, live source-list updates
//   - transport: the SourceFeed/Publisher contract, plus natsio and demopublisher
//   - config: JSON configuration loading, schema validation, thread-safe validated updates
//   - errors: three-class (transient/invalid/fatal) error classification
//   - metric: Prometheus registry and /metrics server; the WorkerPool registers its counters there
//   - health: status tracking behind /healthz (NATS connection and Controller)
//   - natsclient: shared NATS connection management with circuit breaking
//   - pkg/buffer: generic ring buffer backing the subscription queue
//   - pkg/retry: exponential backoff helpers, used for transient publish retries
//
// # Binary
//
// cmd/bsasagg builds the aggregator service:
//
//	bsasagg --config configs/example.json
//
// It loads and validates configuration, connects to NATS, constructs the
// Controller with its initial source list, and serves /metrics and /healthz
// until signaled to shut down.
package bsasagg
