// Package transport defines the contracts between the alignment pipeline
// and the outside world: the raw sample feed a Subscription consumes, and
// the published channel an Aggregator writes to. Concrete adapters (NATS,
// the synthetic demo publisher) live in subpackages; this package holds only
// the interfaces and the transport-independent bandwidth estimator.
package transport

import "github.com/c360/bsasagg/sample"

// RawSample is what a Transport Adapter decodes a wire delivery into before
// handing it to a Subscription. It mirrors the transport contract in spec
// §6: a composite timestamp, severity/status, and a named-column value
// record, plus passthrough alarm/timeStamp fields the adapter does not
// interpret.
type RawSample struct {
	Timestamp sample.Key
	Severity  sample.Severity
	Status    uint16
	Value     sample.Value
}

// WireBytes returns the bytes accounted against a Subscription's
// nUpdateBytes counter for a delivery with p body bytes. Deterministic so
// tests can assert the counter exactly (spec §6 bandwidth estimator):
// small payloads cost a fixed per-packet overhead; payloads beyond one
// Ethernet-ish frame additionally fragment, each fragment paying its own
// overhead.
func WireBytes(p int) int {
	const (
		perPacketOverhead = 98
		frameThreshold    = 1402
		fragmentOverhead  = 66
		fragmentSize      = 1434
	)
	if p <= frameThreshold {
		return p + perPacketOverhead
	}
	fragments := 1 + (p-frameThreshold)/fragmentSize
	return p + perPacketOverhead + fragmentOverhead*fragments
}

// SourceFeed is the inbound side a Subscription binds to: one handle per
// source channel, delivering connect/disconnect edges and decoded samples.
type SourceFeed interface {
	// Name returns the source channel's name.
	Name() string

	// Start begins delivery, invoking onConnect on every up/down transition
	// and onData for every decoded sample. Both callbacks may be invoked
	// concurrently from transport-owned goroutines and must return quickly;
	// the caller is responsible for catching panics at this boundary.
	Start(onConnect func(up bool), onData func(RawSample)) error

	// Cancel stops delivery and releases the underlying subscription.
	// Cancel is idempotent.
	Cancel() error
}

// Publisher is the outbound side an Aggregator writes to: one handle per
// aggregate output channel.
type Publisher interface {
	// Open announces the initial schema (ordered column labels) before any
	// record is posted.
	Open(labels []string) error

	// Post publishes one AggregateRecord-shaped payload. changed carries the
	// subset of labels whose values actually changed since the prior post,
	// mirroring the upstream channel-access "post only the deltas" idiom;
	// adapters that always post the full record may ignore it.
	Post(labels []string, value sample.Value, alarm uint16, timestamp sample.Key, changed []string) error

	// Close releases the published channel.
	Close() error
}
