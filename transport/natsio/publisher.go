package natsio

import (
	"context"
	"fmt"
	"sync"
	"time"

	berrors "github.com/c360/bsasagg/errors"
	"github.com/c360/bsasagg/pkg/retry"
	"github.com/c360/bsasagg/sample"
)

// publishRetry bounds how hard Post retries a transient publish failure
// (e.g. the connection mid-reconnect) before giving up and letting the
// Aggregator count it as a publish error.
var publishRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2.0,
	AddJitter:    true,
}

// Publisher implements transport.Publisher for one outbound aggregate
// channel, posting JSON-encoded AggregateRecords to "bsas.agg.<name>".
type Publisher struct {
	conn *Conn
	name string

	mu     sync.Mutex
	opened bool
	labels []string
}

// NewPublisher creates a Publisher for the named aggregate channel, bound to
// conn.
func NewPublisher(conn *Conn, name string) *Publisher {
	return &Publisher{conn: conn, name: name}
}

// Open records the derived output schema. NATS core pub/sub has no
// channel-creation step, so this only records the label set the Aggregator
// just derived.
func (p *Publisher) Open(labels []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.labels = append([]string(nil), labels...)
	p.opened = true
	return nil
}

// Post encodes and publishes one aggregate record.
func (p *Publisher) Post(labels []string, value sample.Value, alarm uint16, timestamp sample.Key, changed []string) error {
	data, err := encodeRecord(value, alarm, timestamp)
	if err != nil {
		return berrors.WrapInvalid(err, "Publisher", "Post", "encode aggregate record")
	}

	subject := fmt.Sprintf("bsas.agg.%s", p.name)
	ctx := context.Background()
	err = retry.Do(ctx, publishRetry, func() error {
		return p.conn.client.Publish(ctx, subject, data)
	})
	if err != nil {
		return berrors.WrapTransient(err, "Publisher", "Post", "publish aggregate record")
	}
	return nil
}

// Close is a no-op: the underlying Conn is shared across every Feed and
// Publisher bound to it and is closed once by its owner, not by individual
// Publishers.
func (p *Publisher) Close() error { return nil }
