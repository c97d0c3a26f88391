package natsio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	berrors "github.com/c360/bsasagg/errors"
	"github.com/c360/bsasagg/transport"
)

// Feed implements transport.SourceFeed for one source channel over NATS core
// pub/sub, subscribing to "bsas.<source>.samples".
//
// natsclient.Client exposes no per-subscription Unsubscribe, so Cancel does
// not tear down the underlying NATS subscription; it only marks the Feed
// dead so further deliveries are dropped before reaching the caller's
// callbacks. The subscription itself is reclaimed when the shared Conn
// closes.
type Feed struct {
	conn   *Conn
	source string

	mu       sync.Mutex
	canceled bool

	decodeErrors atomic.Int64
}

// NewFeed creates a Feed for source, bound to conn.
func NewFeed(conn *Conn, source string) *Feed {
	return &Feed{conn: conn, source: source}
}

// Name returns the source channel name.
func (f *Feed) Name() string { return f.source }

// Start subscribes to this source's subject and registers for the shared
// connection's health-change notifications.
func (f *Feed) Start(onConnect func(bool), onData func(transport.RawSample)) error {
	f.conn.addListener(func(up bool) {
		if !f.isCanceled() {
			onConnect(up)
		}
	})

	subject := fmt.Sprintf("bsas.%s.samples", f.source)
	err := f.conn.client.Subscribe(context.Background(), subject, func(_ context.Context, data []byte) {
		if f.isCanceled() {
			return
		}
		raw, err := decodeRawSample(data)
		if err != nil {
			f.decodeErrors.Add(1)
			slog.Default().Warn("natsio: dropping undecodable sample",
				"source", f.source, "error", err)
			return
		}
		onData(raw)
	})
	if err != nil {
		return berrors.WrapTransient(err, "Feed", "Start", "subscribe to source subject")
	}

	onConnect(f.conn.Healthy())
	return nil
}

// DecodeErrors returns the number of wire deliveries dropped for this
// source because they failed to decode, counted against spec §7's
// "decode failure -> nErrors, log, drop" row (transport.RawSample is
// already-decoded by the time it would otherwise reach Subscription.OnData,
// so this is the only place that failure can be observed and counted).
func (f *Feed) DecodeErrors() int64 {
	return f.decodeErrors.Load()
}

// Cancel marks the Feed dead; no further callbacks are delivered.
func (f *Feed) Cancel() error {
	f.mu.Lock()
	f.canceled = true
	f.mu.Unlock()
	return nil
}

func (f *Feed) isCanceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}
