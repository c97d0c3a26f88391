// Package subscription owns one bounded, decoded stream of Samples per
// source channel. It translates raw transport callbacks into enqueued
// Samples, enforces monotonic-timestamp and queue-bound policy, and exposes
// a pull interface the Collector drains from its own thread.
package subscription

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/bsasagg/pkg/buffer"
	"github.com/c360/bsasagg/sample"
	"github.com/c360/bsasagg/transport"
)

// Counters are the per-source bookkeeping fields exposed for tests,
// metrics, and the error-handling table in spec §7.
type Counters struct {
	Errors       int64
	Updates      int64
	UpdateBytes  int64
	Overflows    int64
	Disconnects  int64
}

// Subscription is one source's decoded-sample pipeline stage: connection
// state, a bounded FIFO, and the counters that make its behavior testable.
type Subscription struct {
	name  string
	index int
	limit int

	queue buffer.Buffer[sample.Sample]

	// notify is called after the enqueue-side lock is released, on every
	// empty-to-nonempty transition (spec §4.2); it is the Collector's
	// notify(source) hook. Never nil after New.
	notify func(index int)

	// mu serializes the producer side (on_connect/on_data) so the
	// "queue transitioned from empty" check-and-enqueue is atomic. The
	// buffer itself is already internally thread-safe; this lock exists to
	// make the transition observation race-free, matching spec §5's "one
	// lock per Subscription protecting its queue and counters."
	mu                 sync.Mutex
	connected          bool
	lastEventTimestamp sample.Key

	errors      atomic.Int64
	updates     atomic.Int64
	updateBytes atomic.Int64
	overflows   atomic.Int64
	disconnects atomic.Int64

	closed    atomic.Bool
	aliveFlag atomic.Bool
	feed      transport.SourceFeed
}

// New creates a Subscription for a source bound at the given stable index
// (the source's column identity, per spec §4.3 sources array), with a
// bounded queue of the given capacity. notify is invoked, outside any lock
// held by this Subscription, whenever the queue transitions from empty to
// nonempty.
func New(name string, index, limit int, feed transport.SourceFeed, notify func(index int)) (*Subscription, error) {
	s := &Subscription{
		name:   name,
		index:  index,
		limit:  limit,
		notify: notify,
		feed:   feed,
	}

	q, err := buffer.NewCircularBuffer[sample.Sample](limit,
		buffer.WithOverflowPolicy[sample.Sample](buffer.DropOldest),
		buffer.WithDropCallback[sample.Sample](func(sample.Sample) {
			s.overflows.Add(1)
		}),
	)
	if err != nil {
		return nil, err
	}
	s.queue = q
	s.aliveFlag.Store(true)
	return s, nil
}

// BindFeed starts the underlying transport.SourceFeed, wiring its
// connect/data callbacks through the caller-supplied wrappers (typically a
// WorkerPool push). A Subscription created without a feed (as in unit
// tests that drive OnConnect/OnData directly) treats BindFeed as a no-op.
func (s *Subscription) BindFeed(onConnect func(bool), onData func(transport.RawSample)) error {
	if s.feed == nil {
		return nil
	}
	return s.feed.Start(onConnect, onData)
}

// Name returns the source channel name.
func (s *Subscription) Name() string { return s.name }

// Index returns the stable per-source index used for WorkerPool hash
// routing and Collector slot addressing.
func (s *Subscription) Index() int { return s.index }

// Counters returns a snapshot of the subscription's bookkeeping counters.
func (s *Subscription) Counters() Counters {
	return Counters{
		Errors:      s.errors.Load(),
		Updates:     s.updates.Load(),
		UpdateBytes: s.updateBytes.Load(),
		Overflows:   s.overflows.Load(),
		Disconnects: s.disconnects.Load(),
	}
}

// QueueSize returns the current number of buffered samples.
func (s *Subscription) QueueSize() int { return s.queue.Size() }

// OnConnect handles a transport connect/disconnect edge. On a down edge it
// synthesizes and enqueues a disconnected Sample so the Collector observes
// the transition even with no further data deliveries.
func (s *Subscription) OnConnect(up bool) {
	defer s.recoverAndCount("OnConnect")

	if up {
		s.mu.Lock()
		s.connected = true
		s.lastEventTimestamp = 0
		s.mu.Unlock()
		return
	}

	s.disconnects.Add(1)
	ts := sample.NewKey(uint32(time.Now().Unix()), uint32(time.Now().Nanosecond()))
	s.enqueue(sample.Disconnect(ts))

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// OnData decodes and enqueues one transport delivery. A delivery whose
// timestamp is not strictly greater than the last accepted one is rejected
// and counted as an error, never enqueued (spec §4.2, Invariant 3).
func (s *Subscription) OnData(raw transport.RawSample) {
	defer s.recoverAndCount("OnData")

	s.mu.Lock()
	if raw.Timestamp <= s.lastEventTimestamp {
		s.mu.Unlock()
		s.errors.Add(1)
		return
	}
	s.lastEventTimestamp = raw.Timestamp
	s.mu.Unlock()

	s.updates.Add(1)
	s.updateBytes.Add(int64(transport.WireBytes(estimateBodyBytes(raw.Value))))

	s.enqueue(sample.Sample{
		Timestamp: raw.Timestamp,
		Severity:  raw.Severity,
		Status:    raw.Status,
		Value:     raw.Value,
	})
}

// enqueue writes s to the queue and notifies the Collector exactly once on
// an empty-to-nonempty transition. The overflow drop (and its nOverflows
// count) is handled by the buffer's DropOldest policy and drop callback.
func (s *Subscription) enqueue(v sample.Sample) {
	s.mu.Lock()
	wasEmpty := s.queue.IsEmpty()
	_ = s.queue.Write(v)
	s.mu.Unlock()

	if wasEmpty {
		s.notify(s.index)
	}
}

// Pop dequeues the front Sample. Returns the zero-value sentinel (Valid()
// == false) when the queue is empty.
func (s *Subscription) Pop() sample.Sample {
	v, ok := s.queue.Read()
	if !ok {
		return sample.Sample{}
	}
	return v
}

// Clear truncates the queue from the front until at most remain elements
// remain, counting each drop as an overflow. Calling Clear repeatedly with
// a remain already satisfied is a no-op.
func (s *Subscription) Clear(remain int) {
	for s.queue.Size() > remain {
		if _, ok := s.queue.Read(); ok {
			s.overflows.Add(1)
		} else {
			break
		}
	}
}

// ConnectEvent and DataEvent are the two event shapes a WorkerPool worker
// dispatches to a Subscription's Process method; transport callbacks wrap
// their payload in one of these before pushing onto the pool.
type ConnectEvent struct{ Up bool }
type DataEvent struct{ Raw transport.RawSample }

// Process implements workerpool.Dispatchable, routing a dispatched event to
// OnConnect or OnData. Unrecognized event types are ignored.
func (s *Subscription) Process(event any) {
	switch e := event.(type) {
	case ConnectEvent:
		s.OnConnect(e.Up)
	case DataEvent:
		s.OnData(e.Raw)
	}
}

// Alive reports the liveness flag a WorkerPool handle checks before
// dispatch; it is the inverse of Closed.
func (s *Subscription) Alive() *atomic.Bool {
	return &s.aliveFlag
}

// Close cancels the transport subscription and prevents further callbacks
// from being processed. The queue is left intact and inspectable.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.aliveFlag.Store(false)
	if s.feed != nil {
		return s.feed.Cancel()
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	return s.closed.Load()
}

// recoverAndCount absorbs panics from the decode path at the
// transport-callback boundary, counting them as errors rather than letting
// them propagate into the transport (spec §4.2 error policy).
func (s *Subscription) recoverAndCount(op string) {
	if r := recover(); r != nil {
		s.errors.Add(1)
		_ = op // retained for future structured logging of which op panicked
	}
}

// estimateBodyBytes approximates the wire-payload size of a decoded value
// record, used only as the input to transport.WireBytes. Each column
// contributes its element count times its scalar width, plus a small
// per-column name/header allowance.
func estimateBodyBytes(v sample.Value) int {
	const headerPerColumn = 16
	total := 0
	for _, name := range v.Names() {
		col, ok := v.Get(name)
		if !ok {
			continue
		}
		total += len(name) + headerPerColumn
		switch col.Kind {
		case sample.KindUint32, sample.KindInt32, sample.KindFloat32:
			total += col.Len() * 4
		case sample.KindFloat64:
			total += col.Len() * 8
		case sample.KindUint8:
			total += col.Len()
		case sample.KindString:
			for _, s := range col.String {
				total += len(s)
			}
		}
	}
	return total
}
