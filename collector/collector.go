// Package collector implements the alignment engine: it joins per-source
// Samples into timestamp-keyed Slices, decides completeness, and emits
// completed Slices in ascending timestamp order to every attached
// Aggregator. It is the single owner of the pipeline's alignment state.
package collector

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/bsasagg/sample"
	"github.com/c360/bsasagg/subscription"
)

// Completed is one fully joined Slice handed to an Aggregator. Sources is
// index-aligned with the Collector's source list; Sources[i].Valid() is
// false wherever that source's slot was never filled for this key (always
// true when the source was disconnected).
type Completed struct {
	Key     sample.Key
	Sources []sample.Sample
}

// Aggregator is the Collector's view of one attached output aggregate: it
// is reset on source-list/attachment change and driven with ordered
// batches of completed Slices. aggregator.Aggregator satisfies this.
type Aggregator interface {
	Reset(sourceNames []string)
	Aggregate(batch []Completed) error
}

type sourceEntry struct {
	sub       *subscription.Subscription
	ready     bool
	connected bool
}

type slot struct {
	slots []sample.Sample
}

func newSlot(numSources int) *slot {
	return &slot{slots: make([]sample.Sample, numSources)}
}

func (s *slot) set(index int, v sample.Sample) (duplicate bool) {
	if s.slots[index].Valid() {
		return true
	}
	s.slots[index] = v
	return false
}

// complete reports whether every source is satisfied: its slot is filled,
// or it is currently disconnected (spec §3 Slice completeness rule).
func (s *slot) complete(connected []bool) bool {
	for i, v := range s.slots {
		if !v.Valid() && connected[i] {
			return false
		}
	}
	return true
}

// Collector is the alignment engine described in spec §4.3. It owns a
// fixed, ordered source list for its lifetime; the Controller tears down
// and reconstructs a Collector whenever the source list changes.
type Collector struct {
	logger *slog.Logger

	mu            sync.Mutex
	sources       []*sourceEntry
	nameIndex     map[string]int
	slices        map[sample.Key]*slot
	aggregators   []Aggregator
	aggShadow     []Aggregator
	aggChanged    bool
	oldestEmitted sample.Key
	waiting       bool
	running       bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Collector bound to the given ordered list of Subscriptions.
// Index i in subs is this source's stable column index for the lifetime of
// this Collector.
func New(subs []*subscription.Subscription, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		logger:    logger,
		slices:    make(map[sample.Key]*slot),
		nameIndex: make(map[string]int, len(subs)),
		wake:      make(chan struct{}, 1),
	}
	c.sources = make([]*sourceEntry, len(subs))
	for i, sub := range subs {
		c.sources[i] = &sourceEntry{sub: sub, connected: true}
		c.nameIndex[sub.Name()] = i
	}
	return c
}

// SourceNames returns the bound source names in stable index order.
func (c *Collector) SourceNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.sub.Name()
	}
	return names
}

// Start launches the Collector's dedicated main-loop goroutine.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

// Close stops the main loop and waits for it to exit.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()
	c.signalWake()
	c.wg.Wait()
}

// Notify marks source index as having data ready to pop and wakes the main
// loop if it was blocked waiting. Must be fast: called directly from a
// Subscription's enqueue path (spec §4.3 notify(source)).
func (c *Collector) Notify(index int) {
	c.mu.Lock()
	if index >= 0 && index < len(c.sources) {
		c.sources[index].ready = true
	}
	wasWaiting := c.waiting
	c.mu.Unlock()

	if wasWaiting {
		c.signalWake()
	}
}

func (c *Collector) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// AddAggregator attaches a, marks the schema dirty, and resets it with the
// current source-name list (invoked with the Collector lock released, per
// spec §4.3 Attachment).
func (c *Collector) AddAggregator(a Aggregator) {
	c.mu.Lock()
	c.aggregators = append(c.aggregators, a)
	c.aggChanged = true
	names := c.namesLocked()
	c.mu.Unlock()

	a.Reset(names)
}

// RemoveAggregator detaches a.
func (c *Collector) RemoveAggregator(a Aggregator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.aggregators {
		if existing == a {
			c.aggregators = append(c.aggregators[:i], c.aggregators[i+1:]...)
			c.aggChanged = true
			return
		}
	}
}

func (c *Collector) namesLocked() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.sub.Name()
	}
	return names
}

// OldestEmitted returns the largest timestamp key already handed off to
// aggregators, for tests asserting Invariant 2 (non-decreasing).
func (c *Collector) OldestEmitted() sample.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oldestEmitted
}

// PendingSlices returns the number of Slices currently retained (not yet
// emitted). A complete Slice older than the newest incomplete one is also
// retained until that incomplete Slice completes.
func (c *Collector) PendingSlices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slices)
}

func (c *Collector) run(ctx context.Context) {
	defer c.wg.Done()

	c.mu.Lock()
	for c.running {
		c.waiting = false
		anyProduced := false

		for {
			progressed := false
			for i, src := range c.sources {
				if !src.ready || src.sub == nil {
					continue
				}
				v := src.sub.Pop()
				if !v.Valid() {
					src.ready = false
					continue
				}
				src.ready = true
				progressed = true
				anyProduced = true
				src.connected = v.Connected()
				if !src.connected {
					// A disconnect Sample only marks the down edge; its
					// locally generated timestamp never keys a Slice.
					continue
				}
				c.ingestLocked(i, v)
			}
			if !progressed {
				break
			}
		}

		c.waiting = !anyProduced

		completed := c.scanCompletionLocked()

		var shadow []Aggregator
		if c.aggChanged {
			shadow = append([]Aggregator(nil), c.aggregators...)
			c.aggShadow = shadow
			c.aggChanged = false
		} else {
			shadow = c.aggShadow
		}

		waiting := c.waiting
		c.mu.Unlock()

		if len(completed) > 0 {
			for _, a := range shadow {
				if err := a.Aggregate(completed); err != nil {
					c.logger.Error("aggregator failed, skipping for this batch", "error", err)
				}
			}
		}

		if waiting {
			select {
			case <-c.wake:
			case <-ctx.Done():
				c.mu.Lock()
				c.running = false
				c.mu.Unlock()
				return
			}
		}

		c.mu.Lock()
	}
	c.mu.Unlock()
}

// ingestLocked bins one popped Sample from source index i into its Slice,
// or drops it as stale/duplicate. Caller must hold c.mu.
func (c *Collector) ingestLocked(i int, v sample.Sample) {
	if v.Timestamp <= c.oldestEmitted {
		c.logger.Debug("dropping stale sample", "source_index", i, "key", v.Timestamp, "oldest_emitted", c.oldestEmitted)
		return
	}

	sl, ok := c.slices[v.Timestamp]
	if !ok {
		sl = newSlot(len(c.sources))
		c.slices[v.Timestamp] = sl
	}
	if dup := sl.set(i, v); dup {
		c.logger.Debug("dropping duplicate slot", "source_index", i, "key", v.Timestamp)
	}
}

// scanCompletionLocked performs the descending-key completion scan and
// returns the completed batch in ascending order, updating oldestEmitted.
// Caller must hold c.mu.
func (c *Collector) scanCompletionLocked() []Completed {
	if len(c.slices) == 0 {
		return nil
	}

	connected := make([]bool, len(c.sources))
	for i, s := range c.sources {
		connected[i] = s.connected
	}

	keys := make([]sample.Key, 0, len(c.slices))
	for k := range c.slices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] > keys[b] })

	firstPartial := -1
	for i, k := range keys {
		if !c.slices[k].complete(connected) {
			firstPartial = i
			break
		}
	}

	var candidates []sample.Key
	if firstPartial == -1 {
		candidates = keys
	} else {
		candidates = keys[:firstPartial]
	}
	if len(candidates) == 0 {
		return nil
	}

	// candidates is in descending order; build the batch ascending.
	batch := make([]Completed, len(candidates))
	for i, k := range candidates {
		sl := c.slices[k]
		delete(c.slices, k)
		batch[len(candidates)-1-i] = Completed{Key: k, Sources: sl.slots}
	}

	if candidates[0] > c.oldestEmitted {
		c.oldestEmitted = candidates[0]
	}

	return batch
}
