// Package controller owns the source-name list and rebuilds the Collector
// and Aggregator whenever it changes, per spec §4.5. It is the only
// component that reaches into the transport and configuration layers on
// the core's behalf; Collector, Aggregator, Subscription and WorkerPool all
// accept their collaborators by construction.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/bsasagg/aggregator"
	"github.com/c360/bsasagg/collector"
	"github.com/c360/bsasagg/config"
	"github.com/c360/bsasagg/metric"
	"github.com/c360/bsasagg/subscription"
	"github.com/c360/bsasagg/transport"
	"github.com/c360/bsasagg/workerpool"
)

// FeedFactory creates the transport.SourceFeed for a named source.
type FeedFactory func(name string) (transport.SourceFeed, error)

// PublisherFactory creates the transport.Publisher the Aggregator posts
// through. Called once per rebuild.
type PublisherFactory func() (transport.Publisher, error)

// pipeline is one built generation of source bindings, replaced wholesale
// on every rebuild.
type pipeline struct {
	subs       []*subscription.Subscription
	collector  *collector.Collector
	aggregator *aggregator.Aggregator
	publisher  transport.Publisher
	pool       *workerpool.Pool
}

// Controller binds a configurable source-name list to one Collector and one
// Aggregator, tearing down and reconstructing the pipeline on any list
// change.
type Controller struct {
	cfg        *config.SafeConfig
	feedFor    FeedFactory
	newPub     PublisherFactory
	logger     *slog.Logger
	waitPeriod time.Duration
	metrics    *metric.MetricsRegistry

	mu      sync.Mutex
	names   []string
	current *pipeline

	wake    chan struct{}
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Controller. feedFor and newPub are the transport
// collaborators the spec treats as external (§6); cfg supplies
// WorkerCount, rate-derived queue limits, and ControllerWaitPeriod.
func New(cfg *config.SafeConfig, feedFor FeedFactory, newPub PublisherFactory, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:        cfg,
		feedFor:    feedFor,
		newPub:     newPub,
		logger:     logger,
		waitPeriod: cfg.Get().ControllerWaitDuration(),
		wake:       make(chan struct{}, 1),
	}
}

// WithMetrics attaches a metrics registry; each rebuilt WorkerPool registers
// its processed/dropped/error counters under it with the service key
// "bsasagg" (spec §6.5). The registry rejects a duplicate key, so only the
// first pool's counters are exported; later rebuilds' counters are not.
func (ctl *Controller) WithMetrics(registry *metric.MetricsRegistry) *Controller {
	ctl.metrics = registry
	return ctl
}

// AddSource appends name to the bound source list. Intended for use prior
// to Start (spec §6 add_source); after Start, use SetSignals to trigger a
// supervised rebuild instead.
func (ctl *Controller) AddSource(name string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.names = append(ctl.names, name)
}

// SetSignals replaces the bound source list and wakes the Controller loop
// to rebuild the pipeline against it (spec §6 set_signals).
func (ctl *Controller) SetSignals(names []string) {
	ctl.mu.Lock()
	ctl.names = append([]string(nil), names...)
	ctl.mu.Unlock()

	select {
	case ctl.wake <- struct{}{}:
	default:
	}
}

// Start builds the initial pipeline from the current source list and
// launches the periodic rebuild-check loop.
func (ctl *Controller) Start(ctx context.Context) error {
	ctl.mu.Lock()
	if ctl.running {
		ctl.mu.Unlock()
		return fmt.Errorf("controller: already started")
	}
	ctl.running = true
	ctl.ctx, ctl.cancel = context.WithCancel(ctx)
	ctl.mu.Unlock()

	if err := ctl.rebuild(); err != nil {
		return fmt.Errorf("controller: initial pipeline build: %w", err)
	}

	ctl.wg.Add(1)
	go ctl.loop()
	return nil
}

// Close tears down the running pipeline and stops the rebuild loop.
func (ctl *Controller) Close() {
	ctl.mu.Lock()
	if !ctl.running {
		ctl.mu.Unlock()
		return
	}
	ctl.running = false
	cancel := ctl.cancel
	ctl.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	ctl.wg.Wait()

	ctl.mu.Lock()
	current := ctl.current
	ctl.current = nil
	ctl.mu.Unlock()
	teardown(current)
}

// Collector returns the currently active Collector, or nil before Start.
func (ctl *Controller) Collector() *collector.Collector {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.current == nil {
		return nil
	}
	return ctl.current.collector
}

func (ctl *Controller) loop() {
	defer ctl.wg.Done()
	for {
		select {
		case <-ctl.ctx.Done():
			return
		case <-ctl.wake:
			if err := ctl.rebuild(); err != nil {
				ctl.logger.Error("controller: rebuild failed, keeping previous pipeline", "error", err)
			}
		case <-time.After(ctl.waitPeriod):
			// Periodic re-check even without an explicit signal, per spec
			// §4.5's "wake event or wait_period timeout" loop: rebuild only
			// if the bound list differs from the running pipeline's.
			ctl.mu.Lock()
			want := append([]string(nil), ctl.names...)
			var coll *collector.Collector
			if ctl.current != nil {
				coll = ctl.current.collector
			}
			ctl.mu.Unlock()
			if coll != nil {
				have := coll.SourceNames()
				same := len(have) == len(want)
				for i := 0; same && i < len(want); i++ {
					same = have[i] == want[i]
				}
				if same {
					continue
				}
			}
			if err := ctl.rebuild(); err != nil {
				ctl.logger.Error("controller: rebuild failed, keeping previous pipeline", "error", err)
			}
		}
	}
}

// rebuild tears down the current pipeline (if any) and constructs a fresh
// one bound to the current source-name list.
func (ctl *Controller) rebuild() error {
	ctl.mu.Lock()
	names := append([]string(nil), ctl.names...)
	old := ctl.current
	ctl.mu.Unlock()

	cfg := ctl.cfg.Get()

	subs := make([]*subscription.Subscription, len(names))
	poolOpts := []workerpool.Option{}
	if ctl.metrics != nil {
		poolOpts = append(poolOpts, workerpool.WithMetrics(ctl.metrics, "bsasagg"))
	}
	pool := workerpool.New(cfg.WorkerCount, poolOpts...)
	var coll *collector.Collector

	for i, name := range names {
		idx := i
		feed, err := ctl.feedFor(name)
		if err != nil {
			pool.Close()
			return fmt.Errorf("controller: build feed for %q: %w", name, err)
		}

		sc := config.SourceConfig{Name: name}
		for _, s := range cfg.Sources {
			if s.Name == name {
				sc = s
				break
			}
		}
		limit := cfg.QueueLimitFor(sc)
		sub, err := subscription.New(name, idx, limit, feed, func(index int) {
			if coll != nil {
				coll.Notify(index)
			}
		})
		if err != nil {
			pool.Close()
			return fmt.Errorf("controller: build subscription for %q: %w", name, err)
		}
		subs[idx] = sub
	}

	coll = collector.New(subs, ctl.logger)

	for _, sub := range subs {
		s := sub
		alive := s.Alive()
		handle := pool.Handle(s, alive)
		if err := s.BindFeed(func(up bool) {
			pool.Push(handle, subscription.ConnectEvent{Up: up})
		}, func(raw transport.RawSample) {
			pool.Push(handle, subscription.DataEvent{Raw: raw})
		}); err != nil {
			coll.Close()
			pool.Close()
			return fmt.Errorf("controller: start feed for %q: %w", s.Name(), err)
		}
	}

	pub, err := ctl.newPub()
	if err != nil {
		coll.Close()
		pool.Close()
		return fmt.Errorf("controller: build publisher: %w", err)
	}
	agg := aggregator.New(pub, ctl.logger)
	coll.Start(ctl.ctx)
	coll.AddAggregator(agg)

	ctl.mu.Lock()
	ctl.current = &pipeline{subs: subs, collector: coll, aggregator: agg, publisher: pub, pool: pool}
	ctl.mu.Unlock()

	teardown(old)
	return nil
}

func teardown(p *pipeline) {
	if p == nil {
		return
	}
	p.collector.Close()
	for _, s := range p.subs {
		_ = s.Close()
	}
	if p.publisher != nil {
		_ = p.publisher.Close()
	}
	if p.pool != nil {
		p.pool.Close()
	}
}
