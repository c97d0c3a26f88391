// Package demopublisher generates synthetic per-source sample streams for
// manual and integration testing, grounded on the original service's
// periodic UDP counter injector (original_source/dspamApp/src/spammer.cpp).
// It is never used by the core pipeline; only integration tests and the
// `bsasagg --demo` CLI flag construct a Generator.
package demopublisher

import (
	"context"
	"sync"
	"time"

	"github.com/c360/bsasagg/sample"
	"github.com/c360/bsasagg/transport"
)

// Emitter is the minimal interface a Generator needs from its transport:
// publish one raw sample delivery for the bound source.
type Emitter interface {
	Emit(raw transport.RawSample) error
}

// Generator periodically publishes a synthetic Sample carrying one
// monotonically increasing "count" column, standing in for the original's
// periodic counter broadcast. Each sample is stamped with the wall clock
// truncated to the period, so Generators running with the same period stamp
// matching timestamp keys.
type Generator struct {
	emitter Emitter

	mu     sync.Mutex
	period time.Duration
	wake   chan struct{}

	counter uint32
}

// New creates a Generator publishing through emitter at the given period.
func New(emitter Emitter, period time.Duration) *Generator {
	if period <= 0 {
		period = time.Second
	}
	return &Generator{
		emitter: emitter,
		period:  period,
		wake:    make(chan struct{}, 1),
	}
}

// SetPeriod changes the publish interval, taking effect on the next tick.
func (g *Generator) SetPeriod(period time.Duration) {
	if period <= 0 {
		return
	}
	g.mu.Lock()
	g.period = period
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Generator) currentPeriod() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.period
}

// Run publishes one sample immediately, then one per period, until ctx is
// canceled.
func (g *Generator) Run(ctx context.Context) {
	for {
		g.publishOnce()

		timer := time.NewTimer(g.currentPeriod())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-g.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (g *Generator) publishOnce() {
	now := time.Now().Truncate(g.currentPeriod())
	ts := sample.NewKey(uint32(now.Unix()), uint32(now.Nanosecond()))

	n := g.counter
	g.counter++

	value := sample.NewValue([]string{"count"}, []sample.Column{sample.ColumnUint32([]uint32{n})})
	_ = g.emitter.Emit(transport.RawSample{
		Timestamp: ts,
		Severity:  sample.SeverityNoAlarm,
		Value:     value,
	})
}
