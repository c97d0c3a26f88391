package demopublisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c360/bsasagg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu      sync.Mutex
	emitted []transport.RawSample
}

func (e *recordingEmitter) Emit(raw transport.RawSample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitted = append(e.emitted, raw)
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.emitted)
}

func TestGeneratorPublishesAtPeriod(t *testing.T) {
	emitter := &recordingEmitter{}
	gen := New(emitter, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	gen.Run(ctx)

	assert.GreaterOrEqual(t, emitter.count(), 3)
}

func TestGeneratorCounterIsMonotonic(t *testing.T) {
	emitter := &recordingEmitter{}
	gen := New(emitter, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	gen.Run(ctx)

	require.NotEmpty(t, emitter.emitted)
	var last uint32
	for i, raw := range emitter.emitted {
		col, ok := raw.Value.Get("count")
		require.True(t, ok)
		require.Len(t, col.Uint32, 1)
		if i > 0 {
			assert.Greater(t, col.Uint32[0], last)
		}
		last = col.Uint32[0]
	}
}

func TestGeneratorStopsOnContextCancel(t *testing.T) {
	emitter := &recordingEmitter{}
	gen := New(emitter, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gen.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
