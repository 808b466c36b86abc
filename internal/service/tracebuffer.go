package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

const (
	traceBufferCapacity = 200
	traceBatchSize      = 20
	traceFlushInterval  = 5 * time.Second
	traceSoftCapFactor  = 4
)

// TraceStore persists batches of trace events durably. Implementations are
// expected to fail the whole batch atomically on any row error.
type TraceStore interface {
	CreateRagTraces(ctx context.Context, events []model.TraceEvent) error
}

// TraceBuffer is an in-memory ring (capacity 200, FIFO eviction) of recent
// trace events, backed by a batched durable flush. Every stage call produces
// one event; persistence never blocks the caller and never fails a query.
type TraceBuffer struct {
	mu       sync.Mutex
	ring     []model.TraceEvent
	writeQ   []model.TraceEvent
	store    TraceStore
	enabled  bool
	drops    int
	dropHook func()

	stopCh chan struct{}
	doneCh chan struct{}
}

// OnDrop registers a callback invoked once per Record() call that overflows
// the soft cap, independent of how many events that overflow discarded. Used
// to feed an external metrics counter; nil by default.
func (tb *TraceBuffer) OnDrop(fn func()) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.dropHook = fn
}

// NewTraceBuffer creates a TraceBuffer with persistence on by default and
// starts its periodic flush timer. Call Shutdown to stop it cleanly.
func NewTraceBuffer(store TraceStore) *TraceBuffer {
	tb := &TraceBuffer{
		store:   store,
		enabled: true,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go tb.flushLoop()
	return tb
}

// SetPersistence toggles durable persistence. Disabled mode never writes;
// the ring still records events for in-process trace retrieval.
func (tb *TraceBuffer) SetPersistence(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

// generateTraceId yields rag-<unix_ms>-<rand6>.
func generateTraceId() string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("rag-%d-%s", time.Now().UTC().UnixMilli(), hex.EncodeToString(buf))
}

// Record appends an event to the ring (evicting the oldest on overflow) and
// queues it for durable flush when persistence is enabled.
func (tb *TraceBuffer) Record(event model.TraceEvent) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.ring = append(tb.ring, event)
	if len(tb.ring) > traceBufferCapacity {
		tb.ring = tb.ring[len(tb.ring)-traceBufferCapacity:]
	}

	if !tb.enabled {
		return
	}

	tb.writeQ = append(tb.writeQ, event)
	softCap := traceBatchSize * traceSoftCapFactor
	if len(tb.writeQ) > softCap {
		drop := len(tb.writeQ) - softCap/2
		tb.writeQ = tb.writeQ[drop:]
		tb.drops += drop
		slog.Warn("[DEBUG-TRACE] write buffer overflow, dropped oldest half", "dropped", drop, "total_drops", tb.drops)
		if tb.dropHook != nil {
			tb.dropHook()
		}
	}

	if len(tb.writeQ) >= traceBatchSize {
		go tb.flush()
	}
}

// Drops returns the trace_drops counter for metrics reporting.
func (tb *TraceBuffer) Drops() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.drops
}

// Recent returns up to n most recent ring events, newest last.
func (tb *TraceBuffer) Recent(n int) []model.TraceEvent {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if n <= 0 || n > len(tb.ring) {
		n = len(tb.ring)
	}
	out := make([]model.TraceEvent, n)
	copy(out, tb.ring[len(tb.ring)-n:])
	return out
}

func (tb *TraceBuffer) flushLoop() {
	ticker := time.NewTicker(traceFlushInterval)
	defer ticker.Stop()
	defer close(tb.doneCh)

	for {
		select {
		case <-ticker.C:
			tb.flush()
		case <-tb.stopCh:
			tb.flush()
			return
		}
	}
}

func (tb *TraceBuffer) takeBatch() []model.TraceEvent {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(tb.writeQ) == 0 {
		return nil
	}
	batch := tb.writeQ
	tb.writeQ = nil
	return batch
}

// flush is triggered when the queue reaches batchSize (Record starts it in a
// goroutine) or every flushInterval. A flush
// failure is logged and the batch discarded — tracing never fails a query.
func (tb *TraceBuffer) flush() {
	batch := tb.takeBatch()
	if len(batch) == 0 || tb.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), traceFlushInterval)
	defer cancel()
	if err := tb.store.CreateRagTraces(ctx, batch); err != nil {
		slog.Warn("[DEBUG-TRACE] flush failed, batch discarded", "batch_size", len(batch), "error", err)
	}
}

// Shutdown stops the flush timer and performs one final flush.
func (tb *TraceBuffer) Shutdown() {
	close(tb.stopCh)
	<-tb.doneCh
}
