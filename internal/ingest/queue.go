package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// FlushInterval is the batching tick. Upstream bursts (many trades in the
// same block) would otherwise trigger a downstream recompute per trade;
// batching amortizes that while staying instant at human timescales.
const FlushInterval = 50 * time.Millisecond

// Queue is a bounded, time-windowed batching buffer between the feed and
// the trade log. It exclusively owns the pending batch until flush.
type Queue struct {
	log *store.Log

	mu      sync.Mutex
	pending []store.Trade
}

// NewQueue creates a queue that flushes into the given log.
func NewQueue(log *store.Log) *Queue {
	return &Queue{log: log}
}

// Enqueue adds a decoded trade to the pending batch, preserving arrival
// order.
func (q *Queue) Enqueue(t store.Trade) {
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
}

// Flush drains the pending batch into the log and returns the drained
// batch. Within the batch, upstream arrival order is preserved.
func (q *Queue) Flush() []store.Trade {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) > 0 {
		q.log.Merge(batch)
	}
	return batch
}

// Pending returns the current pending batch size.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run flushes on the fixed tick until the context is cancelled, then
// performs one final flush.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.Flush()
			return
		case <-ticker.C:
			q.Flush()
		}
	}
}
