package store

import "sync"

// Default retention bounds. Whale trades are comparatively rare and more
// valuable to retain, so the whale buffer keeps a longer history than the
// canonical log.
const (
	DefaultMaxTrades = 200
	DefaultMaxWhales = 2000
)

// Log is the canonical, bounded, newest-first, deduplicated trade list plus
// a dedicated whale retention buffer. It is the single shared structure
// between the ingestion path (writer) and the aggregation/view paths
// (readers); readers always get snapshot copies.
type Log struct {
	mu        sync.RWMutex
	maxTrades int
	maxWhales int

	trades []Trade // newest-first
	whales []Trade // newest-first

	paused  bool
	pending []Trade // trades diverted while paused, newest-first
}

// NewLog creates a trade log with the given retention bounds.
// Non-positive bounds fall back to the defaults.
func NewLog(maxTrades, maxWhales int) *Log {
	if maxTrades <= 0 {
		maxTrades = DefaultMaxTrades
	}
	if maxWhales <= 0 {
		maxWhales = DefaultMaxWhales
	}
	return &Log{
		maxTrades: maxTrades,
		maxWhales: maxWhales,
	}
}

// Merge prepends a flushed batch to the canonical log, deduplicates by trade
// identity (first occurrence wins, which keeps the newest-flushed copy) and
// truncates to the retention bound. Batch order is preserved. While paused,
// the batch is diverted to the pending list instead.
func (l *Log) Merge(batch []Trade) {
	if len(batch) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		l.pending = append(append([]Trade{}, batch...), l.pending...)
		return
	}

	l.trades = dedupe(batch, l.trades, l.maxTrades)
}

// AddWhale retains a whale trade in the dedicated whale buffer.
func (l *Log) AddWhale(t Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.whales = dedupe([]Trade{t}, l.whales, l.maxWhales)
}

// Pause diverts subsequently merged trades into the pending list.
func (l *Log) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

// Resume merges the pending trades newest-first ahead of the pre-pause log
// and resets the pending counter.
func (l *Log) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.paused = false
	if len(l.pending) > 0 {
		l.trades = dedupe(l.pending, l.trades, l.maxTrades)
		l.pending = nil
	}
}

// Paused reports whether the log is currently paused.
func (l *Log) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

// PendingCount returns the number of trades queued while paused.
func (l *Log) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Snapshot returns a copy of the canonical log, newest-first.
func (l *Log) Snapshot() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Trade{}, l.trades...)
}

// Whales returns a copy of the whale buffer, newest-first.
func (l *Log) Whales() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Trade{}, l.whales...)
}

// Len returns the current canonical log size.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// PatchImages attaches display images to trades that are missing one, using
// the supplied resolver. This is the only permitted post-ingestion mutation.
// Returns the number of trades patched.
func (l *Log) PatchImages(resolve func(slug, conditionID string) (string, bool)) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	patched := 0
	for _, buf := range [][]Trade{l.trades, l.whales, l.pending} {
		for i := range buf {
			if buf[i].Image != "" {
				continue
			}
			if img, ok := resolve(buf[i].Slug, buf[i].ConditionID); ok && img != "" {
				buf[i].Image = img
				patched++
			}
		}
	}
	return patched
}

// dedupe prepends batch to rest, keeps the first occurrence of each trade
// identity and truncates to max entries.
func dedupe(batch, rest []Trade, max int) []Trade {
	out := make([]Trade, 0, len(batch)+len(rest))
	seen := make(map[string]struct{}, len(batch)+len(rest))

	for _, list := range [][]Trade{batch, rest} {
		for _, t := range list {
			id := t.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, t)
			if len(out) == max {
				return out
			}
		}
	}
	return out
}
