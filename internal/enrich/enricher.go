// Package enrich resolves auxiliary display metadata (market imagery) for
// ingested trades through a batched, debounced side-channel lookup.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Batching bounds. Per-trade lookups at stream volume would overwhelm the
// metadata source; coalescing bounds both latency and request volume.
const (
	// BatchSize triggers an immediate flush when this many keys are pending.
	BatchSize = 20
	// Debounce flushes a smaller batch this long after its first key.
	Debounce = 1 * time.Second
	// RequestTimeout bounds one upstream lookup.
	RequestTimeout = 10 * time.Second
)

// Patcher rescans ingested trades and fills in images that the given
// resolver can now answer. Satisfied by store.Log.
type Patcher interface {
	PatchImages(resolve func(slug, conditionID string) (string, bool)) int
}

// marketRecord is one entry of the metadata collaborator's response.
// Absence of an image is a valid no-image answer, not an error.
type marketRecord struct {
	Slug        string `json:"slug"`
	MarketSlug  string `json:"marketSlug"`
	EventSlug   string `json:"eventSlug"`
	ConditionID string `json:"conditionId"`
	Image       string `json:"image"`
}

// lookupRequest is the upstream batch request body.
type lookupRequest struct {
	ConditionIDs []string `json:"conditionIds,omitempty"`
	EventSlugs   []string `json:"eventSlugs,omitempty"`
}

// lookupResponse is the upstream batch response body.
type lookupResponse struct {
	Markets []marketRecord `json:"markets"`
}

// Enricher owns the image cache, keyed by both market slug and condition
// id. Cache entries only transition from absent to present (positive or
// negative), never retracted, which keeps concurrent reads safe.
type Enricher struct {
	endpoint string
	client   *http.Client
	patcher  Patcher

	mu           sync.Mutex
	cache        map[string]string // key -> image URL; present-but-empty is the negative marker
	pendingSlugs map[string]struct{}
	pendingConds map[string]struct{}
	timer        *time.Timer
	requests     int64
}

// New creates an enricher against the given metadata endpoint. Resolved
// batches are patched back into the given trade buffers.
func New(endpoint string, patcher Patcher) *Enricher {
	return &Enricher{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: RequestTimeout},
		patcher:      patcher,
		cache:        make(map[string]string),
		pendingSlugs: make(map[string]struct{}),
		pendingConds: make(map[string]struct{}),
	}
}

// Resolve answers from the cache by either key. The second return is false
// while the key is still unknown; a cached lookup failure answers true with
// an empty image.
func (e *Enricher) Resolve(slug, conditionID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if slug != "" {
		if img, ok := e.cache[slugKey(slug)]; ok {
			return img, true
		}
	}
	if conditionID != "" {
		if img, ok := e.cache[condKey(conditionID)]; ok {
			return img, true
		}
	}
	return "", false
}

// Request queues a metadata lookup for the given keys. Already-cached and
// already-pending keys are skipped, so repeated requests for the same
// market never trigger extra upstream traffic. A full batch flushes
// immediately; otherwise the debounce timer runs from the first pending key.
func (e *Enricher) Request(slug, conditionID string) {
	e.mu.Lock()

	queued := false
	if slug != "" {
		if _, cached := e.cache[slugKey(slug)]; !cached {
			if _, dup := e.pendingSlugs[slug]; !dup {
				e.pendingSlugs[slug] = struct{}{}
				queued = true
			}
		}
	}
	if conditionID != "" {
		if _, cached := e.cache[condKey(conditionID)]; !cached {
			if _, dup := e.pendingConds[conditionID]; !dup {
				e.pendingConds[conditionID] = struct{}{}
				queued = true
			}
		}
	}

	if !queued {
		e.mu.Unlock()
		return
	}

	pending := len(e.pendingSlugs) + len(e.pendingConds)
	if pending >= BatchSize {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
		e.Flush()
		return
	}

	if e.timer == nil {
		e.timer = time.AfterFunc(Debounce, e.Flush)
	}
	e.mu.Unlock()
}

// Flush resolves the pending batch synchronously: one upstream request,
// cache fill (negative markers for unanswered keys), then a rescan of the
// ingested trades to patch newly resolvable images.
func (e *Enricher) Flush() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	slugs := keys(e.pendingSlugs)
	conds := keys(e.pendingConds)
	e.pendingSlugs = make(map[string]struct{})
	e.pendingConds = make(map[string]struct{})
	e.mu.Unlock()

	if len(slugs) == 0 && len(conds) == 0 {
		return
	}

	records, err := e.lookup(slugs, conds)
	if err != nil {
		// Failed lookups are negative-cached and never retried this
		// process; display falls back to a placeholder.
		slog.Warn("metadata_lookup_failed", "error", err, "keys", len(slugs)+len(conds))
	}

	e.mu.Lock()
	for _, rec := range records {
		for _, s := range []string{rec.Slug, rec.MarketSlug, rec.EventSlug} {
			if s != "" {
				e.cache[slugKey(s)] = rec.Image
			}
		}
		if rec.ConditionID != "" {
			e.cache[condKey(rec.ConditionID)] = rec.Image
		}
	}
	for _, s := range slugs {
		if _, ok := e.cache[slugKey(s)]; !ok {
			e.cache[slugKey(s)] = ""
		}
	}
	for _, c := range conds {
		if _, ok := e.cache[condKey(c)]; !ok {
			e.cache[condKey(c)] = ""
		}
	}
	e.mu.Unlock()

	if e.patcher != nil {
		if patched := e.patcher.PatchImages(e.Resolve); patched > 0 {
			slog.Debug("trades_enriched", "count", patched)
		}
	}
}

// lookup performs one batched upstream request.
func (e *Enricher) lookup(slugs, conds []string) ([]marketRecord, error) {
	e.mu.Lock()
	e.requests++
	e.mu.Unlock()

	body, err := json.Marshal(lookupRequest{ConditionIDs: conds, EventSlugs: slugs})
	if err != nil {
		return nil, fmt.Errorf("marshal lookup request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request: unexpected status %d", resp.StatusCode)
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}
	return decoded.Markets, nil
}

// Requests returns the number of upstream lookups performed.
func (e *Enricher) Requests() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

func slugKey(s string) string { return "slug:" + s }
func condKey(c string) string { return "cond:" + c }

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
