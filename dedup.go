package devrev

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// dedupEntry represents an in-flight request shared between callers. The
// owner executes the request; everyone else waits on done and receives a
// copy of the outcome.
type dedupEntry struct {
	resp *Response
	err  error
	done chan struct{}

	mu      sync.Mutex
	waiters int
}

// DedupTracker coalesces identical concurrent idempotent requests onto a
// single network call. Entries live only while the owning call is in flight,
// plus a short grace period for late joiners.
type DedupTracker struct {
	mu      sync.RWMutex
	entries map[string]*dedupEntry
}

// NewDedupTracker returns an in-memory tracker.
func NewDedupTracker() *DedupTracker {
	return &DedupTracker{
		entries: make(map[string]*dedupEntry),
	}
}

// getOrCreate returns the entry for key. The second return is true when the
// caller is the owner and must execute the request and call complete.
func (dt *DedupTracker) getOrCreate(key string) (*dedupEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &dedupEntry{
		done:    make(chan struct{}),
		waiters: 1,
	}
	dt.entries[key] = entry
	return entry, true
}

// complete publishes the outcome to all waiters and schedules entry removal.
func (dt *DedupTracker) complete(key string, resp *Response, err error) {
	dt.mu.Lock()
	entry, exists := dt.entries[key]
	dt.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	entry.resp = resp
	entry.err = err
	close(entry.done)
	entry.mu.Unlock()

	time.AfterFunc(100*time.Millisecond, func() {
		dt.mu.Lock()
		delete(dt.entries, key)
		dt.mu.Unlock()
	})
}

// wait blocks until the owner completes or ctx cancels. Each waiter gets its
// own copy of the response so bodies and headers can be mutated freely.
func (entry *dedupEntry) wait(ctx context.Context) (*Response, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		resp := entry.resp
		err := entry.err
		entry.mu.Unlock()
		return resp.clone(), err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dedupKey builds the coalescing key from the request fingerprint plus a body
// hash for requests that carry one. Two requests coalesce only if they would
// hit the same resource with the same payload.
func dedupKey(req *Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.fingerprint()))

	if len(req.Body) > 0 {
		sum := sha256.Sum256(req.Body)
		h.Write(sum[:])
	}

	return fmt.Sprintf("%x", h.Sum64())
}
