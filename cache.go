package devrev

import (
	"container/list"
	"hash/fnv"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// CacheEntry is a stored response eligible for conditional revalidation. The
// body is the full representation last returned with a 2xx; a later 304
// serves this body back to the caller.
type CacheEntry struct {
	ETag          string
	LastModified  string
	StatusCode    int
	Header        http.Header
	Body          []byte
	StoredAt      time.Time
	LastValidated time.Time
}

// clone returns a deep copy so callers can mutate headers and body freely.
func (e *CacheEntry) clone() *CacheEntry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Header = e.Header.Clone()
	cp.Body = append([]byte(nil), e.Body...)
	return &cp
}

// Fingerprint identifies a cacheable request: method, path and query
// parameters in sorted order, so that parameter ordering does not split cache
// entries.
func Fingerprint(method, path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(path)

	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('?')
		for i, k := range keys {
			values := append([]string(nil), query[k]...)
			sort.Strings(values)
			for j, v := range values {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(k)
				b.WriteByte('=')
				b.WriteString(v)
			}
		}
	}

	return b.String()
}

// FingerprintRequest derives the fingerprint from an http.Request.
func FingerprintRequest(req *http.Request) string {
	if req.URL == nil {
		return strings.ToUpper(req.Method) + ":"
	}
	return Fingerprint(req.Method, req.URL.Path, req.URL.Query())
}

// Cache stores validated responses keyed by request fingerprint.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry)
	Delete(key string)
	Clear()
	Len() int
}

const defaultCacheShards = 16

// ConditionalCache is a sharded in-memory LRU keyed by request fingerprint.
// Sharding reduces mutex contention under concurrent load; each shard evicts
// its own least-recently-used entry when full.
type ConditionalCache struct {
	shards    []*cacheShard
	shardMask uint32
}

type cacheShard struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

type cacheItem struct {
	key   string
	entry *CacheEntry
}

// NewConditionalCache creates a cache holding at most maxEntries entries
// across all shards.
func NewConditionalCache(maxEntries int) *ConditionalCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	shardCount := defaultCacheShards
	perShard := maxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]*cacheShard, shardCount)
	for i := range shards {
		shards[i] = &cacheShard{
			entries:    make(map[string]*list.Element),
			order:      list.New(),
			maxEntries: perShard,
		}
	}

	return &ConditionalCache{
		shards:    shards,
		shardMask: uint32(shardCount - 1),
	}
}

func (c *ConditionalCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()&c.shardMask]
}

// Get returns a copy of the entry for key, if present.
func (c *ConditionalCache) Get(key string) (*CacheEntry, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(elem)
	return elem.Value.(*cacheItem).entry.clone(), true
}

// Set stores an entry for key, evicting the least-recently-used entry in the
// shard when it is full.
func (c *ConditionalCache) Set(key string, entry *CacheEntry) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		elem.Value.(*cacheItem).entry = entry.clone()
		s.order.MoveToFront(elem)
		return
	}

	if s.order.Len() >= s.maxEntries {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*cacheItem).key)
		}
	}

	s.entries[key] = s.order.PushFront(&cacheItem{key: key, entry: entry.clone()})
}

// Delete removes the entry for key.
func (c *ConditionalCache) Delete(key string) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.order.Remove(elem)
		delete(s.entries, key)
	}
}

// Clear removes all entries.
func (c *ConditionalCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]*list.Element)
		s.order.Init()
		s.mu.Unlock()
	}
}

// Len returns the total number of cached entries.
func (c *ConditionalCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.order.Len()
		s.mu.Unlock()
	}
	return total
}

// attachConditionalHeaders adds If-None-Match and If-Modified-Since from a
// stored entry to an outgoing request.
func attachConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry == nil {
		return
	}
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
	if entry.LastModified != "" {
		req.Header.Set("If-Modified-Since", entry.LastModified)
	}
}

// entryFromResponse builds a cache entry from a validated 2xx response.
// Responses without a validator are not cacheable and yield nil.
func entryFromResponse(resp *Response) *CacheEntry {
	if resp == nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}
	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if etag == "" && lastModified == "" {
		return nil
	}
	now := time.Now()
	return &CacheEntry{
		ETag:          etag,
		LastModified:  lastModified,
		StatusCode:    resp.StatusCode,
		Header:        resp.Header.Clone(),
		Body:          append([]byte(nil), resp.Body...),
		StoredAt:      now,
		LastValidated: now,
	}
}
