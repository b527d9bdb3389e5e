package devrev

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestFingerprintSortsQueryParameters(t *testing.T) {
	a := Fingerprint("GET", "/works.list", url.Values{"limit": {"10"}, "cursor": {"abc"}})
	b := Fingerprint("GET", "/works.list", url.Values{"cursor": {"abc"}, "limit": {"10"}})
	if a != b {
		t.Errorf("parameter order should not matter: %q vs %q", a, b)
	}
}

func TestFingerprintDistinguishesRequests(t *testing.T) {
	base := Fingerprint("GET", "/works.list", nil)
	cases := []string{
		Fingerprint("POST", "/works.list", nil),
		Fingerprint("GET", "/works.get", nil),
		Fingerprint("GET", "/works.list", url.Values{"limit": {"10"}}),
	}
	for _, other := range cases {
		if other == base {
			t.Errorf("expected distinct fingerprint, both %q", base)
		}
	}
}

func TestFingerprintNormalizesMethodCase(t *testing.T) {
	if Fingerprint("get", "/x", nil) != Fingerprint("GET", "/x", nil) {
		t.Error("method casing should not split cache entries")
	}
}

func TestConditionalCacheSetGet(t *testing.T) {
	c := NewConditionalCache(100)
	entry := &CacheEntry{
		ETag:       `"v1"`,
		StatusCode: 200,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"ok":true}`),
		StoredAt:   time.Now(),
	}

	c.Set("k", entry)
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected entry")
	}
	if got.ETag != `"v1"` || string(got.Body) != `{"ok":true}` {
		t.Errorf("unexpected entry: %+v", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestConditionalCacheReturnsCopies(t *testing.T) {
	c := NewConditionalCache(100)
	c.Set("k", &CacheEntry{ETag: `"v1"`, Body: []byte("original")})

	got, _ := c.Get("k")
	got.Body[0] = 'X'
	got.ETag = `"mutated"`

	again, _ := c.Get("k")
	if string(again.Body) != "original" || again.ETag != `"v1"` {
		t.Error("mutating a returned entry must not affect the stored one")
	}
}

func TestConditionalCacheEvictsLeastRecentlyUsed(t *testing.T) {
	// Capacity below the shard count gives one entry per shard, so inserting
	// two keys landing in the same shard must evict the older one.
	c := NewConditionalCache(defaultCacheShards)

	var keyA, keyB string
	shardOf := func(k string) *cacheShard { return c.shard(k) }
	keyA = "key-0"
	for i := 1; i < 10000; i++ {
		k := fmt.Sprintf("key-%d", i)
		if shardOf(k) == shardOf(keyA) {
			keyB = k
			break
		}
	}
	if keyB == "" {
		t.Fatal("could not find two keys in the same shard")
	}

	c.Set(keyA, &CacheEntry{ETag: `"a"`})
	c.Set(keyB, &CacheEntry{ETag: `"b"`})

	if _, ok := c.Get(keyA); ok {
		t.Error("expected oldest entry evicted")
	}
	if _, ok := c.Get(keyB); !ok {
		t.Error("expected newest entry retained")
	}
}

func TestConditionalCacheDeleteAndClear(t *testing.T) {
	c := NewConditionalCache(100)
	c.Set("a", &CacheEntry{ETag: `"a"`})
	c.Set("b", &CacheEntry{ETag: `"b"`})

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected deleted entry gone")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
}

func TestAttachConditionalHeaders(t *testing.T) {
	req, _ := http.NewRequest("GET", "https://api.example.com/works.list", nil)
	attachConditionalHeaders(req, &CacheEntry{
		ETag:         `"v3"`,
		LastModified: "Mon, 02 Jan 2006 15:04:05 GMT",
	})

	if got := req.Header.Get("If-None-Match"); got != `"v3"` {
		t.Errorf("If-None-Match = %q", got)
	}
	if got := req.Header.Get("If-Modified-Since"); got == "" {
		t.Error("expected If-Modified-Since set")
	}

	bare, _ := http.NewRequest("GET", "https://api.example.com/works.list", nil)
	attachConditionalHeaders(bare, nil)
	if len(bare.Header) != 0 {
		t.Error("nil entry must not add headers")
	}
}

func TestEntryFromResponse(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		Header:     http.Header{"Etag": {`"v1"`}},
		Body:       []byte("body"),
	}
	entry := entryFromResponse(resp)
	if entry == nil {
		t.Fatal("expected entry for 2xx with validator")
	}
	if entry.ETag != `"v1"` || string(entry.Body) != "body" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	if entryFromResponse(&Response{StatusCode: 200, Header: http.Header{}}) != nil {
		t.Error("response without validators should not be cached")
	}
	if entryFromResponse(&Response{StatusCode: 500, Header: http.Header{"Etag": {`"v1"`}}}) != nil {
		t.Error("non-2xx response should not be cached")
	}
}
