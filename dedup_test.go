package devrev

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestDedupTrackerOwnership(t *testing.T) {
	dt := NewDedupTracker()

	_, owner := dt.getOrCreate("k")
	if !owner {
		t.Fatal("first caller should own the entry")
	}
	_, owner = dt.getOrCreate("k")
	if owner {
		t.Fatal("second caller should join, not own")
	}
}

func TestDedupTrackerWaitersReceiveCopies(t *testing.T) {
	dt := NewDedupTracker()

	entry, _ := dt.getOrCreate("k")
	joined, _ := dt.getOrCreate("k")
	if entry != joined {
		t.Fatal("same key should share one entry")
	}

	var wg sync.WaitGroup
	results := make([]*Response, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := entry.wait(context.Background())
			if err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			results[i] = resp
		}(i)
	}

	dt.complete("k", &Response{StatusCode: 200, Body: []byte("shared")}, nil)
	wg.Wait()

	if results[0] == results[1] {
		t.Error("waiters must get distinct response copies")
	}
	results[0].Body[0] = 'X'
	if string(results[1].Body) != "shared" {
		t.Error("mutating one copy must not affect another")
	}
}

func TestDedupTrackerWaitHonorsContext(t *testing.T) {
	dt := NewDedupTracker()
	entry, _ := dt.getOrCreate("k")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := entry.wait(ctx); err == nil {
		t.Error("wait should fail when the context expires")
	}
}

func TestDedupTrackerEntryExpiresAfterCompletion(t *testing.T) {
	dt := NewDedupTracker()
	dt.getOrCreate("k")
	dt.complete("k", &Response{StatusCode: 200}, nil)

	time.Sleep(150 * time.Millisecond)

	_, owner := dt.getOrCreate("k")
	if !owner {
		t.Error("a new caller after expiry should own a fresh entry")
	}
}

func TestDedupKeyDiscriminatesBody(t *testing.T) {
	a := dedupKey(&Request{Method: http.MethodPost, Path: "/works.create", Body: []byte(`{"a":1}`)})
	b := dedupKey(&Request{Method: http.MethodPost, Path: "/works.create", Body: []byte(`{"a":2}`)})
	if a == b {
		t.Error("different bodies must not coalesce")
	}

	c1 := dedupKey(&Request{Method: http.MethodGet, Path: "/works.list"})
	c2 := dedupKey(&Request{Method: http.MethodGet, Path: "/works.list"})
	if c1 != c2 {
		t.Error("identical requests should share a key")
	}
}
