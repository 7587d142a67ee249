package ids

import (
	"sync"
	"testing"
)

func TestNewProducesValidUniqueIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("invalid id %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewConcurrent(t *testing.T) {
	const workers = 16
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("got %d unique ids, want %d", len(seen), workers*perWorker)
	}
}

func TestIsValidRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-an-id", "0000"} {
		if IsValid(s) {
			t.Fatalf("IsValid(%q) = true", s)
		}
	}
}
