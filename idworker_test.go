package samsa

import (
	"sync"
	"testing"
)

func TestIdWorkerIncreasing(t *testing.T) {
	w := MakeIdWorker(3)
	last := int64(-1)
	for i := 0; i < 10000; i++ {
		id := w.NextId()
		if id <= last {
			t.Fatalf("id %d after %d", id, last)
		}
		if (id>>workerIdShift)&maxWorkerId != 3 {
			t.Fatalf("id %d does not carry worker 3", id)
		}
		last = id
	}
}

func TestIdWorkerClockBackwards(t *testing.T) {
	w := MakeIdWorker(1)
	now := idEpoch + 5000
	w.now = func() int64 { return now }

	a := w.NextId()
	now -= 1000
	b := w.NextId()
	if b <= a {
		t.Fatalf("id went backwards with the clock: %d then %d", a, b)
	}
}

func TestIdWorkerSequenceOverflow(t *testing.T) {
	w := MakeIdWorker(1)
	w.now = func() int64 { return idEpoch + 42 }

	seen := map[int64]bool{}
	last := int64(-1)
	for i := 0; i < 3*(sequenceMask+1); i++ {
		id := w.NextId()
		if seen[id] || id <= last {
			t.Fatalf("duplicate or decreasing id %d at %d", id, i)
		}
		seen[id] = true
		last = id
	}
}

func TestIdWorkerConcurrent(t *testing.T) {
	w := MakeIdWorker(0)
	const n = 8
	const per = 2000

	var mu sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for g := 0; g < n; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, per)
			for i := range ids {
				ids[i] = w.NextId()
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n*per {
		t.Fatalf("%d distinct ids, want %d", len(seen), n*per)
	}
}
