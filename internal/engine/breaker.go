package engine

import "sync"

// Breaker tracks the outcome of the most recent measurements in a sliding
// window and trips when too many of them failed. A tripped breaker tells the
// dispatcher to pause before handing out more work.
type Breaker struct {
	mu        sync.Mutex
	outcomes  []bool // true = failure
	next      int
	filled    bool
	size      int
	threshold float64
}

// NewBreaker creates a Breaker over the last size outcomes that trips when
// the failure rate reaches threshold.
func NewBreaker(size int, threshold float64) *Breaker {
	if size <= 0 {
		size = 10
	}
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Breaker{
		outcomes:  make([]bool, size),
		size:      size,
		threshold: threshold,
	}
}

// Record appends one outcome to the window.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes[b.next] = failed
	b.next++
	if b.next == b.size {
		b.next = 0
		b.filled = true
	}
}

// Tripped reports whether the window is full and its failure rate is at or
// above the threshold. A partially filled window never trips.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.filled {
		return false
	}
	failures := 0
	for _, failed := range b.outcomes {
		if failed {
			failures++
		}
	}
	return float64(failures)/float64(b.size) >= b.threshold
}

// Reset clears the window after a cooldown so stale failures do not trip the
// breaker again immediately.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.next = 0
	b.filled = false
}
