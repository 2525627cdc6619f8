package service

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff yields exponentially growing, jittered delays after failed ticks.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	mu      sync.Mutex
	attempt int
	rnd     *rand.Rand
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns the delay for the next retry: half the capped exponential
// step plus a random share of the other half.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.Base << uint(b.attempt)
	if d <= 0 || d > b.Max {
		d = b.Max
	} else {
		b.attempt++
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(b.rnd.Int63n(int64(half)+1))
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
