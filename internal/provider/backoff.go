package provider

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes full-jitter exponential delays: each attempt sleeps
// a uniform random duration in [0, min(cap, base*2^attempt)].
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff returns the pacing backoff policy: base 1s, cap 60s.
func NewBackoff() *Backoff {
	return NewBackoffSeeded(time.Now().UnixNano())
}

// NewBackoffSeeded returns a deterministic backoff for tests.
func NewBackoffSeeded(seed int64) *Backoff {
	return &Backoff{
		Base: time.Second,
		Cap:  60 * time.Second,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Delay returns the jittered delay for a zero-based attempt number.
func (b *Backoff) Delay(attempt int) time.Duration {
	ceiling := b.Base << uint(attempt)
	if ceiling > b.Cap || ceiling <= 0 {
		ceiling = b.Cap
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rng.Int63n(int64(ceiling) + 1))
}

// Sleep waits for the attempt's delay or until ctx is done.
func (b *Backoff) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
