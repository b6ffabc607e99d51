package application

import (
	"sync"
	"time"
)

const (
	InitialReconnectDelay = 1 * time.Second
	MaxReconnectDelay     = 16 * time.Second
)

// Backoff hands out reconnect delays: 1s, 2s, 4s, 8s, 16s, 16s, ...
type Backoff struct {
	initial time.Duration
	max     time.Duration

	current  time.Duration
	attempts int

	mu sync.Mutex
}

func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = InitialReconnectDelay
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the delay to wait before the next attempt and doubles the
// following one, up to the cap.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	b.attempts++

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return delay
}

// Reset is called after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
