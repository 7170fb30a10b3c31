package supervisor

import (
	"context"
	"sync"
)

// Latch is a write-once completion cell. The first Set wins; every reader,
// early or late, observes the same value.
type Latch struct {
	mu   sync.Mutex
	done chan struct{}
	set  bool
	err  error
}

func NewLatch() *Latch { return &Latch{done: make(chan struct{})} }

// Set publishes err (nil means success). It reports false if a value was
// already published.
func (l *Latch) Set(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return false
	}
	l.set = true
	l.err = err
	close(l.done)
	return true
}

// Done is closed once a value has been published.
func (l *Latch) Done() <-chan struct{} { return l.done }

// Result reports whether a value was published and what it is.
func (l *Latch) Result() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set, l.err
}

// Wait blocks until a value is published or ctx ends.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		_, err := l.Result()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
