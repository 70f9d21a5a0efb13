// Package reqid allocates the correlation ids that tie outbound requests to
// the gateway's responses.
package reqid

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrNotSeeded is returned by Next before the gateway has provided a seed.
var ErrNotSeeded = errors.New("request id allocator not seeded")

// Allocator hands out strictly increasing request ids for one connection.
// The gateway provides the starting value (its "next valid id"); every
// correlated request consumes exactly one id. It is safe for concurrent use.
type Allocator struct {
	next   atomic.Int64
	seeded atomic.Bool

	mu    sync.Mutex
	ready chan struct{}
}

// NewAllocator creates an unseeded Allocator. Next fails with ErrNotSeeded
// until Seed is called.
func NewAllocator() *Allocator {
	return &Allocator{ready: make(chan struct{})}
}

// Seed sets the next id to be returned. Seeds that would move the counter
// backwards are ignored, so ids already handed out are never reused.
//
// Parameters:
//   - v: The next id as reported by the gateway
//
// Returns:
//   - true if the counter was moved to v
func (a *Allocator) Seed(v int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seeded.Load() {
		for {
			cur := a.next.Load()
			if v <= cur {
				return false
			}
			if a.next.CompareAndSwap(cur, v) {
				return true
			}
		}
	}

	a.next.Store(v)
	a.seeded.Store(true)
	close(a.ready)
	return true
}

// Next returns the next id and advances the counter by one.
//
// Returns:
//   - The allocated id
//   - ErrNotSeeded if the gateway has not provided a seed yet
func (a *Allocator) Next() (int64, error) {
	if !a.seeded.Load() {
		return 0, ErrNotSeeded
	}

	return a.next.Add(1) - 1, nil
}

// Current returns the id the next call to Next would return, and false
// before the allocator is seeded.
func (a *Allocator) Current() (int64, bool) {
	if !a.seeded.Load() {
		return 0, false
	}

	return a.next.Load(), true
}

// Seeded returns a channel that is closed once the first seed arrives.
func (a *Allocator) Seeded() <-chan struct{} {
	return a.ready
}
