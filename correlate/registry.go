// Package correlate keeps the client's request bookkeeping: collectors
// waiting for replies to a request id, and the set of live streaming
// subscriptions.
package correlate

import "sync"

// Registry is a concurrent map from a correlation key to its pending state.
// It wraps sync.Map and exposes a generic, type-safe API.
//
// Registry must not be copied after first use. Len is O(n).
type Registry[K comparable, V any] struct {
	m sync.Map
}

// NewRegistry returns an empty Registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{}
}

// Store sets the value for key k, replacing any existing value.
func (r *Registry[K, V]) Store(k K, v V) {
	r.m.Store(k, v)
}

// Load returns the value for key k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (r *Registry[K, V]) Load(k K) (V, bool) {
	v, found := r.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Take removes the entry for k and returns it. Exactly one of several
// concurrent callers observes a given entry.
func (r *Registry[K, V]) Take(k K) (V, bool) {
	v, found := r.m.LoadAndDelete(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Delete removes the entry for k. Deleting a missing key is a no-op.
func (r *Registry[K, V]) Delete(k K) {
	r.m.Delete(k)
}

// Range calls f for each entry until f returns false.
func (r *Registry[K, V]) Range(f func(k K, v V) bool) {
	r.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	n := 0
	r.Range(func(K, V) bool {
		n++
		return true
	})

	return n
}

// Clear removes every entry.
func (r *Registry[K, V]) Clear() {
	r.m.Clear()
}
