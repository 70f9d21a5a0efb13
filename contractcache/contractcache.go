// Package contractcache caches contract details answers so repeated lookups
// of the same contract do not hit the gateway. Stores are pluggable: an
// in-process go-cache store and a Redis store are provided.
package contractcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cyberinferno/go-ibclient/model"
)

// FetchFunc retrieves contract details from the gateway on a cache miss.
type FetchFunc func(ctx context.Context) ([]model.ContractDetails, error)

// Store persists contract details by key.
type Store interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]model.ContractDetails, bool, error)

	// Set stores v under key. A ttl of 0 uses the store default.
	Set(ctx context.Context, key string, v []model.ContractDetails, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by the store.
	Clear(ctx context.Context) error

	Len(ctx context.Context) (int, error)
}

// Lookup serves contract details from a Store and collapses concurrent
// misses for the same contract into a single fetch.
type Lookup struct {
	store Store
	ttl   time.Duration
	group singleflight.Group
}

// NewLookup creates a Lookup over store. Entries are kept for ttl.
func NewLookup(store Store, ttl time.Duration) *Lookup {
	return &Lookup{store: store, ttl: ttl}
}

// Store returns the underlying store.
func (l *Lookup) Store() Store {
	return l.store
}

// Get returns the details for contract, calling fetch at most once per key
// among concurrent callers when the store has no entry. Fetch errors are
// returned to every waiting caller and are not cached.
//
// Parameters:
//   - ctx: Context for store access and the fetch
//   - contract: The contract to resolve; its Key() is the cache key
//   - fetch: Called on a miss
//
// Returns:
//   - The cached or freshly fetched details
//   - An error from the store or the fetch
func (l *Lookup) Get(ctx context.Context, contract model.Contract, fetch FetchFunc) ([]model.ContractDetails, error) {
	key := contract.Key()

	if v, found, err := l.store.Get(ctx, key); err != nil {
		return nil, err
	} else if found {
		return v, nil
	}

	val, err, _ := l.group.Do(key, func() (any, error) {
		if v, found, err := l.store.Get(ctx, key); err == nil && found {
			return v, nil
		}

		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if err := l.store.Set(ctx, key, fetched, l.ttl); err != nil {
			return nil, fmt.Errorf("failed to cache contract details: %w", err)
		}

		return fetched, nil
	})
	if err != nil {
		return nil, err
	}

	details, ok := val.([]model.ContractDetails)
	if !ok {
		return nil, fmt.Errorf("unexpected type in cache for key %s", key)
	}

	return details, nil
}

// Invalidate drops the cached entry for contract.
func (l *Lookup) Invalidate(ctx context.Context, contract model.Contract) error {
	return l.store.Delete(ctx, contract.Key())
}
