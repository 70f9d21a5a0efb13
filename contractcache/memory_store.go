package contractcache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/go-ibclient/model"
)

// MemoryStore is an in-process Store backed by go-cache.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates a MemoryStore.
//
// Parameters:
//   - defaultExpiration: TTL applied when Set is called with ttl 0
//   - cleanupInterval: How often expired entries are purged
func NewMemoryStore(defaultExpiration, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.New(defaultExpiration, cleanupInterval)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]model.ContractDetails, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	val, found := s.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	details, ok := val.([]model.ContractDetails)
	return details, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, v []model.ContractDetails, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = cache.DefaultExpiration
	}
	s.cache.Set(key, v, ttl)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Delete(key)
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// Len implements Store. Expired entries not yet purged are counted.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.cache.ItemCount(), nil
}
