package authorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avawsgw/internal/cache"
	"github.com/vyrodovalexey/avawsgw/internal/events"
)

// Entry is the authorization result cached for a connection.
type Entry struct {
	Identity   events.Identity `json:"identity"`
	Authorizer map[string]any  `json:"authorizer"`
}

// Store holds authorization entries keyed by connection id.
type Store interface {
	Get(ctx context.Context, connectionID string) (*Entry, bool, error)
	Set(ctx context.Context, connectionID string, entry *Entry) error
	Delete(ctx context.Context, connectionID string) error
}

// CacheStore is a Store backed by a cache backend.
type CacheStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStore creates a Store that JSON-encodes entries into c. A positive
// ttl bounds entries whose connection is never cleaned up; otherwise
// entries live until Delete.
func NewStore(c cache.Cache, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &CacheStore{cache: c, ttl: ttl}
}

// Get returns the entry for connectionID.
func (s *CacheStore) Get(ctx context.Context, connectionID string) (*Entry, bool, error) {
	raw, err := s.cache.Get(ctx, connectionID)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode authorizer entry for %s: %w", connectionID, err)
	}
	return &e, true, nil
}

// Set stores entry for connectionID.
func (s *CacheStore) Set(ctx context.Context, connectionID string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode authorizer entry for %s: %w", connectionID, err)
	}
	return s.cache.Set(ctx, connectionID, raw, s.ttl)
}

// Delete removes the entry for connectionID.
func (s *CacheStore) Delete(ctx context.Context, connectionID string) error {
	return s.cache.Delete(ctx, connectionID)
}
