package checksum

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of a cache entry.
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
)

// Entry is the cached checksum state of one URI. CRC32 is meaningful only
// when State is StateDone, and only for the ETag it was computed against.
type Entry struct {
	State State  `json:"state"`
	ETag  string `json:"etag,omitempty"`
	CRC32 uint32 `json:"crc32"`
}

// Matches reports whether e holds a finished checksum for etag.
func (e *Entry) Matches(etag string) bool {
	return e != nil && e.State == StateDone && e.ETag == etag
}

// Cache stores checksum entries keyed by URI.
//
// A key moves from absent to pending when a caller claims it, then to done
// once the checksum is stored. Failed computations release the claim, and
// claims expire after ClaimTTL if their owner disappears.
type Cache struct {
	store    Store
	claimTTL time.Duration
	entryTTL time.Duration
}

// NewCache creates a Cache over store.
func NewCache(store Store, claimTTL, entryTTL time.Duration) *Cache {
	return &Cache{store: store, claimTTL: claimTTL, entryTTL: entryTTL}
}

// ClaimTTL returns how long a pending claim lives.
func (c *Cache) ClaimTTL() time.Duration {
	return c.claimTTL
}

// Lookup reads the entries for uris in one round trip. Missing keys are nil.
func (c *Cache) Lookup(ctx context.Context, uris []string) ([]*Entry, error) {
	vals, err := c.store.MGet(ctx, uris...)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, len(uris))
	for i := range uris {
		if i < len(vals) {
			entries[i] = decodeEntry(vals[i])
		}
	}
	return entries, nil
}

// Get reads the entry for uri; nil when absent.
func (c *Cache) Get(ctx context.Context, uri string) (*Entry, error) {
	val, err := c.store.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	return decodeEntry(val), nil
}

// Claim marks uri pending if it has no entry and reports whether the
// caller now owns the computation.
func (c *Cache) Claim(ctx context.Context, uri string) (bool, error) {
	val, err := json.Marshal(Entry{State: StatePending})
	if err != nil {
		return false, err
	}
	return c.store.SetNX(ctx, uri, val, c.claimTTL)
}

// Done stores a finished checksum for uri at etag.
func (c *Cache) Done(ctx context.Context, uri, etag string, crc uint32) error {
	val, err := json.Marshal(Entry{State: StateDone, ETag: etag, CRC32: crc})
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, uri, val, c.entryTTL); err != nil {
		return fmt.Errorf("store checksum for %s: %w", uri, err)
	}
	return nil
}

// Release deletes the entry for uri.
func (c *Cache) Release(ctx context.Context, uri string) error {
	return c.store.Del(ctx, uri)
}

// decodeEntry returns nil for a missing value. Undecodable values come back
// as an entry with no state, which callers treat as stale.
func decodeEntry(val []byte) *Entry {
	if val == nil {
		return nil
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return &Entry{}
	}
	return &e
}
