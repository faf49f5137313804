// Package cache bounds the in-process key-metadata cache using
// hashicorp/golang-lru, the concrete backing for the "cache sizing" line of
// the configuration surface (spec.md §2, §4.12 of SPEC_FULL.md).
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// entryOverheadBytes approximates the resident cost of one cached key-row
// (id, type, ttl, small name) so a megabyte budget turns into an entry
// count without the cache needing to track real heap usage.
const entryOverheadBytes = 256

// dbKey is the composite cache key: (logical database, key name).
type dbKey struct {
	db   int
	name string
}

// Entry is the cached subset of keys.Row callers need to skip a lookup.
type Entry struct {
	ID       int64
	Type     int
	ExpireAt int64 // 0 means no TTL
	Version  int64
}

// KeyCache is a bounded, concurrency-safe cache of key metadata. It is
// advisory only: every write path still updates SQLite as the source of
// truth, and Invalidate is called on every mutation so the cache can never
// serve stale data past a write it witnessed.
type KeyCache struct {
	lru *lru.Cache[dbKey, Entry]
}

// New sizes the cache from a megabyte budget, matching --cache-mb.
func New(cacheMB int64) (*KeyCache, error) {
	entries := int(cacheMB * 1024 * 1024 / entryOverheadBytes)
	if entries < 64 {
		entries = 64
	}
	l, err := lru.New[dbKey, Entry](entries)
	if err != nil {
		return nil, err
	}
	return &KeyCache{lru: l}, nil
}

func (c *KeyCache) Get(db int, name string) (Entry, bool) {
	return c.lru.Get(dbKey{db, name})
}

func (c *KeyCache) Put(db int, name string, e Entry) {
	c.lru.Add(dbKey{db, name}, e)
}

func (c *KeyCache) Invalidate(db int, name string) {
	c.lru.Remove(dbKey{db, name})
}

func (c *KeyCache) Purge() {
	c.lru.Purge()
}
