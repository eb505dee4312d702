package status

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/model/widget"
)

// Cache stores resolved gating states by scoped key. Only active and
// inactive are ever stored.
type Cache interface {
	Get(key string) (widget.GatingState, bool)
	Put(key string, state widget.GatingState)
}

// MemoryCache keeps entries in a bounded LRU with a TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, widget.GatingState]
}

// NewMemoryCache returns a cache holding up to size entries for ttl each.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 4096
	}
	return &MemoryCache{lru: expirable.NewLRU[string, widget.GatingState](size, nil, ttl)}
}

func (c *MemoryCache) Get(key string) (widget.GatingState, bool) {
	state, ok := c.lru.Get(key)
	if !ok || !cacheable(state) {
		return "", false
	}
	return state, true
}

func (c *MemoryCache) Put(key string, state widget.GatingState) {
	if !cacheable(state) {
		return
	}
	c.lru.Add(key, state)
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

type pebbleEntry struct {
	State     widget.GatingState `json:"state"`
	ExpiresAt int64              `json:"expiresAt"`
}

// PebbleCache persists entries so a restart keeps already-resolved tabs.
type PebbleCache struct {
	db  *pebble.DB
	ttl time.Duration
	now func() time.Time
}

// OpenPebbleCache opens (or creates) the cache database under dir.
func OpenPebbleCache(dir string, ttl time.Duration) (*PebbleCache, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open status cache: %w", err)
	}
	return &PebbleCache{db: db, ttl: ttl, now: time.Now}, nil
}

func (c *PebbleCache) Get(key string) (widget.GatingState, bool) {
	data, closer, err := c.db.Get([]byte(key))
	if err != nil {
		if err != pebble.ErrNotFound {
			log.Warn().Err(err).Str("key", key).Msg("[status] cache read failed")
		}
		return "", false
	}
	defer closer.Close()

	var entry pebbleEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false
	}
	if !cacheable(entry.State) {
		return "", false
	}
	if c.ttl > 0 && c.now().UnixNano() > entry.ExpiresAt {
		if err := c.db.Delete([]byte(key), pebble.NoSync); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("[status] expired entry not removed")
		}
		return "", false
	}
	return entry.State, true
}

func (c *PebbleCache) Put(key string, state widget.GatingState) {
	if !cacheable(state) {
		return
	}
	entry := pebbleEntry{State: state}
	if c.ttl > 0 {
		entry.ExpiresAt = c.now().Add(c.ttl).UnixNano()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.db.Set([]byte(key), data, pebble.Sync); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[status] cache write failed")
	}
}

// Close releases the database.
func (c *PebbleCache) Close() error {
	return c.db.Close()
}

// cacheable admits remote outcomes only. Preview depends on the page, not the account.
func cacheable(state widget.GatingState) bool {
	return state.Valid() && state != widget.GatingPreview
}
