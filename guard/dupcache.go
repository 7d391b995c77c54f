package guard

import (
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// dupCache remembers content hashes of recently guarded payloads. The hash
// covers only a fixed-size prefix of the encoded payload, so distinct large
// payloads sharing a prefix can collide; the prefix keeps hashing cheap for
// high-frequency events and collisions only cause a skipped derivation.
type dupCache struct {
	ttl     time.Duration
	prefix  int
	entries *lru.Cache[uint64, time.Time]
}

func newDupCache(size, prefix int, ttl time.Duration) *dupCache {
	entries, err := lru.New[uint64, time.Time](size)
	if err != nil {
		// size is validated by the guard config, so this is unreachable
		// with a positive size.
		panic(err)
	}
	return &dupCache{ttl: ttl, prefix: prefix, entries: entries}
}

// hash encodes the payload and hashes at most prefix bytes of it. The bool
// reports whether the payload was hashable at all.
func (c *dupCache) hash(payload any) (uint64, bool) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return 0, false
	}
	if len(raw) > c.prefix {
		raw = raw[:c.prefix]
	}
	return xxhash.Sum64(raw), true
}

// seen reports whether the hash was marked within the TTL window.
func (c *dupCache) seen(h uint64, now time.Time) bool {
	at, ok := c.entries.Get(h)
	if !ok {
		return false
	}
	if now.Sub(at) > c.ttl {
		c.entries.Remove(h)
		return false
	}
	return true
}

func (c *dupCache) mark(h uint64, now time.Time) {
	c.entries.Add(h, now)
}

// evictStale drops entries older than the TTL. Called on guard reset, so no
// background sweep is needed.
func (c *dupCache) evictStale(now time.Time) {
	for _, h := range c.entries.Keys() {
		if at, ok := c.entries.Peek(h); ok && now.Sub(at) > c.ttl {
			c.entries.Remove(h)
		}
	}
}

func (c *dupCache) purge() {
	c.entries.Purge()
}
