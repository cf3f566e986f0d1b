// Package dedup tracks recently observed message-content hashes so the
// receive dispatcher can swallow redelivered copies of a call whose ACK
// the peer never saw.
package dedup

import (
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the number of distinct content hashes retained
// before the oldest entry is evicted.
const DefaultCapacity = 4096

// Hash identifies raw payload content. Two calls with identical raw
// bytes produce the same Hash.
type Hash uint64

// HashBytes computes the content hash of raw payload bytes, FNV-1a
// over the full byte string.
func HashBytes(raw []byte) Hash {
	h := fnv.New64a()
	h.Write(raw)
	return Hash(h.Sum64())
}

// Log is a bounded, size-limited set of recently seen content hashes.
// Membership implies the message has already been delivered to the
// handler. The zero value is not usable; construct with New.
type Log struct {
	cache *lru.Cache[Hash, struct{}]
}

// New constructs a Log retaining at most capacity entries, evicting
// least-recently-used hashes beyond that bound.
func New(capacity int) (*Log, error) {
	cache, err := lru.New[Hash, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Log{cache: cache}, nil
}

// SeenOrAdd reports whether h was already present in the log; if not,
// it is added. Equivalent to the dispatcher's "check, then append if
// fresh" step done atomically.
func (l *Log) SeenOrAdd(h Hash) bool {
	seen, _ := l.cache.ContainsOrAdd(h, struct{}{})
	return seen
}

// Len reports the number of hashes currently retained. Exposed for
// tests.
func (l *Log) Len() int {
	return l.cache.Len()
}
