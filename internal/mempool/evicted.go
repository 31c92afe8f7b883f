package mempool

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/log"
)

// EvictedEntry describes a transaction the pool dropped to stay within its
// byte budget.
type EvictedEntry struct {
	Hash     common.Hash `json:"hash"`
	FeeRate  uint64      `json:"feeRate"`
	ForgetAt uint64      `json:"forgetAt"`
}

// RecentlyEvictedCache remembers evicted transactions until the chain reaches
// the sequence at which they should be forgotten. The cache is bounded; when
// full, the oldest insertion is dropped.
//
// The cache is not safe for concurrent use. MemPool guards it with its own lock.
type RecentlyEvictedCache struct {
	capacity int

	// entries is only read with Contains and Peek, which do not promote,
	// so its recency order is insertion order.
	entries lru.BasicLRU[common.Hash, EvictedEntry]
	byForget *Queue[common.Hash, EvictedEntry]

	logger log.Logger
}

// NewRecentlyEvictedCache creates a cache holding at most capacity entries.
func NewRecentlyEvictedCache(capacity int) *RecentlyEvictedCache {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentlyEvictedCache{
		capacity: capacity,
		entries:  lru.NewBasicLRU[common.Hash, EvictedEntry](capacity),
		byForget: NewQueue(
			func(a, b EvictedEntry) bool {
				if a.ForgetAt != b.ForgetAt {
					return a.ForgetAt < b.ForgetAt
				}
				return bytes.Compare(a.Hash[:], b.Hash[:]) < 0
			},
			func(e EvictedEntry) common.Hash { return e.Hash },
		),
		logger: log.New("module", "evicted"),
	}
}

// Add records hash as evicted at feeRate. It is forgotten once the chain
// reaches currentSequence + window.
func (c *RecentlyEvictedCache) Add(hash common.Hash, feeRate uint64, currentSequence uint32, window uint64) {
	if !c.entries.Contains(hash) && c.entries.Len() >= c.capacity {
		if oldest, _, ok := c.entries.RemoveOldest(); ok {
			c.byForget.Remove(oldest)
			c.logger.Trace("Dropped oldest evicted entry", "hash", oldest)
		}
	}

	entry := EvictedEntry{
		Hash:     hash,
		FeeRate:  feeRate,
		ForgetAt: uint64(currentSequence) + window,
	}
	c.entries.Add(hash, entry)
	c.byForget.Add(entry)

	c.logger.Debug("Remembering evicted transaction",
		"hash", hash,
		"feeRate", feeRate,
		"forgetAt", entry.ForgetAt,
	)
}

// Has reports whether hash is remembered.
func (c *RecentlyEvictedCache) Has(hash common.Hash) bool {
	return c.entries.Contains(hash)
}

// Get returns the entry for hash.
func (c *RecentlyEvictedCache) Get(hash common.Hash) (EvictedEntry, bool) {
	return c.entries.Peek(hash)
}

// Len returns the number of remembered transactions.
func (c *RecentlyEvictedCache) Len() int {
	return c.entries.Len()
}

// Flush forgets every entry whose forget sequence is at or below
// currentSequence and returns how many were dropped.
func (c *RecentlyEvictedCache) Flush(currentSequence uint32) int {
	flushed := 0
	for {
		next, ok := c.byForget.Peek()
		if !ok || next.ForgetAt > uint64(currentSequence) {
			break
		}
		c.byForget.Poll()
		c.entries.Remove(next.Hash)
		flushed++
	}
	if flushed > 0 {
		c.logger.Debug("Flushed evicted transactions", "count", flushed, "sequence", currentSequence)
	}
	return flushed
}
