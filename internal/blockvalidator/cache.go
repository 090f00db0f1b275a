package blockvalidator

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"ledgercore/internal/execution"
)

// DefaultCacheSize is the fixed block-validation-result cache capacity
// named in §4.5's last paragraph.
const DefaultCacheSize = 512

// Result is one block's validation outcome, as recorded in the cache.
type Result struct {
	BlockID      string
	Status       Status
	BatchResults []execution.BatchResult
	FailMessage  string
}

// ResultCache is the LRU cache of (block_id -> Result) described in §4.5:
// "record (block_id, results, status) in the LRU validation-result cache".
// Eviction is a soft accelerator; it never forces re-validation on its own.
type ResultCache struct {
	cache *lru.Cache[string, Result]
}

// NewResultCache builds a cache with the given capacity (use
// DefaultCacheSize in production).
func NewResultCache(size int) (*ResultCache, error) {
	c, err := lru.New[string, Result](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{cache: c}, nil
}

// Status implements StatusLookup for the block scheduler.
func (c *ResultCache) Status(id string) (Status, bool) {
	r, ok := c.cache.Get(id)
	if !ok {
		return StatusUnknown, false
	}
	return r.Status, true
}

// Get returns the full recorded result for id, if still cached.
func (c *ResultCache) Get(id string) (Result, bool) {
	return c.cache.Get(id)
}

// Put records (or overwrites) a block's validation result.
func (c *ResultCache) Put(r Result) {
	c.cache.Add(r.BlockID, r)
}
