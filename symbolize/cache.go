package symbolize

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 4096

// Cached memoizes a Resolver. Errors are not cached.
type Cached struct {
	inner Resolver
	cache *lru.Cache[uint64, []Location]
}

func NewCached(inner Resolver, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[uint64, []Location](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create symbol cache: %w", err)
	}

	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Symbolize(addr uint64) ([]Location, error) {
	if locs, ok := c.cache.Get(addr); ok {
		return locs, nil
	}

	locs, err := c.inner.Symbolize(addr)
	if err != nil {
		return nil, err
	}

	c.cache.Add(addr, locs)

	return locs, nil
}

// Len is the number of cached addresses.
func (c *Cached) Len() int {
	return c.cache.Len()
}
