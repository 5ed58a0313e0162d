package retrieval

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedSearcher memoizes search results in a bounded cache. Hits use Peek, so
// recency is never refreshed and the oldest entry is evicted first.
type CachedSearcher struct {
	next  Searcher
	cache *lru.Cache[string, []Document]
}

// NewCachedSearcher wraps next with a cache of at most size entries.
func NewCachedSearcher(next Searcher, size int) (*CachedSearcher, error) {
	cache, err := lru.New[string, []Document](size)
	if err != nil {
		return nil, err
	}
	return &CachedSearcher{next: next, cache: cache}, nil
}

func cacheKey(q Query) string {
	return fmt.Sprintf("%d|%.3f|%s", q.TopK, q.Threshold, q.Text)
}

// Search returns a cached result or queries the wrapped searcher. Errors are not cached.
func (c *CachedSearcher) Search(ctx context.Context, q Query) ([]Document, error) {
	key := cacheKey(q)
	if docs, ok := c.cache.Peek(key); ok {
		return docs, nil
	}
	docs, err := c.next.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, docs)
	return docs, nil
}

// Len returns the number of cached queries.
func (c *CachedSearcher) Len() int {
	return c.cache.Len()
}
