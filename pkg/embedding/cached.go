package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
)

// CacheConfig sizes the embedding cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached vectors
	MaxEntries int64

	// Namespace separates vectors from different models
	Namespace string
}

// Cached memoizes another embedder's vectors. Only successful results are
// cached.
type Cached struct {
	inner     memory.Embedder
	cache     *ristretto.Cache
	namespace string
}

// NewCached wraps inner with a ristretto cache of cfg.MaxEntries vectors.
func NewCached(inner memory.Embedder, cfg CacheConfig) (*Cached, error) {
	if cfg.MaxEntries <= 0 {
		return nil, goerr.New("cache size must be positive", goerr.V("max_entries", cfg.MaxEntries))
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}

	return &Cached{inner: inner, cache: cache, namespace: cfg.Namespace}, nil
}

// Embed implements memory.Embedder.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.namespace + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			log.DebugContext(ctx, "Embedding cache hit", "namespace", c.namespace)
			return append([]float32(nil), vec...), nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}
