package chromem_go

import (
	"context"
	"math"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "quest_memories"

// Config holds the configuration for the chromem-go adapter.
type Config struct {
	// Collection is the chromem collection name
	Collection string

	// Dimensions is used to build the scan vector before this process has
	// written or queried a vector. It must match the stored vectors.
	Dimensions int
}

// searcher is the part of *chromem.Collection that answers queries.
type searcher interface {
	Count() int
	QueryEmbedding(ctx context.Context, queryEmbedding []float32, nResults int, where, whereDocument map[string]string) ([]chromem.Result, error)
}

// Adapter implements memory.VectorIndex on a chromem-go collection.
type Adapter struct {
	db         *chromem.DB
	collection *chromem.Collection
	search     searcher
	dims       atomic.Int64
}

// NewDB opens an in-memory database, or a persistent one when path is set.
func NewDB(path string, compress bool) (*chromem.DB, error) {
	if path == "" {
		return chromem.NewDB(), nil
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open chromem database", goerr.V("path", path))
	}
	return db, nil
}

// New creates an adapter over the named collection, creating it if needed.
// Embeddings are always supplied by the caller, so the collection has no
// embedding function of its own.
func New(db *chromem.DB, cfg Config) (*Adapter, error) {
	if db == nil {
		return nil, goerr.New("chromem database is nil")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open collection", goerr.V("collection", cfg.Collection))
	}

	a := &Adapter{db: db, collection: collection, search: collection}
	a.dims.Store(int64(cfg.Dimensions))

	log.Debug("Initialized chromem-go vector index",
		"collection", cfg.Collection,
		"documents", collection.Count())
	return a, nil
}

func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, goerr.Wrap(errors.ErrUnsupported, "collection has no embedding function")
}

// Count returns the number of documents in the collection.
func (a *Adapter) Count() int {
	return a.collection.Count()
}

// Upsert implements memory.VectorIndex.
func (a *Adapter) Upsert(ctx context.Context, doc memory.Document) error {
	if len(doc.Embedding) == 0 {
		return goerr.New("document has no embedding", goerr.V("id", doc.ID))
	}

	err := a.collection.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Metadata:  doc.Metadata,
		Embedding: doc.Embedding,
		Content:   doc.Content,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to add document", goerr.V("id", doc.ID))
	}

	a.dims.Store(int64(len(doc.Embedding)))
	log.DebugContext(ctx, "Added document to chromem collection", "id", doc.ID)
	return nil
}

// QueryNearest implements memory.VectorIndex.
func (a *Adapter) QueryNearest(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]memory.Match, error) {
	results, err := a.query(ctx, vector, k, filter)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		a.dims.Store(int64(len(vector)))
	}

	matches := make([]memory.Match, len(results))
	for i, r := range results {
		matches[i] = memory.Match{Document: toDocument(r), Similarity: r.Similarity}
	}
	return matches, nil
}

// GetByFilter implements memory.VectorIndex. chromem has no metadata-only
// listing, so it runs an exhaustive query with a uniform scan vector and
// orders the result by created_at.
func (a *Adapter) GetByFilter(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	dims := int(a.dims.Load())
	if dims <= 0 {
		if a.search.Count() == 0 {
			return nil, nil
		}
		return nil, goerr.Wrap(errors.ErrUnsupported, "scan needs the embedding dimensionality")
	}

	scan := make([]float32, dims)
	v := float32(1 / math.Sqrt(float64(dims)))
	for i := range scan {
		scan[i] = v
	}

	results, err := a.query(ctx, scan, a.search.Count(), filter)
	if err != nil {
		if strings.Contains(err.Error(), "same length") {
			return nil, goerr.Wrap(err, "scan vector does not match the stored vectors; check the index dimensions",
				goerr.V("scan_dimensions", dims))
		}
		return nil, err
	}

	docs := make([]memory.Document, len(results))
	for i, r := range results {
		docs[i] = toDocument(r)
	}
	return memory.SortNewestFirst(docs, limit), nil
}

// query clamps k to the collection size, which chromem requires. A delete
// landing between the count and the query shrinks the collection under
// the clamp, so that error is retried once with a fresh count.
func (a *Adapter) query(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]chromem.Result, error) {
	var where map[string]string
	if filter != nil {
		where = map[string]string{filter.Key: filter.Value}
	}

	for attempt := 0; ; attempt++ {
		n := k
		if count := a.search.Count(); n > count {
			n = count
		}
		if n <= 0 {
			return nil, nil
		}

		results, err := a.search.QueryEmbedding(ctx, vector, n, where, nil)
		if err == nil {
			return results, nil
		}
		if attempt == 0 && isShrunkCollection(err) {
			log.DebugContext(ctx, "Collection shrank during query, retrying", "k", n)
			continue
		}
		return nil, goerr.Wrap(err, "chromem query failed", goerr.V("k", n))
	}
}

func isShrunkCollection(err error) bool {
	return strings.Contains(err.Error(), "nResults must be <= the number of documents")
}

// DeleteByFilter implements memory.VectorIndex.
func (a *Adapter) DeleteByFilter(ctx context.Context, filter memory.Filter) error {
	if filter.Key == "" {
		return goerr.New("filter key is empty")
	}
	if err := a.collection.Delete(ctx, map[string]string{filter.Key: filter.Value}, nil); err != nil {
		return goerr.Wrap(err, "chromem delete failed", goerr.V("key", filter.Key))
	}
	return nil
}

// DeleteByIDs implements memory.VectorIndex.
func (a *Adapter) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := a.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return goerr.Wrap(err, "chromem delete by id failed", goerr.V("count", len(ids)))
	}
	return nil
}

func toDocument(r chromem.Result) memory.Document {
	return memory.Document{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: r.Embedding,
		Metadata:  r.Metadata,
	}
}
