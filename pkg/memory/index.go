package memory

import (
	"context"
	"sort"
)

// Document is the (id, vector, content, metadata) tuple a VectorIndex stores.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Match is a Document returned from a nearest-neighbor query.
type Match struct {
	Document

	// Similarity is the backend's relevance score, higher is closer
	Similarity float32
}

// Filter is a single top-level metadata equality. Compound filters are
// deliberately not expressible: they are applied in-process by Store.
type Filter struct {
	Key   string
	Value string
}

// Eq builds a Filter for key == value.
func Eq(key, value string) *Filter {
	return &Filter{Key: key, Value: value}
}

// Matches reports whether metadata satisfies f. A nil filter matches everything.
func (f *Filter) Matches(metadata map[string]string) bool {
	if f == nil {
		return true
	}
	v, ok := metadata[f.Key]
	return ok && v == f.Value
}

// VectorIndex is the external similarity index the memory store is layered
// on. Query-time filter semantics are not trusted: callers must re-check
// every returned document.
type VectorIndex interface {
	// Upsert writes one document, replacing any existing document with the same ID.
	Upsert(ctx context.Context, doc Document) error

	// QueryNearest returns up to k documents ordered most similar first.
	// filter may be nil.
	QueryNearest(ctx context.Context, vector []float32, k int, filter *Filter) ([]Match, error)

	// GetByFilter returns documents matching filter (nil for all), newest
	// first by created_at. limit <= 0 means no limit.
	GetByFilter(ctx context.Context, filter *Filter, limit int) ([]Document, error)

	// DeleteByFilter removes every document matching filter.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// DeleteByIDs removes the listed documents. Unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error
}

// SortNewestFirst orders documents by created_at descending, then ID
// descending, and truncates to limit when limit > 0. Adapters without
// server-side ordering use it to honor the GetByFilter contract.
func SortNewestFirst(docs []Document, limit int) []Document {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, tj := CreatedAtOf(docs[i]), CreatedAtOf(docs[j])
		if ti != tj {
			return ti > tj
		}
		return docs[i].ID > docs[j].ID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}
