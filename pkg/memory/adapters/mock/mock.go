package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
)

// Op names an index operation for failure injection and call counting.
type Op string

const (
	OpUpsert         Op = "upsert"
	OpQueryNearest   Op = "query_nearest"
	OpGetByFilter    Op = "get_by_filter"
	OpDeleteByFilter Op = "delete_by_filter"
	OpDeleteByIDs    Op = "delete_by_ids"
)

// Index is an in-memory implementation of memory.VectorIndex used for
// testing and offline play.
type Index struct {
	docs  map[string]memory.Document
	order []string

	ignoreFilters bool
	failures      map[Op]error
	calls         map[Op]int

	mutex sync.RWMutex
}

// Option configures an Index
type Option func(*Index)

// WithIgnoreFilters makes reads ignore every filter they are given and
// filtered deletes fail with ErrUnsupported, emulating a backend whose
// filtering is broken.
func WithIgnoreFilters() Option {
	return func(i *Index) {
		i.ignoreFilters = true
	}
}

// WithFailure makes op always fail with err.
func WithFailure(op Op, err error) Option {
	return func(i *Index) {
		i.failures[op] = err
	}
}

// New creates an empty in-memory index.
func New(opts ...Option) *Index {
	idx := &Index{
		docs:     make(map[string]memory.Document),
		failures: make(map[Op]error),
		calls:    make(map[Op]int),
	}
	for _, opt := range opts {
		opt(idx)
	}

	log.Debug("Initialized in-memory vector index", "ignore_filters", idx.ignoreFilters)
	return idx
}

// SetFailure injects (or with a nil err, clears) a failure for op.
func (i *Index) SetFailure(op Op, err error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if err == nil {
		delete(i.failures, op)
		return
	}
	i.failures[op] = err
}

// Calls returns how many times op has been invoked.
func (i *Index) Calls(op Op) int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.calls[op]
}

// Len returns the number of stored documents.
func (i *Index) Len() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return len(i.docs)
}

// record counts the call and returns the injected failure, if any.
// Callers must hold the write lock.
func (i *Index) record(op Op) error {
	i.calls[op]++
	if err, ok := i.failures[op]; ok {
		return goerr.Wrap(err, "injected failure", goerr.V("op", string(op)))
	}
	return nil
}

func (i *Index) effective(filter *memory.Filter) *memory.Filter {
	if i.ignoreFilters {
		return nil
	}
	return filter
}

// Upsert implements memory.VectorIndex.
func (i *Index) Upsert(ctx context.Context, doc memory.Document) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if err := i.record(OpUpsert); err != nil {
		return err
	}
	if doc.ID == "" {
		return goerr.New("document id is empty")
	}

	if _, exists := i.docs[doc.ID]; !exists {
		i.order = append(i.order, doc.ID)
	}
	doc.Metadata = maps.Clone(doc.Metadata)
	doc.Embedding = append([]float32(nil), doc.Embedding...)
	i.docs[doc.ID] = doc

	log.DebugContext(ctx, "Upserted document in mock index", "id", doc.ID)
	return nil
}

// QueryNearest implements memory.VectorIndex.
func (i *Index) QueryNearest(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]memory.Match, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if err := i.record(OpQueryNearest); err != nil {
		return nil, err
	}

	filter = i.effective(filter)
	candidates := make([]memory.Document, 0, len(i.docs))
	for _, id := range i.order {
		d := i.docs[id]
		if filter.Matches(d.Metadata) {
			candidates = append(candidates, d)
		}
	}

	matches := memory.RankBySimilarity(candidates, vector, k)
	log.DebugContext(ctx, "Queried mock index", "candidates", len(candidates), "returned", len(matches))
	return matches, nil
}

// GetByFilter implements memory.VectorIndex.
func (i *Index) GetByFilter(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if err := i.record(OpGetByFilter); err != nil {
		return nil, err
	}

	filter = i.effective(filter)
	var out []memory.Document
	for _, id := range i.order {
		d := i.docs[id]
		if filter.Matches(d.Metadata) {
			out = append(out, d)
		}
	}
	return memory.SortNewestFirst(out, limit), nil
}

// DeleteByFilter implements memory.VectorIndex.
func (i *Index) DeleteByFilter(ctx context.Context, filter memory.Filter) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if err := i.record(OpDeleteByFilter); err != nil {
		return err
	}

	if i.ignoreFilters {
		return goerr.Wrap(errors.ErrUnsupported, "filtered delete", goerr.V("key", filter.Key))
	}

	var ids []string
	for _, id := range i.order {
		if filter.Matches(i.docs[id].Metadata) {
			ids = append(ids, id)
		}
	}
	i.remove(ids)

	log.DebugContext(ctx, "Deleted documents by filter", "key", filter.Key, "count", len(ids))
	return nil
}

// DeleteByIDs implements memory.VectorIndex.
func (i *Index) DeleteByIDs(ctx context.Context, ids []string) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if err := i.record(OpDeleteByIDs); err != nil {
		return err
	}
	i.remove(ids)

	log.DebugContext(ctx, "Deleted documents by id", "count", len(ids))
	return nil
}

func (i *Index) remove(ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(i.docs, id)
	}
	kept := i.order[:0]
	for _, id := range i.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	i.order = kept
}
