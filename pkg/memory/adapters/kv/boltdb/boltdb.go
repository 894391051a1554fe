package boltdb

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
)

var (
	// ownersBucket holds one nested bucket per owner_id, keyed by record ID
	ownersBucket = []byte("owners")

	// idsBucket maps record ID to owner_id so deletes by ID find the owner bucket
	idsBucket = []byte("ids")
)

// storedDocument is the JSON value written for each record.
type storedDocument struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata"`
}

// Store implements memory.VectorIndex on bbolt with brute-force cosine
// similarity. Records are grouped by owner so owner-scoped reads touch a
// single bucket.
type Store struct {
	db *bolt.DB
}

// New creates a Store and its top-level buckets.
func New(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(ownersBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(idsBucket)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize bolt buckets", goerr.V("path", db.Path()))
	}

	log.Debug("Initialized BoltDB vector index", "db_path", db.Path())
	return &Store{db: db}, nil
}

// Upsert implements memory.VectorIndex.
func (s *Store) Upsert(ctx context.Context, doc memory.Document) error {
	owner := doc.Metadata[memory.MetaOwnerID]
	if doc.ID == "" || owner == "" {
		return goerr.New("document needs an id and owner", goerr.V("id", doc.ID))
	}

	data, err := json.Marshal(storedDocument(doc))
	if err != nil {
		return goerr.Wrap(err, "failed to marshal document", goerr.V("id", doc.ID))
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(idsBucket)
		owners := tx.Bucket(ownersBucket)

		// Drop a previous version filed under another owner
		if prev := ids.Get([]byte(doc.ID)); prev != nil && string(prev) != owner {
			if b := owners.Bucket(prev); b != nil {
				if err := b.Delete([]byte(doc.ID)); err != nil {
					return err
				}
			}
		}

		b, err := owners.CreateBucketIfNotExists([]byte(owner))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(doc.ID), data); err != nil {
			return err
		}
		return ids.Put([]byte(doc.ID), []byte(owner))
	})
	if err != nil {
		return goerr.Wrap(err, "failed to store document", goerr.V("id", doc.ID))
	}
	return nil
}

// scan calls fn for every document matching filter. An owner_id filter
// only visits that owner's bucket.
func (s *Store) scan(filter *memory.Filter, fn func(memory.Document)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		owners := tx.Bucket(ownersBucket)

		visit := func(b *bolt.Bucket) error {
			return b.ForEach(func(k, v []byte) error {
				var sd storedDocument
				if err := json.Unmarshal(v, &sd); err != nil {
					return goerr.Wrap(err, "failed to unmarshal document", goerr.V("id", string(k)))
				}
				doc := memory.Document(sd)
				if filter.Matches(doc.Metadata) {
					fn(doc)
				}
				return nil
			})
		}

		if filter != nil && filter.Key == memory.MetaOwnerID {
			if b := owners.Bucket([]byte(filter.Value)); b != nil {
				return visit(b)
			}
			return nil
		}

		return owners.ForEachBucket(func(name []byte) error {
			return visit(owners.Bucket(name))
		})
	})
}

// QueryNearest implements memory.VectorIndex.
func (s *Store) QueryNearest(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]memory.Match, error) {
	var candidates []memory.Document
	if err := s.scan(filter, func(d memory.Document) { candidates = append(candidates, d) }); err != nil {
		return nil, goerr.Wrap(err, "bolt scan failed")
	}

	matches := memory.RankBySimilarity(candidates, vector, k)
	log.DebugContext(ctx, "Queried BoltDB index", "candidates", len(candidates), "returned", len(matches))
	return matches, nil
}

// GetByFilter implements memory.VectorIndex.
func (s *Store) GetByFilter(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	var docs []memory.Document
	if err := s.scan(filter, func(d memory.Document) { docs = append(docs, d) }); err != nil {
		return nil, goerr.Wrap(err, "bolt scan failed")
	}
	return memory.SortNewestFirst(docs, limit), nil
}

// DeleteByFilter implements memory.VectorIndex.
func (s *Store) DeleteByFilter(ctx context.Context, filter memory.Filter) error {
	var ids []string
	if err := s.scan(&filter, func(d memory.Document) { ids = append(ids, d.ID) }); err != nil {
		return goerr.Wrap(err, "bolt scan failed")
	}
	return s.DeleteByIDs(ctx, ids)
}

// DeleteByIDs implements memory.VectorIndex.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(idsBucket)
		owners := tx.Bucket(ownersBucket)

		for _, id := range ids {
			owner := idx.Get([]byte(id))
			if owner == nil {
				continue
			}
			owner = bytes.Clone(owner)
			if b := owners.Bucket(owner); b != nil {
				if err := b.Delete([]byte(id)); err != nil {
					return err
				}
			}
			if err := idx.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to delete documents", goerr.V("count", len(ids)))
	}

	log.DebugContext(ctx, "Deleted documents from BoltDB index", "count", len(ids))
	return nil
}
