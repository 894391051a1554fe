package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	content         TEXT NOT NULL,
	embedding       TEXT NOT NULL,
	metadata        TEXT NOT NULL,
	created_at      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_records_owner ON memory_records (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memory_records_conversation ON memory_records (conversation_id, created_at DESC);
`

// columns lists the metadata keys mirrored into indexed columns. Filters on
// any other key are applied after loading.
var columns = map[string]string{
	memory.MetaOwnerID:        "owner_id",
	memory.MetaConversationID: "conversation_id",
}

type row struct {
	ID             string `db:"id"`
	OwnerID        string `db:"owner_id"`
	ConversationID string `db:"conversation_id"`
	Content        string `db:"content"`
	Embedding      string `db:"embedding"`
	Metadata       string `db:"metadata"`
	CreatedAt      int64  `db:"created_at"`
}

func (r row) document() (memory.Document, error) {
	doc := memory.Document{ID: r.ID, Content: r.Content}
	if err := json.Unmarshal([]byte(r.Embedding), &doc.Embedding); err != nil {
		return doc, goerr.Wrap(err, "failed to decode embedding", goerr.V("id", r.ID))
	}
	if err := json.Unmarshal([]byte(r.Metadata), &doc.Metadata); err != nil {
		return doc, goerr.Wrap(err, "failed to decode metadata", goerr.V("id", r.ID))
	}
	return doc, nil
}

// Store implements memory.VectorIndex on SQLite with brute-force cosine
// similarity over the scoped rows.
type Store struct {
	db *sqlx.DB
}

// New creates a Store. Call Migrate before first use on a new database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the table and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return goerr.Wrap(err, "failed to apply sqlite schema")
	}
	log.DebugContext(ctx, "Applied SQLite memory schema")
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert implements memory.VectorIndex.
func (s *Store) Upsert(ctx context.Context, doc memory.Document) error {
	embedding, err := json.Marshal(doc.Embedding)
	if err != nil {
		return goerr.Wrap(err, "failed to encode embedding", goerr.V("id", doc.ID))
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return goerr.Wrap(err, "failed to encode metadata", goerr.V("id", doc.ID))
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO memory_records (id, owner_id, conversation_id, content, embedding, metadata, created_at)
		VALUES (:id, :owner_id, :conversation_id, :content, :embedding, :metadata, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			conversation_id = excluded.conversation_id,
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			created_at = excluded.created_at`,
		row{
			ID:             doc.ID,
			OwnerID:        doc.Metadata[memory.MetaOwnerID],
			ConversationID: doc.Metadata[memory.MetaConversationID],
			Content:        doc.Content,
			Embedding:      string(embedding),
			Metadata:       string(metadata),
			CreatedAt:      memory.CreatedAtOf(doc),
		})
	if err != nil {
		return goerr.Wrap(err, "failed to upsert memory row", goerr.V("id", doc.ID))
	}
	return nil
}

// load returns matching documents newest first. limit only applies when the
// filter could be pushed into SQL.
func (s *Store) load(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	query := `SELECT id, owner_id, conversation_id, content, embedding, metadata, created_at FROM memory_records`
	var args []any

	pushed := filter == nil
	if filter != nil {
		if col, ok := columns[filter.Key]; ok {
			query += fmt.Sprintf(" WHERE %s = ?", col)
			args = append(args, filter.Value)
			pushed = true
		}
	}
	query += " ORDER BY created_at DESC, id DESC"
	if pushed && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, goerr.Wrap(err, "failed to query memory rows")
	}

	docs := make([]memory.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc.Metadata) {
			docs = append(docs, doc)
		}
	}
	if !pushed && limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// QueryNearest implements memory.VectorIndex.
func (s *Store) QueryNearest(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]memory.Match, error) {
	candidates, err := s.load(ctx, filter, 0)
	if err != nil {
		return nil, err
	}
	return memory.RankBySimilarity(candidates, vector, k), nil
}

// GetByFilter implements memory.VectorIndex.
func (s *Store) GetByFilter(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	return s.load(ctx, filter, limit)
}

// DeleteByFilter implements memory.VectorIndex.
func (s *Store) DeleteByFilter(ctx context.Context, filter memory.Filter) error {
	col, ok := columns[filter.Key]
	if !ok {
		docs, err := s.load(ctx, &filter, 0)
		if err != nil {
			return err
		}
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		return s.DeleteByIDs(ctx, ids)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM memory_records WHERE %s = ?", col), filter.Value)
	if err != nil {
		return goerr.Wrap(err, "failed to delete memory rows", goerr.V("key", filter.Key))
	}
	n, _ := res.RowsAffected()
	log.DebugContext(ctx, "Deleted memory rows by filter", "key", filter.Key, "count", n)
	return nil
}

// DeleteByIDs implements memory.VectorIndex.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM memory_records WHERE id IN (?)", ids)
	if err != nil {
		return goerr.Wrap(err, "failed to build delete query")
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return goerr.Wrap(err, "failed to delete memory rows by id", goerr.V("count", len(ids)))
	}
	return nil
}
