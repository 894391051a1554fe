package pgvector

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
)

// TableName is the table created by the embedded migrations.
const TableName = "memory_vectors"

// MigrationsTable records the applied schema version.
const MigrationsTable = "questweaver_schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// columns lists the metadata keys mirrored into indexed columns. Other keys
// are matched against the JSONB metadata.
var columns = map[string]string{
	memory.MetaOwnerID:        "owner_id",
	memory.MetaConversationID: "conversation_id",
}

// Config contains the configuration for the pgvector adapter.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Dimensions, when set, is enforced on every upsert
	Dimensions int

	// Migrate applies the embedded migrations before the pool is opened
	Migrate bool
}

// Adapter implements memory.VectorIndex on PostgreSQL with the pgvector
// extension, using cosine distance.
type Adapter struct {
	db         *pgxpool.Pool
	dimensions int
}

// New connects to PostgreSQL and, when configured, migrates the schema.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.ConnectionString == "" {
		return nil, goerr.New("connection string cannot be empty")
	}

	if cfg.Migrate {
		if err := Migrate(cfg.ConnectionString); err != nil {
			return nil, err
		}
	}

	db, err := pgxpool.New(ctx, cfg.ConnectionString)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to PostgreSQL")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to ping PostgreSQL")
	}

	log.Debug("Initialized pgvector index", "table", TableName, "dimensions", cfg.Dimensions)
	return &Adapter{db: db, dimensions: cfg.Dimensions}, nil
}

// DB returns the underlying connection pool.
func (a *Adapter) DB() *pgxpool.Pool {
	return a.db
}

// Close releases the connection pool.
func (a *Adapter) Close() {
	a.db.Close()
}

func newMigrator(connString string) (*migrate.Migrate, *sql.DB, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open embedded migrations")
	}

	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open migration connection")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = db.Close()
		return nil, nil, goerr.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, goerr.Wrap(err, "failed to create migrator")
	}
	return m, db, nil
}

// Migrate applies all pending up migrations. It is a no-op when the schema
// is current.
func Migrate(connString string) error {
	m, db, err := newMigrator(connString)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return goerr.Wrap(err, "failed to apply migrations")
	}

	version, dirty, _ := m.Version()
	log.Info("pgvector schema migrated", "version", version, "dirty", dirty)
	return nil
}

// MigrateDown reverts every migration, dropping the memory table.
func MigrateDown(connString string) error {
	m, db, err := newMigrator(connString)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Down(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return goerr.Wrap(err, "failed to revert migrations")
	}
	return nil
}

// Upsert implements memory.VectorIndex.
func (a *Adapter) Upsert(ctx context.Context, doc memory.Document) error {
	if len(doc.Embedding) == 0 {
		return goerr.New("document has no embedding", goerr.V("id", doc.ID))
	}
	if a.dimensions > 0 && len(doc.Embedding) != a.dimensions {
		return goerr.New("embedding dimensionality mismatch",
			goerr.V("id", doc.ID),
			goerr.V("expected", a.dimensions),
			goerr.V("actual", len(doc.Embedding)))
	}

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return goerr.Wrap(err, "failed to encode metadata", goerr.V("id", doc.ID))
	}

	_, err = a.db.Exec(ctx, `
		INSERT INTO `+TableName+` (id, owner_id, conversation_id, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::vector, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			conversation_id = EXCLUDED.conversation_id,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		doc.ID,
		doc.Metadata[memory.MetaOwnerID],
		doc.Metadata[memory.MetaConversationID],
		doc.Content,
		string(metadata),
		embedToString(doc.Embedding),
		memory.CreatedAtOf(doc),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to upsert memory vector", goerr.V("id", doc.ID))
	}
	return nil
}

// whereClause renders filter as a WHERE clause whose placeholders start
// after the first n arguments.
func whereClause(filter *memory.Filter, n int) (string, []any) {
	if filter == nil {
		return "", nil
	}
	if col, ok := columns[filter.Key]; ok {
		return fmt.Sprintf(" WHERE %s = $%d", col, n+1), []any{filter.Value}
	}
	return fmt.Sprintf(" WHERE metadata->>$%d = $%d", n+1, n+2), []any{filter.Key, filter.Value}
}

// QueryNearest implements memory.VectorIndex.
func (a *Adapter) QueryNearest(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]memory.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	where, args := whereClause(filter, 1)
	args = append([]any{embedToString(vector)}, args...)
	args = append(args, k)

	query := `SELECT id, content, metadata, embedding::text, 1 - (embedding <=> $1::vector) AS similarity
		FROM ` + TableName + where + fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", len(args))

	rows, err := a.db.Query(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "pgvector query failed", goerr.V("k", k))
	}
	defer rows.Close()

	var matches []memory.Match
	for rows.Next() {
		var (
			doc        memory.Document
			similarity float64
		)
		if err := scanDocument(rows, &doc, &similarity); err != nil {
			return nil, err
		}
		matches = append(matches, memory.Match{Document: doc, Similarity: float32(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read pgvector rows")
	}
	return matches, nil
}

// GetByFilter implements memory.VectorIndex.
func (a *Adapter) GetByFilter(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	where, args := whereClause(filter, 0)
	query := `SELECT id, content, metadata, embedding::text FROM ` + TableName + where +
		" ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := a.db.Query(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "pgvector scan failed")
	}
	defer rows.Close()

	var docs []memory.Document
	for rows.Next() {
		var doc memory.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read pgvector rows")
	}
	return docs, nil
}

// DeleteByFilter implements memory.VectorIndex.
func (a *Adapter) DeleteByFilter(ctx context.Context, filter memory.Filter) error {
	if filter.Key == "" {
		return goerr.New("filter key is empty")
	}

	where, args := whereClause(&filter, 0)
	tag, err := a.db.Exec(ctx, "DELETE FROM "+TableName+where, args...)
	if err != nil {
		return goerr.Wrap(err, "pgvector delete failed", goerr.V("key", filter.Key))
	}
	log.DebugContext(ctx, "Deleted memory vectors by filter", "key", filter.Key, "count", tag.RowsAffected())
	return nil
}

// DeleteByIDs implements memory.VectorIndex.
func (a *Adapter) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := a.db.Exec(ctx, "DELETE FROM "+TableName+" WHERE id = ANY($1)", ids); err != nil {
		return goerr.Wrap(err, "pgvector delete by id failed", goerr.V("count", len(ids)))
	}
	return nil
}

// scanDocument reads id, content, metadata and embedding, followed by any
// extra destinations.
func scanDocument(rows pgx.Rows, doc *memory.Document, extra ...any) error {
	var (
		metadata  []byte
		embedding string
	)
	dest := append([]any{&doc.ID, &doc.Content, &metadata, &embedding}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return goerr.Wrap(err, "failed to scan memory vector")
	}
	if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
		return goerr.Wrap(err, "failed to decode metadata", goerr.V("id", doc.ID))
	}

	vec, err := stringToEmbed(embedding)
	if err != nil {
		return goerr.Wrap(err, "failed to decode embedding", goerr.V("id", doc.ID))
	}
	doc.Embedding = vec
	return nil
}

// embedToString renders a vector in pgvector's text format.
func embedToString(embedding []float32) string {
	elements := make([]string, len(embedding))
	for i, v := range embedding {
		elements[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// stringToEmbed parses pgvector's text format.
func stringToEmbed(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return nil, nil
	}

	elements := strings.Split(s, ",")
	embedding := make([]float32, len(elements))
	for i, element := range elements {
		val, err := strconv.ParseFloat(strings.TrimSpace(element), 32)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid vector element", goerr.V("element", element))
		}
		embedding[i] = float32(val)
	}
	return embedding, nil
}
