package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/test/testutil"
)

func skipIfNoPgvector(t *testing.T) string {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping pgvector tests: INTEGRATION_TESTS is not true")
	}
	url := os.Getenv("PGVECTOR_URL")
	if url == "" {
		t.Skip("Skipping pgvector tests: PGVECTOR_URL environment variable not set")
	}
	return url
}

func setupTestAdapter(t *testing.T) *Adapter {
	url := skipIfNoPgvector(t)
	ctx := context.Background()

	adapter, err := New(ctx, Config{ConnectionString: url, Dimensions: 3, Migrate: true})
	require.NoError(t, err)

	_, err = adapter.DB().Exec(ctx, "TRUNCATE "+TableName)
	require.NoError(t, err)
	t.Cleanup(adapter.Close)
	return adapter
}

func TestEmbedToString(t *testing.T) {
	assert.Equal(t, "[0.1,-2,3.5]", embedToString([]float32{0.1, -2, 3.5}))
	assert.Equal(t, "[]", embedToString(nil))
}

func TestStringToEmbed(t *testing.T) {
	vec, err := stringToEmbed("[0.1, -2,3.5]")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, -2, 3.5}, vec)

	vec, err = stringToEmbed("[]")
	require.NoError(t, err)
	assert.Empty(t, vec)

	_, err = stringToEmbed("[0.1,abc]")
	assert.Error(t, err)
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause(nil, 0)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = whereClause(memory.Eq(memory.MetaOwnerID, "u1"), 1)
	assert.Equal(t, " WHERE owner_id = $2", where)
	assert.Equal(t, []any{"u1"}, args)

	where, args = whereClause(memory.Eq(memory.MetaKind, "lore"), 0)
	assert.Equal(t, " WHERE metadata->>$1 = $2", where)
	assert.Equal(t, []any{memory.MetaKind, "lore"}, args)
}

func TestNew_RequiresConnectionString(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestPgvectorAdapter_Contract(t *testing.T) {
	testutil.RunIndexContract(t, func(t *testing.T) memory.VectorIndex {
		return setupTestAdapter(t)
	})
}

func TestPgvectorAdapter_DimensionMismatch(t *testing.T) {
	adapter := setupTestAdapter(t)

	err := adapter.Upsert(context.Background(), testutil.Doc("a", "u1", "c1", 1, []float32{1, 0}))
	assert.Error(t, err)
}

func TestPgvectorAdapter_MetadataFilter(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	lore := testutil.Doc("lore", "u1", "c1", 1, []float32{1, 0, 0})
	lore.Metadata[memory.MetaKind] = memory.KindLore
	testutil.SeedIndex(t, adapter, lore, testutil.Doc("event", "u1", "c1", 2, []float32{0, 1, 0}))

	docs, err := adapter.GetByFilter(ctx, memory.Eq(memory.MetaKind, memory.KindLore), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"lore"}, testutil.IDs(docs))
}
