package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/memory"
)

// IndexFactory returns an empty index for one subtest.
type IndexFactory func(t *testing.T) memory.VectorIndex

// RunIndexContract exercises the behavior every memory.VectorIndex adapter
// must provide. Vectors are 3-dimensional.
func RunIndexContract(t *testing.T, newIndex IndexFactory) {
	ctx := context.Background()

	seed := func(t *testing.T) memory.VectorIndex {
		index := newIndex(t)
		SeedIndex(t, index,
			Doc("a", "u1", "c1", 10, []float32{1, 0, 0}),
			Doc("b", "u1", "c1", 30, []float32{0.9, 0.1, 0}),
			Doc("c", "u1", "c2", 20, []float32{0, 1, 0}),
			Doc("d", "u2", "c3", 40, []float32{0, 0, 1}),
		)
		return index
	}

	t.Run("query nearest orders by similarity", func(t *testing.T) {
		index := seed(t)
		matches, err := index.QueryNearest(ctx, []float32{1, 0, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, "b", matches[1].ID)
		assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
		assert.Equal(t, "u1", matches[0].Metadata[memory.MetaOwnerID])
		assert.Equal(t, "content of a", matches[0].Content)
	})

	t.Run("query nearest honors filter", func(t *testing.T) {
		index := seed(t)
		matches, err := index.QueryNearest(ctx, []float32{1, 0, 0}, 10, memory.Eq(memory.MetaOwnerID, "u2"))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "d", matches[0].ID)
	})

	t.Run("query nearest with k beyond size", func(t *testing.T) {
		index := seed(t)
		matches, err := index.QueryNearest(ctx, []float32{0, 1, 0}, 100, nil)
		require.NoError(t, err)
		assert.Len(t, matches, 4)
	})

	t.Run("query nearest on empty index", func(t *testing.T) {
		index := newIndex(t)
		matches, err := index.QueryNearest(ctx, []float32{0, 1, 0}, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("get by filter is newest first", func(t *testing.T) {
		index := seed(t)
		docs, err := index.GetByFilter(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "b", "c", "a"}, IDs(docs))

		docs, err = index.GetByFilter(ctx, memory.Eq(memory.MetaOwnerID, "u1"), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, IDs(docs))
		assert.Equal(t, "c1", docs[0].Metadata[memory.MetaConversationID])
	})

	t.Run("upsert replaces", func(t *testing.T) {
		index := seed(t)
		replacement := Doc("a", "u1", "c1", 50, []float32{1, 0, 0})
		replacement.Content = "rewritten"
		require.NoError(t, index.Upsert(ctx, replacement))

		docs, err := index.GetByFilter(ctx, memory.Eq(memory.MetaConversationID, "c1"), 0)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "a", docs[0].ID)
		assert.Equal(t, "rewritten", docs[0].Content)
	})

	t.Run("delete by filter", func(t *testing.T) {
		index := seed(t)
		require.NoError(t, index.DeleteByFilter(ctx, memory.Filter{Key: memory.MetaConversationID, Value: "c1"}))

		docs, err := index.GetByFilter(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c"}, IDs(docs))

		// deleting an empty scope is not an error
		require.NoError(t, index.DeleteByFilter(ctx, memory.Filter{Key: memory.MetaConversationID, Value: "nope"}))
	})

	t.Run("delete by ids", func(t *testing.T) {
		index := seed(t)
		require.NoError(t, index.DeleteByIDs(ctx, []string{"a", "d", "missing"}))

		docs, err := index.GetByFilter(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, IDs(docs))

		require.NoError(t, index.DeleteByIDs(ctx, nil))
	})
}
