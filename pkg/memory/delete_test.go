package memory_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/memory/adapters/mock"
)

// mockIndex is a testify mock of memory.VectorIndex.
type mockIndex struct {
	tmock.Mock
}

func (m *mockIndex) Upsert(ctx context.Context, doc memory.Document) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *mockIndex) QueryNearest(ctx context.Context, vector []float32, k int, filter *memory.Filter) ([]memory.Match, error) {
	args := m.Called(ctx, vector, k, filter)
	matches, _ := args.Get(0).([]memory.Match)
	return matches, args.Error(1)
}

func (m *mockIndex) GetByFilter(ctx context.Context, filter *memory.Filter, limit int) ([]memory.Document, error) {
	args := m.Called(ctx, filter, limit)
	docs, _ := args.Get(0).([]memory.Document)
	return docs, args.Error(1)
}

func (m *mockIndex) DeleteByFilter(ctx context.Context, filter memory.Filter) error {
	return m.Called(ctx, filter).Error(0)
}

func (m *mockIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	return m.Called(ctx, ids).Error(0)
}

func doc(id, owner, conv string) memory.Document {
	return memory.Record{ID: id, Content: id, OwnerID: owner, ConversationID: conv, Role: memory.RoleUser}.Document([]float32{1})
}

var anyCtx = tmock.Anything

func TestDeleteConversation_InvalidInput(t *testing.T) {
	store := newStore(t, mock.New())

	ok, err := store.DeleteConversation(context.Background(), "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	ok, err = store.DeleteOwner(context.Background(), "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestDeleteConversation_Idempotent(t *testing.T) {
	index := mock.New()
	store, clock := pinnedStore(t, index)
	seedStore(t, store, clock, mixedSeeds())
	before := index.Len()

	ok, err := store.DeleteConversation(context.Background(), "no-such-conversation")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, before, index.Len())

	ok, err = store.DeleteConversation(context.Background(), "no-such-conversation")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, before, index.Len())
}

func TestDeleteConversation_RemovesOnlyScope(t *testing.T) {
	for _, fragile := range []bool{false, true} {
		t.Run(fmt.Sprintf("fragile=%v", fragile), func(t *testing.T) {
			var opts []mock.Option
			if fragile {
				opts = append(opts, mock.WithIgnoreFilters())
			}
			index := mock.New(opts...)
			store, clock := pinnedStore(t, index)
			seedStore(t, store, clock, mixedSeeds())

			ok, err := store.DeleteConversation(context.Background(), "c1")
			require.NoError(t, err)
			assert.True(t, ok)

			remaining, err := index.GetByFilter(context.Background(), nil, 0)
			require.NoError(t, err)
			require.Len(t, remaining, 2)
			for _, d := range remaining {
				assert.NotEqual(t, "c1", d.Metadata[memory.MetaConversationID])
			}
			if fragile {
				assert.Equal(t, 1, index.Calls(mock.OpDeleteByIDs))
			}
		})
	}
}

func TestDeleteOwner(t *testing.T) {
	index := mock.New()
	store, clock := pinnedStore(t, index)
	seedStore(t, store, clock, mixedSeeds())

	ok, err := store.DeleteOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err := index.GetByFilter(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	for _, d := range remaining {
		assert.Equal(t, "u2", d.Metadata[memory.MetaOwnerID])
	}
}

func TestDeleteConversation_FallbackEnumeratesFiltered(t *testing.T) {
	index := &mockIndex{}
	filter := memory.Filter{Key: memory.MetaConversationID, Value: "c1"}

	index.On("DeleteByFilter", anyCtx, filter).Return(fmt.Errorf("where clause unsupported")).Once()
	index.On("GetByFilter", anyCtx, &filter, 0).Return([]memory.Document{
		doc("a", "u1", "c1"),
		doc("b", "u1", "c2"), // index ignored the filter for this one
		doc("c", "u2", "c1"),
	}, nil).Once()
	index.On("DeleteByIDs", anyCtx, []string{"a", "c"}).Return(nil).Once()

	store := newStore(t, index)
	ok, err := store.DeleteConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	index.AssertExpectations(t)
}

func TestDeleteConversation_FallbackScansWhenEnumerationFails(t *testing.T) {
	index := &mockIndex{}
	filter := memory.Filter{Key: memory.MetaConversationID, Value: "c1"}

	index.On("DeleteByFilter", anyCtx, filter).Return(fmt.Errorf("unsupported")).Once()
	index.On("GetByFilter", anyCtx, &filter, 0).Return(nil, fmt.Errorf("unsupported")).Once()
	index.On("GetByFilter", anyCtx, (*memory.Filter)(nil), 0).Return([]memory.Document{
		doc("a", "u1", "c1"),
		doc("b", "u1", "c2"),
	}, nil).Once()
	index.On("DeleteByIDs", anyCtx, []string{"a"}).Return(nil).Once()

	store := newStore(t, index)
	ok, err := store.DeleteConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	index.AssertExpectations(t)
}

func TestDeleteConversation_FallbackNoMatches(t *testing.T) {
	index := &mockIndex{}
	filter := memory.Filter{Key: memory.MetaConversationID, Value: "c1"}

	index.On("DeleteByFilter", anyCtx, filter).Return(fmt.Errorf("unsupported")).Once()
	index.On("GetByFilter", anyCtx, &filter, 0).Return([]memory.Document{doc("b", "u1", "c2")}, nil).Once()

	store := newStore(t, index)
	ok, err := store.DeleteConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	index.AssertExpectations(t)
	index.AssertNotCalled(t, "DeleteByIDs", tmock.Anything, tmock.Anything)
}

func TestDeleteConversation_Partial(t *testing.T) {
	t.Run("delete by id fails", func(t *testing.T) {
		index := &mockIndex{}
		filter := memory.Filter{Key: memory.MetaConversationID, Value: "c1"}

		index.On("DeleteByFilter", anyCtx, filter).Return(fmt.Errorf("unsupported")).Once()
		index.On("GetByFilter", anyCtx, &filter, 0).Return([]memory.Document{doc("a", "u1", "c1"), doc("b", "u2", "c1")}, nil).Once()
		index.On("DeleteByIDs", anyCtx, []string{"a", "b"}).Return(fmt.Errorf("connection reset")).Once()

		store := newStore(t, index)
		ok, err := store.DeleteConversation(context.Background(), "c1")
		assert.False(t, ok)
		assert.ErrorIs(t, err, errors.ErrDeletionPartial)
		assert.Equal(t, 2, errors.Values(err)["candidates"])
		index.AssertExpectations(t)
	})

	t.Run("enumeration fails", func(t *testing.T) {
		index := mock.New(
			mock.WithFailure(mock.OpDeleteByFilter, fmt.Errorf("unsupported")),
			mock.WithFailure(mock.OpGetByFilter, fmt.Errorf("unavailable")),
		)
		store := newStore(t, index)

		ok, err := store.DeleteConversation(context.Background(), "c1")
		assert.False(t, ok)
		assert.ErrorIs(t, err, errors.ErrDeletionPartial)
		assert.Equal(t, 2, index.Calls(mock.OpGetByFilter))
		assert.Equal(t, 0, index.Calls(mock.OpDeleteByIDs))
	})
}
