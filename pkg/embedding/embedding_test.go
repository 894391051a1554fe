package embedding_test

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/embedding"
	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/reasoning/adapters/mock"
)

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestHash_Deterministic(t *testing.T) {
	h := embedding.NewHash(32)
	ctx := context.Background()

	a, err := h.Embed(ctx, "the hero discovers a cave")
	require.NoError(t, err)
	b, err := h.Embed(ctx, "the hero discovers a cave")
	require.NoError(t, err)
	c, err := h.Embed(ctx, "the merchant sells a lamp")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestHash_Defaults(t *testing.T) {
	assert.Equal(t, embedding.DefaultHashDimensions, embedding.NewHash(0).Dimensions())

	_, err := embedding.NewHash(8).Embed(context.Background(), "   ")
	assert.Error(t, err)
}

func TestFromEngine(t *testing.T) {
	engine := mock.New(mock.WithDimensions(16))
	e := embedding.FromEngine(engine, "mock")
	ctx := context.Background()

	vec, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, embedding.HashVector("hello", 16), vec)
	assert.Equal(t, "mock", e.Model())

	t.Run("zero vector is rejected", func(t *testing.T) {
		engine.AddEmbedding("void", make([]float32, 16))
		_, err := e.Embed(ctx, "void")
		assert.ErrorContains(t, err, "zero vector")
	})

	t.Run("dimension drift is rejected", func(t *testing.T) {
		engine.AddEmbedding("short", []float32{1, 2, 3})
		_, err := e.Embed(ctx, "short")
		assert.ErrorContains(t, err, "dimensionality changed")
	})

	t.Run("engine failure", func(t *testing.T) {
		engine.SetShouldError(true)
		defer engine.SetShouldError(false)
		_, err := e.Embed(ctx, "hello")
		assert.ErrorIs(t, err, mock.ErrMockEngine)
	})
}

func TestCached(t *testing.T) {
	var calls atomic.Int32
	inner := memory.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return embedding.HashVector(text, 8), nil
	})

	cached, err := embedding.NewCached(inner, embedding.CacheConfig{MaxEntries: 100, Namespace: "test"})
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "a lantern")
	require.NoError(t, err)
	cached.Wait()

	second, err := cached.Embed(ctx, "a lantern")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	// Callers mutating a returned vector must not poison the cache
	second[0] = 42
	third, err := cached.Embed(ctx, "a lantern")
	require.NoError(t, err)
	assert.Equal(t, first[0], third[0])
}

func TestCached_InvalidSize(t *testing.T) {
	_, err := embedding.NewCached(embedding.NewHash(8), embedding.CacheConfig{})
	assert.Error(t, err)
}
