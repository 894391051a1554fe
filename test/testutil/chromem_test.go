package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempChromemGoClient(t *testing.T) {
	client, cleanup := CreateTempChromemGoClient(t)
	require.NotNil(t, client)
	defer cleanup()

	coll, err := client.CreateCollection("quest", nil, func(ctx context.Context, text string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "quest", coll.Name)
	assert.Contains(t, client.ListCollections(), "quest")
}

func TestFixedClock(t *testing.T) {
	clock := NewFixedClock(100)
	assert.Equal(t, int64(100), clock.Now().Unix())

	clock.Set(50)
	assert.Equal(t, int64(50), clock.Now().Unix())
}
