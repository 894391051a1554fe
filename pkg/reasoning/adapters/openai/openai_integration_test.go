//go:build integration
// +build integration

package openai_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/reasoning"
	"github.com/lexlapax/questweaver/pkg/reasoning/adapters/openai"
)

func liveAdapter(t *testing.T) *openai.Adapter {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	adapter, err := openai.New(openai.Config{APIKey: apiKey})
	require.NoError(t, err)
	return adapter
}

func TestIntegration_GenerateEmbeddings(t *testing.T) {
	adapter := liveAdapter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	embeddings, err := adapter.GenerateEmbeddings(ctx, []string{
		"The knight discovers a hidden cave",
		"The merchant sells an enchanted lantern",
	})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Len(t, embeddings[0], 1536)
	assert.Len(t, embeddings[1], 1536)
}

func TestIntegration_ProcessMessages(t *testing.T) {
	adapter := liveAdapter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reply, err := adapter.ProcessMessages(ctx, []reasoning.Message{
		{Role: reasoning.RoleSystem, Content: "Answer with a single word."},
		{Role: reasoning.RoleUser, Content: "Name a colour."},
	}, reasoning.WithMaxTokens(5))
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
}
