package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/reasoning"
	"github.com/lexlapax/questweaver/pkg/reasoning/adapters/openai"
)

// mockOpenAIServer creates a mock OpenAI server that always answers with body.
func mockOpenAIServer(t *testing.T, statusCode int, responseBody string) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_, err := w.Write([]byte(responseBody))
		require.NoError(t, err)
	}))
	t.Cleanup(server.Close)
	return server
}

// capturingServer records the decoded request body before answering.
func capturingServer(t *testing.T, responseBody string, captured *map[string]any) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, captured))

		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write([]byte(responseBody))
		require.NoError(t, err)
	}))
	t.Cleanup(server.Close)
	return server
}

const chatResponse = `{
	"id": "chatcmpl-123",
	"object": "chat.completion",
	"created": 1677858242,
	"model": "gpt-4o",
	"choices": [
		{
			"message": {"role": "assistant", "content": "  The torch gutters as you step inside.  "},
			"finish_reason": "stop",
			"index": 0
		}
	],
	"usage": {"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20}
}`

func TestGenerateEmbeddings_Success(t *testing.T) {
	// Data deliberately out of order; the adapter must honor "index"
	server := mockOpenAIServer(t, http.StatusOK, `{
		"object": "list",
		"data": [
			{"object": "embedding", "embedding": [0.6, 0.7, 0.8], "index": 1},
			{"object": "embedding", "embedding": [0.1, 0.2, 0.3], "index": 0}
		],
		"model": "text-embedding-ada-002",
		"usage": {"prompt_tokens": 10, "total_tokens": 10}
	}`)

	adapter, err := openai.New(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	embeddings, err := adapter.GenerateEmbeddings(context.Background(), []string{"a dragon", "a cave"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embeddings[0])
	assert.Equal(t, []float32{0.6, 0.7, 0.8}, embeddings[1])
}

func TestGenerateEmbeddings_EmptyInput(t *testing.T) {
	adapter, err := openai.New(openai.Config{APIKey: "test-key"})
	require.NoError(t, err)

	embeddings, err := adapter.GenerateEmbeddings(context.Background(), []string{})
	assert.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestGenerateEmbeddings_CountMismatch(t *testing.T) {
	server := mockOpenAIServer(t, http.StatusOK, `{
		"object": "list",
		"data": [{"object": "embedding", "embedding": [0.1], "index": 0}],
		"model": "text-embedding-ada-002"
	}`)

	adapter, err := openai.New(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = adapter.GenerateEmbeddings(context.Background(), []string{"one", "two"})
	assert.ErrorContains(t, err, "embedding count mismatch")
}

func TestGenerateEmbeddings_APIError(t *testing.T) {
	server := mockOpenAIServer(t, http.StatusUnauthorized, `{
		"error": {
			"message": "The API key is invalid",
			"type": "invalid_request_error",
			"param": null,
			"code": "invalid_api_key"
		}
	}`)

	adapter, err := openai.New(openai.Config{APIKey: "invalid-key", BaseURL: server.URL})
	require.NoError(t, err)

	embeddings, err := adapter.GenerateEmbeddings(context.Background(), []string{"Hello world"})
	assert.Error(t, err)
	assert.Nil(t, embeddings)
	assert.Contains(t, err.Error(), "invalid")
}

func TestProcess_Success(t *testing.T) {
	var captured map[string]any
	server := capturingServer(t, chatResponse, &captured)

	adapter, err := openai.New(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	response, err := adapter.Process(context.Background(), "Enter the cave")
	require.NoError(t, err)
	assert.Equal(t, "The torch gutters as you step inside.", response)

	assert.Equal(t, openai.DefaultChatModel, captured["model"])
	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestProcessMessages_Options(t *testing.T) {
	var captured map[string]any
	server := capturingServer(t, chatResponse, &captured)

	adapter, err := openai.New(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = adapter.ProcessMessages(context.Background(), []reasoning.Message{
		{Role: reasoning.RoleSystem, Content: "You are a narrator."},
		{Role: reasoning.RoleUser, Content: "Begin."},
	}, reasoning.WithModel("gpt-4o-mini"), reasoning.WithMaxTokens(64), reasoning.WithTemperature(0.5))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	assert.EqualValues(t, 64, captured["max_tokens"])
	assert.InDelta(t, 0.5, captured["temperature"], 0.001)
	assert.Len(t, captured["messages"], 2)
}

func TestProcess_NoChoices(t *testing.T) {
	server := mockOpenAIServer(t, http.StatusOK, `{"id": "x", "object": "chat.completion", "choices": []}`)

	adapter, err := openai.New(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = adapter.Process(context.Background(), "hello")
	assert.ErrorIs(t, err, openai.ErrNoChoices)
}

func TestProcess_APIError(t *testing.T) {
	server := mockOpenAIServer(t, http.StatusTooManyRequests, `{
		"error": {
			"message": "Rate limit exceeded",
			"type": "rate_limit_error",
			"param": null,
			"code": "rate_limit_exceeded"
		}
	}`)

	adapter, err := openai.New(openai.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	response, err := adapter.Process(context.Background(), "Hello, how are you?")
	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "Rate limit")
}

func TestInitialization(t *testing.T) {
	adapter, err := openai.New(openai.Config{APIKey: "test-key"})
	assert.NoError(t, err)
	require.NotNil(t, adapter)
	assert.Equal(t, openai.DefaultEmbeddingModel, adapter.EmbeddingModel())

	adapter, err = openai.New(openai.Config{})
	assert.ErrorIs(t, err, openai.ErrEmptyAPIKey)
	assert.Nil(t, adapter)
}
