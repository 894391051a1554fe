package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/embedding"
	"github.com/lexlapax/questweaver/pkg/reasoning"
)

func TestEngine_Process(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(*Engine)
		prompt         string
		opts           []reasoning.Option
		expectedResult string
		expectError    bool
	}{
		{
			name: "substring match canned response",
			setup: func(m *Engine) {
				m.AddResponse("cave", "The cave is dark.")
			},
			prompt:         "I enter the cave",
			expectedResult: "The cave is dark.",
		},
		{
			name: "first inserted key wins",
			setup: func(m *Engine) {
				m.AddResponse("cave", "first")
				m.AddResponse("enter", "second")
			},
			prompt:         "I enter the cave",
			expectedResult: "first",
		},
		{
			name: "default response when no match",
			setup: func(m *Engine) {
				m.SetDefaultResponse("Nothing happens.")
			},
			prompt:         "unknown prompt",
			expectedResult: "Nothing happens.",
		},
		{
			name: "error switch",
			setup: func(m *Engine) {
				m.SetShouldError(true)
			},
			prompt:      "anything",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := New()
			if tt.setup != nil {
				tt.setup(engine)
			}

			result, err := engine.Process(context.Background(), tt.prompt, tt.opts...)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrMockEngine)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedResult, result)
			}

			history := engine.GetCallHistory()
			require.Len(t, history, 1)
			assert.Equal(t, "Process", history[0].Method)
			assert.Equal(t, tt.prompt, history[0].Prompt)
		})
	}
}

func TestEngine_ProcessMessages(t *testing.T) {
	engine := New()
	engine.AddResponse("dragon", "The dragon roars.")

	messages := []reasoning.Message{
		{Role: reasoning.RoleSystem, Content: "You narrate a dragon story."},
		{Role: reasoning.RoleUser, Content: "I draw my sword."},
	}
	result, err := engine.ProcessMessages(context.Background(), messages, reasoning.WithTemperature(0.2))
	require.NoError(t, err)
	assert.Equal(t, "The dragon roars.", result)

	calls := engine.CallsTo("ProcessMessages")
	require.Len(t, calls, 1)
	assert.Equal(t, "I draw my sword.", calls[0].Prompt)
	assert.Equal(t, messages, calls[0].Messages)
	assert.Equal(t, 0.2, calls[0].Options.Temperature)
}

func TestEngine_GenerateEmbeddings(t *testing.T) {
	engine := New(WithDimensions(8))
	engine.AddEmbedding("pinned", []float32{1, 0, 0, 0, 0, 0, 0, 0})

	results, err := engine.GenerateEmbeddings(context.Background(), []string{"pinned", "hashed"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 0, 0, 0}, results[0])
	assert.Equal(t, embedding.HashVector("hashed", 8), results[1])

	engine.SetShouldError(true)
	_, err = engine.GenerateEmbeddings(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrMockEngine)

	calls := engine.CallsTo("GenerateEmbeddings")
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"pinned", "hashed"}, calls[0].Texts)
}

func TestEngine_Options(t *testing.T) {
	engine := New(WithDefaultResponse("Default response"), WithShouldError(false))

	result, err := engine.Process(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.Equal(t, "Default response", result)
}

func TestEngine_ClearHistory(t *testing.T) {
	engine := New()

	ctx := context.Background()
	_, _ = engine.Process(ctx, "prompt1")
	_, _ = engine.Process(ctx, "prompt2")
	_, _ = engine.GenerateEmbeddings(ctx, []string{"text1", "text2"})
	assert.Len(t, engine.GetCallHistory(), 3)

	engine.ClearHistory()
	assert.Len(t, engine.GetCallHistory(), 0)
}
