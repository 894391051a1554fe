package reasoning

import (
	"context"
)

// Option is a function that configures a generation request.
type Option func(*Options)

// Options holds configuration for a generation request.
type Options struct {
	// Temperature controls randomness in generation
	Temperature float64

	// MaxTokens limits the length of the generated response
	MaxTokens int

	// Model specifies which model variant to use
	Model string
}

// DefaultOptions returns default generation options. Story narration runs hot.
func DefaultOptions() Options {
	return Options{
		Temperature: 1.0,
		MaxTokens:   1024,
		Model:       "", // Empty means use the adapter's default
	}
}

// WithTemperature sets the temperature option.
func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the max tokens option.
func WithMaxTokens(tokens int) Option {
	return func(o *Options) {
		o.MaxTokens = tokens
	}
}

// WithModel sets the model option.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// Apply folds opts over DefaultOptions.
func Apply(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Message roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat transcript.
type Message struct {
	Role    string
	Content string
}

// Engine is the interface for text generation backends (LLMs).
type Engine interface {
	// Process sends a single user prompt and returns the completion.
	Process(ctx context.Context, prompt string, opts ...Option) (string, error)

	// ProcessMessages sends a full transcript and returns the next assistant turn.
	ProcessMessages(ctx context.Context, messages []Message, opts ...Option) (string, error)

	// GenerateEmbeddings creates vector embeddings for the provided texts.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}
