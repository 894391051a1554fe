package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/embedding"
	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/reasoning"
)

// ErrMockEngine is returned by every call while the engine is set to fail.
var ErrMockEngine = errors.New("mock reasoning engine error")

// Call represents a recorded method call on the mock engine.
type Call struct {
	// Method is the name of the method that was called.
	Method string

	// Prompt is the prompt, or the last message content for ProcessMessages.
	Prompt string

	// Messages is the full transcript passed to ProcessMessages.
	Messages []reasoning.Message

	// Texts are the inputs to GenerateEmbeddings.
	Texts []string

	// Options are the resolved generation options.
	Options reasoning.Options
}

// Engine implements reasoning.Engine with canned responses and hash embeddings.
type Engine struct {
	// cannedResponses maps prompt substrings to predetermined responses,
	// checked in insertion order
	cannedKeys      []string
	cannedResponses map[string]string
	defaultResponse string

	// cannedEmbeddings override the hash embedding for exact texts
	cannedEmbeddings map[string][]float32
	dimensions       int

	shouldError bool

	mutex       sync.RWMutex
	callHistory []Call
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultResponse sets the response returned when no canned response matches.
func WithDefaultResponse(resp string) Option {
	return func(m *Engine) {
		m.defaultResponse = resp
	}
}

// WithDimensions sets the size of generated hash embeddings.
func WithDimensions(dims int) Option {
	return func(m *Engine) {
		m.dimensions = dims
	}
}

// WithShouldError configures whether the engine returns errors.
func WithShouldError(shouldErr bool) Option {
	return func(m *Engine) {
		m.shouldError = shouldErr
	}
}

// New creates a mock engine with the given options.
func New(opts ...Option) *Engine {
	m := &Engine{
		cannedResponses:  make(map[string]string),
		defaultResponse:  "This is a mock response",
		cannedEmbeddings: make(map[string][]float32),
		dimensions:       64,
	}
	for _, opt := range opts {
		opt(m)
	}

	log.Debug("Created mock reasoning engine", "dimensions", m.dimensions)
	return m
}

// Process implements reasoning.Engine.
func (m *Engine) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	options := reasoning.Apply(opts...)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{Method: "Process", Prompt: prompt, Options: options})
	if m.shouldError {
		return "", goerr.Wrap(ErrMockEngine, "process")
	}
	return m.respond(prompt), nil
}

// ProcessMessages implements reasoning.Engine. Canned responses are matched
// against the concatenated transcript.
func (m *Engine) ProcessMessages(ctx context.Context, messages []reasoning.Message, opts ...reasoning.Option) (string, error) {
	options := reasoning.Apply(opts...)

	var transcript strings.Builder
	for _, msg := range messages {
		transcript.WriteString(msg.Content)
		transcript.WriteByte('\n')
	}
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method:   "ProcessMessages",
		Prompt:   last,
		Messages: append([]reasoning.Message(nil), messages...),
		Options:  options,
	})
	if m.shouldError {
		return "", goerr.Wrap(ErrMockEngine, "process messages")
	}
	return m.respond(transcript.String()), nil
}

// respond finds the first canned response whose key occurs in prompt.
// Callers must hold the lock.
func (m *Engine) respond(prompt string) string {
	for _, key := range m.cannedKeys {
		if strings.Contains(prompt, key) {
			return m.cannedResponses[key]
		}
	}
	return m.defaultResponse
}

// GenerateEmbeddings implements reasoning.Engine.
func (m *Engine) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method: "GenerateEmbeddings",
		Texts:  append([]string(nil), texts...),
	})
	if m.shouldError {
		return nil, goerr.Wrap(ErrMockEngine, "generate embeddings")
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := m.cannedEmbeddings[text]; ok {
			embeddings[i] = vec
			continue
		}
		embeddings[i] = embedding.HashVector(text, m.dimensions)
	}
	return embeddings, nil
}

// AddResponse adds a canned response for prompts containing key.
func (m *Engine) AddResponse(key, response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.cannedResponses[key]; !exists {
		m.cannedKeys = append(m.cannedKeys, key)
	}
	m.cannedResponses[key] = response
}

// SetDefaultResponse sets the default response.
func (m *Engine) SetDefaultResponse(response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.defaultResponse = response
}

// AddEmbedding pins the embedding returned for an exact text.
func (m *Engine) AddEmbedding(text string, vec []float32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cannedEmbeddings[text] = vec
}

// SetShouldError configures whether the engine returns errors.
func (m *Engine) SetShouldError(shouldErr bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.shouldError = shouldErr
}

// GetCallHistory returns a copy of the call history.
func (m *Engine) GetCallHistory() []Call {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	history := make([]Call, len(m.callHistory))
	copy(history, m.callHistory)
	return history
}

// CallsTo returns the recorded calls of one method.
func (m *Engine) CallsTo(method string) []Call {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []Call
	for _, c := range m.callHistory {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ClearHistory clears the call history.
func (m *Engine) ClearHistory() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callHistory = nil
}
