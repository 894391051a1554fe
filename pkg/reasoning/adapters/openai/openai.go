package openai

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/reasoning"
)

const (
	// DefaultChatModel narrates the story
	DefaultChatModel = "gpt-4o"

	// DefaultEmbeddingModel embeds memories and queries
	DefaultEmbeddingModel = "text-embedding-ada-002"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")

	// ErrNoChoices is returned when the API answers without a completion.
	ErrNoChoices = errors.New("no response choices returned")
)

// Config holds the configuration for the OpenAI adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// EmbeddingModel is the model to use for embeddings.
	EmbeddingModel string
	// ChatModel is the model to use for chat completions.
	ChatModel string
	// BaseURL overrides the API endpoint (proxies, tests).
	BaseURL string
}

// Adapter implements reasoning.Engine using the OpenAI API.
type Adapter struct {
	client         *openai.Client
	embeddingModel string
	chatModel      string
}

// New creates a new OpenAI adapter.
func New(config Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultEmbeddingModel
	}
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Adapter{
		client:         openai.NewClientWithConfig(clientConfig),
		embeddingModel: config.EmbeddingModel,
		chatModel:      config.ChatModel,
	}, nil
}

// EmbeddingModel returns the model used by GenerateEmbeddings.
func (a *Adapter) EmbeddingModel() string {
	return a.embeddingModel
}

// GenerateEmbeddings generates embeddings for the given texts, in input order.
func (a *Adapter) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", a.embeddingModel)

	response, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(a.embeddingModel),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embeddings",
			goerr.V("model", a.embeddingModel), goerr.V("count", len(texts)))
	}
	if len(response.Data) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("want", len(texts)), goerr.V("got", len(response.Data)))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range response.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, goerr.New("embedding index out of range", goerr.V("index", data.Index))
		}
		embeddings[data.Index] = data.Embedding
	}

	log.DebugContext(ctx, "Generated embeddings",
		"count", len(embeddings),
		"dimension", len(embeddings[0]),
		"model", a.embeddingModel)

	return embeddings, nil
}

// ProcessMessages sends a chat transcript and returns the trimmed reply.
func (a *Adapter) ProcessMessages(ctx context.Context, messages []reasoning.Message, opts ...reasoning.Option) (string, error) {
	options := reasoning.Apply(opts...)

	model := a.chatModel
	if options.Model != "" {
		model = options.Model
	}

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	log.DebugContext(ctx, "Processing chat request", "model", model, "messages", len(messages))

	response, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate chat completion", goerr.V("model", model))
	}
	if len(response.Choices) == 0 {
		return "", goerr.Wrap(ErrNoChoices, "empty completion", goerr.V("model", model))
	}

	log.DebugContext(ctx, "Generated response", "tokens", response.Usage.TotalTokens, "model", model)
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Process sends prompt as a single user message.
func (a *Adapter) Process(ctx context.Context, prompt string, opts ...reasoning.Option) (string, error) {
	return a.ProcessMessages(ctx, []reasoning.Message{
		{Role: reasoning.RoleUser, Content: prompt},
	}, opts...)
}
