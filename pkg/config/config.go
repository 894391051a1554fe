package config

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/log"
)

// Index backends accepted by memory.index.
const (
	IndexChromemGo = "chromemgo"
	IndexPgVector  = "pgvector"
	IndexQdrant    = "qdrant"
	IndexBoltDB    = "boltdb"
	IndexSQLite    = "sqlite"
	IndexMock      = "mock"
)

// Providers accepted by embedding.provider and reasoning.provider.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
	ProviderMock   = "mock"
)

// Config represents the top-level configuration for QuestWeaver.
type Config struct {
	// Memory configures the memory store and its vector index
	Memory MemoryConfig `yaml:"memory"`

	// Embedding configures how text is turned into vectors
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Reasoning configures the reasoning engine (LLM)
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Story configures retrieval sizes used by the story generator
	Story StoryConfig `yaml:"story"`

	// Scripting configures the Lua scripting engine
	Scripting ScriptingConfig `yaml:"scripting"`

	// Logging configures the logging behavior
	Logging log.Config `yaml:"logging"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	// Index selects the vector index backend
	Index string `yaml:"index"`

	// Overfetch multiplies K for relevance queries before in-process filtering
	Overfetch int `yaml:"overfetch"`

	// ScopePushdown passes the owner filter to the index on relevance queries
	ScopePushdown bool `yaml:"scope_pushdown"`

	// CallTimeout bounds each store operation; zero disables it
	CallTimeout time.Duration `yaml:"call_timeout"`

	ChromemGo ChromemGoConfig `yaml:"chromemgo"`
	PgVector  PgVectorConfig  `yaml:"pgvector"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	BoltDB    FileConfig      `yaml:"boltdb"`
	SQLite    FileConfig      `yaml:"sqlite"`
}

// ChromemGoConfig configures chromem-go vector storage.
type ChromemGoConfig struct {
	// Collection is the collection name to use
	Collection string `yaml:"collection"`

	// StoragePath is the path for on-disk persistent storage (if empty, in-memory is used)
	StoragePath string `yaml:"storage_path"`

	// Compress gzips persisted documents
	Compress bool `yaml:"compress"`

	// Dimensions is the vector size; zero follows embedding.dimensions
	Dimensions int `yaml:"dimensions"`
}

// PgVectorConfig configures PostgreSQL with the pgvector extension.
type PgVectorConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string `yaml:"connection_string"`

	// Dimensions is the vector column size; zero follows embedding.dimensions
	Dimensions int `yaml:"dimensions"`

	// Migrate applies the embedded schema migrations on startup
	Migrate bool `yaml:"migrate"`
}

// QdrantConfig configures the qdrant vector database.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`

	// Dimensions sizes a new collection; zero follows embedding.dimensions
	Dimensions int `yaml:"dimensions"`
}

// FileConfig configures a file-backed index.
type FileConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" (through the reasoning engine) or "hash"
	Provider string `yaml:"provider"`

	// Dimensions is the size of every vector the provider returns. The
	// vector index is sized from it.
	Dimensions int `yaml:"dimensions"`

	// CacheEntries enables an in-memory embedding cache when > 0
	CacheEntries int64 `yaml:"cache_entries"`
}

// ReasoningConfig configures the reasoning engine (LLM).
type ReasoningConfig struct {
	// Provider is the LLM provider ("openai", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures OpenAI integration
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures OpenAI integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the OpenAI model to use for chat/completion
	Model string `yaml:"model"`

	// EmbeddingModel is the model to use for generating embeddings
	EmbeddingModel string `yaml:"embedding_model"`

	// BaseURL overrides the API endpoint
	BaseURL string `yaml:"base_url"`

	// Temperature controls randomness in generation
	Temperature float32 `yaml:"temperature"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `yaml:"max_tokens"`
}

// StoryConfig configures retrieval sizes for story generation.
type StoryConfig struct {
	RelevantK   int `yaml:"relevant_k"`
	RecentLimit int `yaml:"recent_limit"`
	SummaryK    int `yaml:"summary_k"`
}

// ScriptingConfig configures the Lua scripting engine.
type ScriptingConfig struct {
	// Paths is a list of directories containing Lua scripts
	Paths []string `yaml:"paths"`

	// Rules registers Lua functions as narrative classification rules
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig binds a Lua predicate to a memory kind.
type RuleConfig struct {
	// Function is the global Lua function called as f(line, role) -> bool
	Function string `yaml:"function"`

	// Kind is the memory kind stored for matching lines
	Kind string `yaml:"kind"`

	// Prefix is prepended to the line to form the description
	Prefix string `yaml:"prefix"`
}

// IndexDimensions returns the vector size of the selected index. An unset
// index size follows Embedding.Dimensions; a different explicit size is an
// error.
func (c *Config) IndexDimensions() (int, error) {
	var dims int
	switch strings.ToLower(c.Memory.Index) {
	case IndexChromemGo, "":
		dims = c.Memory.ChromemGo.Dimensions
	case IndexPgVector:
		dims = c.Memory.PgVector.Dimensions
	case IndexQdrant:
		dims = c.Memory.Qdrant.Dimensions
	default:
		return c.Embedding.Dimensions, nil
	}

	switch {
	case dims <= 0:
		return c.Embedding.Dimensions, nil
	case c.Embedding.Dimensions > 0 && dims != c.Embedding.Dimensions:
		return 0, goerr.New("index dimensions differ from embedding dimensions",
			goerr.V("index", c.Memory.Index),
			goerr.V("index_dimensions", dims),
			goerr.V("embedding_dimensions", c.Embedding.Dimensions))
	}
	return dims, nil
}
