package config

import (
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/lexlapax/questweaver/pkg/log"
)

const defaultDimensions = 1536

// Default returns the configuration used when no file is given: a persistent
// chromem-go index, OpenAI for reasoning and embeddings.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{
			Index:         IndexChromemGo,
			Overfetch:     10,
			ScopePushdown: true,
			CallTimeout:   30 * time.Second,
			ChromemGo: ChromemGoConfig{
				Collection:  "quest_memories",
				StoragePath: "./data/chromem",
			},
			PgVector: PgVectorConfig{Migrate: true},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "quest_memories",
			},
			BoltDB: FileConfig{Path: "./data/questweaver.bolt.db"},
			SQLite: FileConfig{Path: "./data/questweaver.db"},
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOpenAI,
			Dimensions: defaultDimensions,
		},
		Reasoning: ReasoningConfig{
			Provider: ProviderOpenAI,
			OpenAI: OpenAIConfig{
				Model:          "gpt-4o",
				EmbeddingModel: "text-embedding-ada-002",
				Temperature:    1.0,
				MaxTokens:      1024,
			},
		},
		Story: StoryConfig{RelevantK: 5, RecentLimit: 6, SummaryK: 20},
		Scripting: ScriptingConfig{
			Paths: []string{"./scripts"},
		},
		Logging: log.Config{Level: log.InfoLevel, Format: log.ConsoleFormat},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice. Keys missing from
// the document keep their Default values.
func LoadFromBytes(data []byte) (*Config, error) {
	config := Default()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config")
	}

	applyEnvironmentOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, goerr.Wrap(err, "invalid configuration")
	}

	return config, nil
}

// FromEnvironment returns Default with environment overrides applied and
// validated, for runs without a config file.
func FromEnvironment() (*Config, error) {
	config := Default()
	applyEnvironmentOverrides(config)
	if err := validateConfig(config); err != nil {
		return nil, goerr.Wrap(err, "invalid configuration")
	}
	return config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Reasoning.OpenAI.APIKey = apiKey
	}

	if connStr := os.Getenv("PGVECTOR_URL"); connStr != "" {
		config.Memory.PgVector.ConnectionString = connStr
	}

	if host := os.Getenv("QDRANT_HOST"); host != "" {
		config.Memory.Qdrant.Host = host
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		config.Memory.Qdrant.APIKey = apiKey
	}

	if index := os.Getenv("QUESTWEAVER_INDEX"); index != "" {
		config.Memory.Index = index
	}

	if level := os.Getenv("QUESTWEAVER_LOG_LEVEL"); level != "" {
		config.Logging.Level = log.Level(level)
	}
}

// validateConfig validates the configuration and fills zero values with
// defaults.
func validateConfig(config *Config) error {
	defaults := Default()
	mem := &config.Memory

	mem.Index = strings.ToLower(mem.Index)
	switch mem.Index {
	case IndexChromemGo:
		if mem.ChromemGo.Collection == "" {
			mem.ChromemGo.Collection = defaults.Memory.ChromemGo.Collection
		}
	case IndexPgVector:
		if mem.PgVector.ConnectionString == "" {
			return goerr.New("connection string is required for pgvector index")
		}
	case IndexQdrant:
		if mem.Qdrant.Host == "" {
			mem.Qdrant.Host = defaults.Memory.Qdrant.Host
		}
		if mem.Qdrant.Port == 0 {
			mem.Qdrant.Port = defaults.Memory.Qdrant.Port
		}
		if mem.Qdrant.Collection == "" {
			mem.Qdrant.Collection = defaults.Memory.Qdrant.Collection
		}
	case IndexBoltDB:
		if mem.BoltDB.Path == "" {
			return goerr.New("path is required for boltdb index")
		}
	case IndexSQLite:
		if mem.SQLite.Path == "" {
			return goerr.New("path is required for sqlite index")
		}
	case IndexMock:
	default:
		return goerr.New("unsupported memory index", goerr.V("index", mem.Index))
	}

	if mem.Overfetch < 1 {
		return goerr.New("overfetch must be at least 1", goerr.V("overfetch", mem.Overfetch))
	}
	if mem.CallTimeout < 0 {
		return goerr.New("call timeout cannot be negative", goerr.V("call_timeout", mem.CallTimeout))
	}

	switch strings.ToLower(config.Reasoning.Provider) {
	case ProviderOpenAI:
		if config.Reasoning.OpenAI.Model == "" {
			config.Reasoning.OpenAI.Model = defaults.Reasoning.OpenAI.Model
		}
		if config.Reasoning.OpenAI.EmbeddingModel == "" {
			config.Reasoning.OpenAI.EmbeddingModel = defaults.Reasoning.OpenAI.EmbeddingModel
		}
		if config.Reasoning.OpenAI.MaxTokens <= 0 {
			config.Reasoning.OpenAI.MaxTokens = defaults.Reasoning.OpenAI.MaxTokens
		}
	case ProviderMock:
	default:
		return goerr.New("unsupported reasoning provider", goerr.V("provider", config.Reasoning.Provider))
	}

	switch strings.ToLower(config.Embedding.Provider) {
	case ProviderOpenAI, ProviderHash:
		if config.Embedding.Dimensions <= 0 {
			config.Embedding.Dimensions = defaultDimensions
		}
	default:
		return goerr.New("unsupported embedding provider", goerr.V("provider", config.Embedding.Provider))
	}

	if _, err := config.IndexDimensions(); err != nil {
		return err
	}

	if config.Story.RelevantK <= 0 {
		config.Story.RelevantK = defaults.Story.RelevantK
	}
	if config.Story.RecentLimit <= 0 {
		config.Story.RecentLimit = defaults.Story.RecentLimit
	}
	if config.Story.SummaryK <= 0 {
		config.Story.SummaryK = defaults.Story.SummaryK
	}

	for i, rule := range config.Scripting.Rules {
		if rule.Function == "" || rule.Kind == "" {
			return goerr.New("scripting rule needs a function and a kind", goerr.V("rule", i))
		}
	}

	if config.Logging.Level == "" {
		config.Logging.Level = log.InfoLevel
	}
	if config.Logging.Format == "" {
		config.Logging.Format = log.ConsoleFormat
	}

	return nil
}
