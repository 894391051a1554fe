// Package questweaver assembles the memory store, reasoning engine, Lua
// rules and story generator from a config.Config.
package questweaver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/lexlapax/questweaver/pkg/config"
	"github.com/lexlapax/questweaver/pkg/embedding"
	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/memory/adapters/kv/boltdb"
	memoryMock "github.com/lexlapax/questweaver/pkg/memory/adapters/mock"
	"github.com/lexlapax/questweaver/pkg/memory/adapters/sqlstore/sqlite"
	"github.com/lexlapax/questweaver/pkg/memory/adapters/vector/chromem_go"
	"github.com/lexlapax/questweaver/pkg/memory/adapters/vector/pgvector"
	"github.com/lexlapax/questweaver/pkg/memory/adapters/vector/qdrant"
	"github.com/lexlapax/questweaver/pkg/narrative"
	"github.com/lexlapax/questweaver/pkg/reasoning"
	reasoningMock "github.com/lexlapax/questweaver/pkg/reasoning/adapters/mock"
	reasoningOpenAI "github.com/lexlapax/questweaver/pkg/reasoning/adapters/openai"
	"github.com/lexlapax/questweaver/pkg/scripting"
	"github.com/lexlapax/questweaver/pkg/story"
)

// App holds every component built from a configuration. Close releases
// the index connection, the embedding cache and the Lua state.
type App struct {
	Config     *config.Config
	Memory     *memory.Store
	Engine     reasoning.Engine
	Scripts    scripting.Engine
	Classifier *narrative.Classifier
	Story      *story.Generator

	closers []func() error
}

// NewFromFile loads the configuration at path and builds an App.
func NewFromFile(ctx context.Context, path string) (*App, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load configuration")
	}
	return New(ctx, cfg)
}

// New builds an App from cfg. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	index, err := app.initIndex(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize vector index", goerr.V("index", cfg.Memory.Index))
	}

	app.Engine, err = initReasoningEngine(cfg)
	if err != nil {
		_ = app.Close()
		return nil, goerr.Wrap(err, "failed to initialize reasoning engine")
	}

	embedder, err := app.initEmbedder()
	if err != nil {
		_ = app.Close()
		return nil, goerr.Wrap(err, "failed to initialize embedder", goerr.V("provider", cfg.Embedding.Provider))
	}

	app.Memory, err = memory.NewStore(embedder, index,
		memory.WithOverfetch(cfg.Memory.Overfetch),
		memory.WithScopePushdown(cfg.Memory.ScopePushdown),
		memory.WithCallTimeout(cfg.Memory.CallTimeout),
	)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Scripts, err = app.initScriptEngine()
	if err != nil {
		_ = app.Close()
		return nil, goerr.Wrap(err, "failed to initialize scripting engine")
	}
	app.Classifier = newClassifier(app.Scripts, cfg.Scripting.Rules)

	app.Story = story.NewGenerator(app.Memory, app.Engine, app.Classifier, storyConfig(cfg))

	log.Info("QuestWeaver initialized from config",
		"index", cfg.Memory.Index,
		"embedding_provider", cfg.Embedding.Provider,
		"reasoning_provider", cfg.Reasoning.Provider,
		"rules", len(app.Classifier.Rules()),
	)
	return app, nil
}

// Close releases resources in reverse order of acquisition and returns
// the first error.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func storyConfig(cfg *config.Config) story.Config {
	sc := story.DefaultConfig()
	sc.Temperature = float64(cfg.Reasoning.OpenAI.Temperature)
	sc.MaxTokens = cfg.Reasoning.OpenAI.MaxTokens
	if cfg.Story.RelevantK > 0 {
		sc.RelevantK = cfg.Story.RelevantK
	}
	if cfg.Story.RecentLimit > 0 {
		sc.RecentLimit = cfg.Story.RecentLimit
	}
	if cfg.Story.SummaryK > 0 {
		sc.SummaryK = cfg.Story.SummaryK
	}
	return sc
}

// initIndex opens the vector index selected by memory.index.
func (a *App) initIndex(ctx context.Context) (memory.VectorIndex, error) {
	mc := a.Config.Memory
	indexType := strings.ToLower(mc.Index)
	dims, err := a.Config.IndexDimensions()
	if err != nil {
		return nil, err
	}
	log.Info("Initializing vector index", "type", indexType, "dimensions", dims)

	switch indexType {
	case config.IndexChromemGo, "":
		db, err := chromem_go.NewDB(mc.ChromemGo.StoragePath, mc.ChromemGo.Compress)
		if err != nil {
			return nil, err
		}
		return chromem_go.New(db, chromem_go.Config{
			Collection: mc.ChromemGo.Collection,
			Dimensions: dims,
		})

	case config.IndexPgVector:
		adapter, err := pgvector.New(ctx, pgvector.Config{
			ConnectionString: mc.PgVector.ConnectionString,
			Dimensions:       dims,
			Migrate:          mc.PgVector.Migrate,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func() error {
			adapter.Close()
			return nil
		})
		return adapter, nil

	case config.IndexQdrant:
		adapter, err := qdrant.New(ctx, qdrant.Config{
			Host:       mc.Qdrant.Host,
			Port:       mc.Qdrant.Port,
			APIKey:     mc.Qdrant.APIKey,
			UseTLS:     mc.Qdrant.UseTLS,
			Collection: mc.Qdrant.Collection,
			Dimensions: dims,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(adapter.Close)
		return adapter, nil

	case config.IndexBoltDB:
		if err := ensureDir(mc.BoltDB.Path); err != nil {
			return nil, err
		}
		db, err := bolt.Open(mc.BoltDB.Path, 0600, nil)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open BoltDB database", goerr.V("path", mc.BoltDB.Path))
		}
		a.onClose(db.Close)
		return boltdb.New(db)

	case config.IndexSQLite:
		if err := ensureDir(mc.SQLite.Path); err != nil {
			return nil, err
		}
		store, err := sqlite.Open(ctx, mc.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(store.Close)
		return store, nil

	case config.IndexMock:
		log.Warn("Using in-memory mock index; memories are lost on exit")
		return memoryMock.New(), nil

	default:
		return nil, goerr.New("unsupported vector index")
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return goerr.Wrap(err, "failed to create data directory", goerr.V("dir", dir))
	}
	return nil
}

// initEmbedder builds the embedding provider, optionally behind a cache.
func (a *App) initEmbedder() (memory.Embedder, error) {
	ec := a.Config.Embedding

	var (
		embedder  memory.Embedder
		namespace string
	)
	switch strings.ToLower(ec.Provider) {
	case config.ProviderHash:
		embedder = embedding.NewHash(ec.Dimensions)
		namespace = config.ProviderHash
	case config.ProviderOpenAI, "":
		model := a.Config.Reasoning.OpenAI.EmbeddingModel
		embedder = embedding.FromEngine(a.Engine, model)
		namespace = model
	default:
		return nil, goerr.New("unsupported embedding provider")
	}

	if ec.CacheEntries <= 0 {
		return embedder, nil
	}

	cached, err := embedding.NewCached(embedder, embedding.CacheConfig{
		MaxEntries: ec.CacheEntries,
		Namespace:  namespace,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func() error {
		cached.Close()
		return nil
	})
	log.Debug("Enabled embedding cache", "max_entries", ec.CacheEntries)
	return cached, nil
}

// initScriptEngine creates the Lua engine and loads every configured
// script directory.
func (a *App) initScriptEngine() (scripting.Engine, error) {
	engine, err := scripting.NewLuaEngine(scripting.DefaultConfig())
	if err != nil {
		return nil, err
	}
	a.onClose(engine.Close)

	for _, path := range a.Config.Scripting.Paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			log.Warn("Failed to get absolute path", "path", path, log.ErrAttr(err))
			continue
		}
		if err := scripting.LoadAllScripts(engine, abs); err != nil {
			return nil, err
		}
		log.Debug("Loaded scripts", "path", abs)
	}
	return engine, nil
}

// newClassifier appends a Lua rule for each configured function to the
// built-in rules. Rules naming a function no script defines are skipped.
func newClassifier(engine scripting.Engine, rules []config.RuleConfig) *narrative.Classifier {
	all := narrative.DefaultRules()
	for _, rc := range rules {
		if !engine.HasFunction(rc.Function) {
			log.Warn("Skipping rule for undefined Lua function", "function", rc.Function, "memory_kind", rc.Kind)
			continue
		}
		all = append(all, narrative.LuaRule(engine, rc.Function, rc.Kind, rc.Prefix))
	}
	return narrative.NewClassifier(all...)
}

// initReasoningEngine builds the engine for reasoning.provider. OpenAI
// without an API key falls back to the mock engine.
func initReasoningEngine(cfg *config.Config) (reasoning.Engine, error) {
	provider := strings.ToLower(cfg.Reasoning.Provider)
	log.Info("Initializing reasoning engine", "provider", provider)

	switch provider {
	case config.ProviderOpenAI, "":
		oc := cfg.Reasoning.OpenAI
		if oc.APIKey == "" {
			log.Warn("OpenAI API key not found, falling back to mock engine")
			return newMockEngine(cfg), nil
		}

		adapter, err := reasoningOpenAI.New(reasoningOpenAI.Config{
			APIKey:         oc.APIKey,
			ChatModel:      oc.Model,
			EmbeddingModel: oc.EmbeddingModel,
			BaseURL:        oc.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		log.Info("Using OpenAI reasoning engine",
			"chat_model", oc.Model,
			"embedding_model", oc.EmbeddingModel)
		return adapter, nil

	case config.ProviderMock:
		log.Info("Using mock reasoning engine")
		return newMockEngine(cfg), nil

	default:
		return nil, goerr.New("unsupported reasoning provider", goerr.V("provider", provider))
	}
}

// newMockEngine returns a mock narrator with canned responses so the CLI
// is playable offline.
func newMockEngine(cfg *config.Config) *reasoningMock.Engine {
	dims := cfg.Embedding.Dimensions
	if dims <= 0 {
		dims = embedding.DefaultHashDimensions
	}
	engine := reasoningMock.New(reasoningMock.WithDimensions(dims))

	engine.AddResponse("Story Parameters:", mockOpening)
	engine.AddResponse("concise summary", "The adventurer arrived at the crossroads inn and has begun asking questions about the road north.")
	engine.SetDefaultResponse(mockTurn)
	return engine
}

const mockOpening = `**Title: The Crossroads Inn**

Rain hammers the shutters of the only inn for twenty leagues.
**The Crossroads Inn**
A hooded traveler meets your gaze from the corner table.

What do you do?
1. Approach the traveler
2. Ask the innkeeper about the road north
3. Take a room for the night
4. Step back into the storm`

const mockTurn = `The fire pops and the room goes quiet for a moment.
The innkeeper says the road north has been closed since the last moon.

What do you do?
1. Press the innkeeper for details
2. Return to the traveler
3. Check the stables
4. Rest until morning`
