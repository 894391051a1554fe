package story

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/memory"
	"github.com/lexlapax/questweaver/pkg/narrative"
	"github.com/lexlapax/questweaver/pkg/reasoning"
	"github.com/lexlapax/questweaver/pkg/scope"
)

// MemoryStore is the part of *memory.Store the generator depends on.
type MemoryStore interface {
	Store(ctx context.Context, in memory.Input) (string, error)
	RetrieveRelevant(ctx context.Context, q memory.Query) ([]memory.Record, error)
	RetrieveRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]memory.Record, error)
	DeleteConversation(ctx context.Context, conversationID string) (bool, error)
}

// Config contains generation and retrieval settings.
type Config struct {
	// Temperature is passed to every generation call
	Temperature float64

	// MaxTokens caps each generation; zero leaves the engine default
	MaxTokens int

	// RelevantK caps the memories retrieved for a continuation
	RelevantK int

	// RecentLimit caps the recency window for a continuation
	RecentLimit int

	// SummaryK caps the memories used for a summary
	SummaryK int

	// HistoryMessages is how many transcript messages are replayed
	HistoryMessages int

	// RelevantKinds restricts continuation retrieval
	RelevantKinds []string

	// SummaryKinds restricts summary retrieval
	SummaryKinds []string
}

// DefaultConfig returns the default configuration for the generator.
func DefaultConfig() Config {
	return Config{
		Temperature:     1.0,
		RelevantK:       5,
		RecentLimit:     6,
		SummaryK:        20,
		HistoryMessages: 6,
		RelevantKinds:   []string{memory.KindAction, memory.KindEvent, memory.KindLore, memory.KindNPC, memory.KindLocation},
		SummaryKinds:    []string{memory.KindInitialStory, memory.KindEvent, memory.KindLore, memory.KindAction},
	}
}

// Session identifies one player's story.
type Session struct {
	OwnerID        string
	ConversationID string
}

// Setup holds the player's choices for a new story.
type Setup struct {
	Genre          string
	Character      string
	WorldAdditions string
	Actions        string
}

// Generator drives the story loop: remember the turn, recall context,
// generate, remember the reply.
type Generator struct {
	memory     MemoryStore
	engine     reasoning.Engine
	classifier *narrative.Classifier
	config     Config
}

// NewGenerator creates a Generator. A nil classifier uses the default rules.
func NewGenerator(store MemoryStore, engine reasoning.Engine, classifier *narrative.Classifier, cfg Config) *Generator {
	if classifier == nil {
		classifier = narrative.DefaultClassifier()
	}
	return &Generator{
		memory:     store,
		engine:     engine,
		classifier: classifier,
		config:     cfg,
	}
}

func (g *Generator) options() []reasoning.Option {
	opts := []reasoning.Option{reasoning.WithTemperature(g.config.Temperature)}
	if g.config.MaxTokens > 0 {
		opts = append(opts, reasoning.WithMaxTokens(g.config.MaxTokens))
	}
	return opts
}

func (g *Generator) scoped(ctx context.Context, s Session) context.Context {
	return scope.WithScope(ctx, scope.New(s.OwnerID, s.ConversationID))
}

// StartStory generates the opening scene and stores it with its extractions.
func (g *Generator) StartStory(ctx context.Context, s Session, setup Setup) (string, error) {
	ctx = g.scoped(ctx, s)

	opening, err := g.engine.Process(ctx, openingPrompt(setup), g.options()...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate opening", goerr.V("genre", setup.Genre))
	}

	_, err = g.memory.Store(ctx, memory.Input{
		Content:        opening,
		OwnerID:        s.OwnerID,
		ConversationID: s.ConversationID,
		Role:           memory.RoleAssistant,
		Kind:           memory.KindInitialStory,
		Extra: map[string]string{
			"genre":           setup.Genre,
			"character":       setup.Character,
			"world_additions": setup.WorldAdditions,
		},
	})
	if err != nil {
		return "", err
	}

	g.storeExtractions(ctx, s, opening)
	log.InfoContext(ctx, "Started story", "genre", setup.Genre)
	return opening, nil
}

// Continue records the player's action and generates the next scene.
// history is the client's transcript; only its tail is replayed.
func (g *Generator) Continue(ctx context.Context, s Session, action string, history []reasoning.Message) (string, error) {
	ctx = g.scoped(ctx, s)

	_, err := g.memory.Store(ctx, memory.Input{
		Content:        action,
		OwnerID:        s.OwnerID,
		ConversationID: s.ConversationID,
		Role:           memory.RoleUser,
		Kind:           memory.KindAction,
	})
	if err != nil {
		return "", err
	}

	relevant, err := g.memory.RetrieveRelevant(ctx, memory.Query{
		Text:           action,
		OwnerID:        s.OwnerID,
		ConversationID: s.ConversationID,
		K:              g.config.RelevantK,
		Kinds:          g.config.RelevantKinds,
	})
	if err != nil {
		return "", err
	}

	recent, err := g.memory.RetrieveRecent(ctx, s.OwnerID, s.ConversationID, g.config.RecentLimit)
	if err != nil {
		return "", err
	}

	if n := g.config.HistoryMessages; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	messages := make([]reasoning.Message, 0, len(history)+2)
	messages = append(messages, reasoning.Message{Role: reasoning.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, reasoning.Message{
		Role:    reasoning.RoleUser,
		Content: continuationPrompt(action, narrative.BuildContext(relevant), narrative.BuildContext(recent)),
	})

	reply, err := g.engine.ProcessMessages(ctx, messages, g.options()...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate continuation")
	}

	_, err = g.memory.Store(ctx, memory.Input{
		Content:        reply,
		OwnerID:        s.OwnerID,
		ConversationID: s.ConversationID,
		Role:           memory.RoleAssistant,
		Kind:           memory.KindResponse,
	})
	if err != nil {
		return "", err
	}

	g.storeExtractions(ctx, s, reply)
	log.DebugContext(ctx, "Continued story", "relevant", len(relevant), "recent", len(recent))
	return reply, nil
}

// Summary condenses the story so far, or returns NoEvents.
func (g *Generator) Summary(ctx context.Context, s Session) (string, error) {
	ctx = g.scoped(ctx, s)

	records, err := g.memory.RetrieveRelevant(ctx, memory.Query{
		Text:           "story summary events",
		OwnerID:        s.OwnerID,
		ConversationID: s.ConversationID,
		K:              g.config.SummaryK,
		Kinds:          g.config.SummaryKinds,
	})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return NoEvents, nil
	}

	summary, err := g.engine.Process(ctx, summaryPrompt(narrative.BuildContext(records)), g.options()...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary", goerr.V("memories", len(records)))
	}
	return summary, nil
}

// Cleanup deletes every memory of a conversation. Failures are logged and
// reported as false.
func (g *Generator) Cleanup(ctx context.Context, conversationID string) bool {
	ok, err := g.memory.DeleteConversation(ctx, conversationID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to clean up conversation memories", "conversation_id", conversationID, log.ErrAttr(err))
		return false
	}
	return ok
}

// storeExtractions writes auxiliary memories derived from assistant text.
// A failed write is logged and skipped.
func (g *Generator) storeExtractions(ctx context.Context, s Session, text string) {
	for _, ex := range g.classifier.ClassifyAndExtract(text, memory.RoleAssistant) {
		_, err := g.memory.Store(ctx, memory.Input{
			Content:        ex.Description,
			OwnerID:        s.OwnerID,
			ConversationID: s.ConversationID,
			Role:           memory.RoleAssistant,
			Kind:           ex.Kind,
		})
		if err != nil {
			log.WarnContext(ctx, "Failed to store extracted memory", "memory_kind", ex.Kind, log.ErrAttr(err))
		}
	}
}
