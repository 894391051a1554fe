package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/scope"
)

// DefaultOverfetch is the minimum multiplier applied to K when querying the
// index, leaving room for in-process filtering.
const DefaultOverfetch = 10

// DefaultWatermarkLimit caps how many conversations keep a created_at
// watermark in memory.
const DefaultWatermarkLimit = 10000

// Input is a single write request.
type Input struct {
	Content        string
	OwnerID        string
	ConversationID string
	Role           Role
	Kind           string
	Extra          map[string]string
}

// Store is the semantic memory store. It owns no state beyond its
// dependencies and a bounded per-conversation created_at watermark, and is
// safe for concurrent use.
type Store struct {
	embedder Embedder
	index    VectorIndex

	overfetch   int
	pushdown    bool
	callTimeout time.Duration
	now         func() time.Time
	newID       IDGenerator

	mu             sync.Mutex
	watermark      map[string]int64
	watermarkLimit int
}

// Option configures a Store
type Option func(*Store)

// WithOverfetch sets the K multiplier for nearest-neighbor queries. Values
// below DefaultOverfetch are raised to it.
func WithOverfetch(n int) Option {
	return func(s *Store) {
		if n < DefaultOverfetch {
			n = DefaultOverfetch
		}
		s.overfetch = n
	}
}

// WithScopePushdown controls whether the owner_id filter is sent to the
// index on relevance queries. Results are re-filtered in-process either way.
func WithScopePushdown(enabled bool) Option {
	return func(s *Store) {
		s.pushdown = enabled
	}
}

// WithCallTimeout bounds every store operation. Zero means the caller's
// context alone governs.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.callTimeout = d
	}
}

// WithWatermarkLimit caps the number of conversations whose created_at
// watermark is held. Past the cap the stalest conversations are dropped and
// their next write is stamped from the clock alone. Values below one use
// DefaultWatermarkLimit.
func WithWatermarkLimit(n int) Option {
	return func(s *Store) {
		if n < 1 {
			n = DefaultWatermarkLimit
		}
		s.watermarkLimit = n
	}
}

// WithClock overrides the wall clock used for created_at and IDs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides DefaultID.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// NewStore creates a memory store over the given embedder and index.
func NewStore(embedder Embedder, index VectorIndex, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}
	if index == nil {
		return nil, goerr.New("vector index is required")
	}

	s := &Store{
		embedder:  embedder,
		index:     index,
		overfetch: DefaultOverfetch,
		pushdown:  true,
		now:       time.Now,
		newID:     DefaultID,

		watermark:      make(map[string]int64),
		watermarkLimit: DefaultWatermarkLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store embeds content and writes it as one record, returning the new ID.
func (s *Store) Store(ctx context.Context, in Input) (string, error) {
	if err := validateInput(in); err != nil {
		return "", err
	}
	if in.Kind == "" {
		in.Kind = KindGeneral
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = scope.WithScope(ctx, scope.New(in.OwnerID, in.ConversationID))

	vec, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		return "", errors.Mark(wrapInput(err, "failed to embed memory", in), errors.ErrEmbeddingFailure)
	}
	if len(vec) == 0 {
		return "", errors.Mark(wrapInput(goerr.New("embedder returned an empty vector"), "failed to embed memory", in), errors.ErrEmbeddingFailure)
	}

	at := s.now()
	rec := Record{
		ID:             s.newID(in.ConversationID, in.Role, at),
		Content:        in.Content,
		OwnerID:        in.OwnerID,
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Kind:           in.Kind,
		CreatedAt:      s.stamp(in.OwnerID, in.ConversationID, at.Unix()),
		Extra:          in.Extra,
	}

	if err := s.index.Upsert(ctx, rec.Document(vec)); err != nil {
		return "", errors.Mark(goerr.Wrap(err, "failed to write memory",
			goerr.V("id", rec.ID),
			goerr.V("owner_id", rec.OwnerID),
			goerr.V("conversation_id", rec.ConversationID),
			goerr.V("role", string(rec.Role)),
			goerr.V("memory_kind", rec.Kind)), errors.ErrStoreFailure)
	}

	log.DebugContext(ctx, "Stored memory", "id", rec.ID, "memory_kind", rec.Kind, "role", rec.Role)
	return rec.ID, nil
}

func wrapInput(err error, msg string, in Input) error {
	return goerr.Wrap(err, msg,
		goerr.V("owner_id", in.OwnerID),
		goerr.V("conversation_id", in.ConversationID),
		goerr.V("role", string(in.Role)),
		goerr.V("memory_kind", in.Kind))
}

func validateInput(in Input) error {
	switch {
	case strings.TrimSpace(in.Content) == "":
		return errors.Mark(goerr.New("content is empty"), errors.ErrInvalidInput)
	case in.OwnerID == "":
		return errors.Mark(goerr.New("owner_id is empty"), errors.ErrInvalidInput)
	case in.ConversationID == "":
		return errors.Mark(goerr.New("conversation_id is empty"), errors.ErrInvalidInput)
	case !in.Role.Valid():
		return errors.Mark(goerr.New("unknown role", goerr.V("role", string(in.Role))), errors.ErrInvalidInput)
	}
	return nil
}

// stamp clamps ts so created_at never goes backwards within a conversation.
func (s *Store) stamp(ownerID, conversationID string, ts int64) int64 {
	key := ownerID + "\x00" + conversationID

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.watermark[key]; ok && ts < last {
		ts = last
	}
	s.watermark[key] = ts
	if len(s.watermark) > s.watermarkLimit {
		s.evictWatermarks(key)
	}
	return ts
}

// evictWatermarks drops the oldest watermarks down to three quarters of the
// limit so eviction is not paid on every write. keep is never dropped.
func (s *Store) evictWatermarks(keep string) {
	target := s.watermarkLimit - s.watermarkLimit/4
	if target < 1 {
		target = 1
	}

	keys := make([]string, 0, len(s.watermark))
	for k := range s.watermark {
		if k != keep {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if s.watermark[keys[i]] != s.watermark[keys[j]] {
			return s.watermark[keys[i]] < s.watermark[keys[j]]
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		if len(s.watermark) <= target {
			break
		}
		delete(s.watermark, k)
	}
}

// forget drops watermarks for a deleted scope.
func (s *Store) forget(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.watermark {
		owner, conv, _ := strings.Cut(k, "\x00")
		if (key == MetaOwnerID && owner == value) || (key == MetaConversationID && conv == value) {
			delete(s.watermark, k)
		}
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}
