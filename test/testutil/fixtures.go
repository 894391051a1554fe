package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexlapax/questweaver/pkg/memory"
)

// FixedClock is a settable clock for memory.WithClock.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock returns a clock frozen at unix seconds ts.
func NewFixedClock(ts int64) *FixedClock {
	return &FixedClock{now: time.Unix(ts, 0)}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to unix seconds ts.
func (c *FixedClock) Set(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(ts, 0)
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FailingEmbedder always returns Err.
type FailingEmbedder struct {
	Err error
}

// Embed implements memory.Embedder.
func (f FailingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, fmt.Errorf("embedding provider unavailable")
}

// Doc builds an index document for a record with the given scope and
// created_at, using vec as its embedding.
func Doc(id, owner, conv string, createdAt int64, vec []float32) memory.Document {
	return memory.Record{
		ID:             id,
		Content:        "content of " + id,
		OwnerID:        owner,
		ConversationID: conv,
		Role:           memory.RoleAssistant,
		Kind:           memory.KindEvent,
		CreatedAt:      createdAt,
	}.Document(vec)
}

// SeedIndex upserts docs directly into index.
func SeedIndex(t *testing.T, index memory.VectorIndex, docs ...memory.Document) {
	t.Helper()
	for _, d := range docs {
		require.NoError(t, index.Upsert(context.Background(), d))
	}
}

// IDs returns the IDs of docs in order.
func IDs(docs []memory.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
