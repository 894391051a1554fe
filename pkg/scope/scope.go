package scope

import (
	"context"
	"errors"
)

// ErrMissingScope is returned when an operation requires a Scope that the
// context does not carry.
var ErrMissingScope = errors.New("scope not found in context")

// Scope is the (owner, conversation) pair that bounds every memory read
// and delete.
type Scope struct {
	// OwnerID is the end user that owns the story
	OwnerID string

	// ConversationID identifies the story session
	ConversationID string
}

// New creates a Scope for the given owner and conversation.
func New(ownerID, conversationID string) Scope {
	return Scope{
		OwnerID:        ownerID,
		ConversationID: conversationID,
	}
}

// Valid reports whether both halves of the scope are set.
func (s Scope) Valid() bool {
	return s.OwnerID != "" && s.ConversationID != ""
}

// Contains reports whether a record with the given owner and conversation
// falls inside s.
func (s Scope) Contains(ownerID, conversationID string) bool {
	return s.OwnerID == ownerID && s.ConversationID == conversationID
}

// contextKey is a private type for context keys to avoid collisions
type contextKey int

const (
	scopeKey contextKey = iota
)

// WithScope adds a Scope to a context.Context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext retrieves the Scope from a context.Context.
// If no Scope is found, it returns a zero Scope and false.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey).(Scope)
	return s, ok
}
