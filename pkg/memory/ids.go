package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator builds a record ID from its conversation, role and creation time.
type IDGenerator func(conversationID string, role Role, at time.Time) string

// DefaultID composes conversation, role and the creation second, then adds
// the sub-second nanoseconds and a random suffix so that two writes in the
// same second for the same conversation and role never collide.
func DefaultID(conversationID string, role Role, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%09d_%s",
		conversationID, role, at.Unix(), at.Nanosecond(), uuid.NewString()[:8])
}
