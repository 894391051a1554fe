package memory

import (
	"strconv"
)

// Role identifies who produced a memory.
type Role string

const (
	// RoleUser marks content written by the player
	RoleUser Role = "user"

	// RoleAssistant marks content produced by the narrator
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Memory kinds used by the story service. Kind is an open tag, so callers
// may store others.
const (
	KindGeneral      = "general"
	KindAction       = "action"
	KindEvent        = "event"
	KindLore         = "lore"
	KindInitialStory = "initial_story"
	KindResponse     = "response"
	KindNPC          = "npc"
	KindLocation     = "location"
)

// Metadata keys written for every record.
const (
	MetaOwnerID        = "owner_id"
	MetaConversationID = "conversation_id"
	MetaRole           = "role"
	MetaKind           = "memory_kind"
	MetaCreatedAt      = "created_at"
)

var coreKeys = map[string]struct{}{
	MetaOwnerID:        {},
	MetaConversationID: {},
	MetaRole:           {},
	MetaKind:           {},
	MetaCreatedAt:      {},
}

// Record is one stored narrative event. Records are never mutated after
// they are written.
type Record struct {
	// ID is unique per store; see DefaultID for its composition
	ID string

	// Content is the text that was embedded
	Content string

	// OwnerID is the end user
	OwnerID string

	// ConversationID is the story session
	ConversationID string

	// Role is the speaker
	Role Role

	// Kind is the memory classification tag
	Kind string

	// CreatedAt is seconds since the Unix epoch
	CreatedAt int64

	// Extra holds caller-supplied tags merged into the filterable metadata
	Extra map[string]string
}

// Metadata flattens the record into the index's string metadata. Core
// fields are written last so Extra can never override scope.
func (r Record) Metadata() map[string]string {
	meta := make(map[string]string, len(r.Extra)+len(coreKeys))
	for k, v := range r.Extra {
		meta[k] = v
	}
	meta[MetaOwnerID] = r.OwnerID
	meta[MetaConversationID] = r.ConversationID
	meta[MetaRole] = string(r.Role)
	meta[MetaKind] = r.Kind
	meta[MetaCreatedAt] = strconv.FormatInt(r.CreatedAt, 10)
	return meta
}

// Document converts the record into the tuple written to a VectorIndex.
func (r Record) Document(embedding []float32) Document {
	return Document{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: embedding,
		Metadata:  r.Metadata(),
	}
}

// RecordFromDocument rebuilds a Record from index metadata. Unknown keys
// land in Extra; a malformed created_at reads as zero.
func RecordFromDocument(doc Document) Record {
	rec := Record{
		ID:             doc.ID,
		Content:        doc.Content,
		OwnerID:        doc.Metadata[MetaOwnerID],
		ConversationID: doc.Metadata[MetaConversationID],
		Role:           Role(doc.Metadata[MetaRole]),
		Kind:           doc.Metadata[MetaKind],
	}
	if rec.Kind == "" {
		rec.Kind = KindGeneral
	}
	if ts, err := strconv.ParseInt(doc.Metadata[MetaCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = ts
	}

	for k, v := range doc.Metadata {
		if _, core := coreKeys[k]; core {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[k] = v
	}

	return rec
}

// CreatedAtOf returns the created_at stored in a document's metadata, or
// zero when missing. Index adapters use it to order scope dumps.
func CreatedAtOf(doc Document) int64 {
	ts, err := strconv.ParseInt(doc.Metadata[MetaCreatedAt], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
