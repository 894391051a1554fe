package memory

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/errors"
)

// Query describes a relevance retrieval. It is never persisted.
type Query struct {
	// Text is embedded and used as the similarity query vector
	Text string

	// OwnerID and ConversationID form the mandatory scope
	OwnerID        string
	ConversationID string

	// K is the maximum number of records to return
	K int

	// Kinds is an optional allow-list of memory kinds
	Kinds []string

	// Roles is an optional allow-list of speaker roles
	Roles []Role
}

// Validate checks the query for caller errors.
func (q Query) Validate() error {
	switch {
	case q.OwnerID == "" || q.ConversationID == "":
		return errors.Mark(goerr.New("query scope is incomplete",
			goerr.V("owner_id", q.OwnerID),
			goerr.V("conversation_id", q.ConversationID)), errors.ErrInvalidInput)
	case q.K <= 0:
		return errors.Mark(goerr.New("k must be positive", goerr.V("k", q.K)), errors.ErrInvalidInput)
	}
	return nil
}

// criteria is the in-process filter applied to every candidate set.
type criteria struct {
	ownerID        string
	conversationID string
	kinds          map[string]struct{}
	roles          map[Role]struct{}
}

func newCriteria(ownerID, conversationID string, kinds []string, roles []Role) criteria {
	c := criteria{ownerID: ownerID, conversationID: conversationID}
	if len(kinds) > 0 {
		c.kinds = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = struct{}{}
		}
	}
	if len(roles) > 0 {
		c.roles = make(map[Role]struct{}, len(roles))
		for _, r := range roles {
			c.roles[r] = struct{}{}
		}
	}
	return c
}

func (c criteria) matches(r Record) bool {
	if r.OwnerID != c.ownerID || r.ConversationID != c.conversationID {
		return false
	}
	if c.kinds != nil {
		if _, ok := c.kinds[r.Kind]; !ok {
			return false
		}
	}
	if c.roles != nil {
		if _, ok := c.roles[r.Role]; !ok {
			return false
		}
	}
	return true
}

// filterMatches keeps matches satisfying c, preserving their order, and
// stops after limit records.
func filterMatches(matches []Match, c criteria, limit int) []Record {
	out := make([]Record, 0, min(limit, len(matches)))
	for _, m := range matches {
		rec := RecordFromDocument(m.Document)
		if !c.matches(rec) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out
}

// filterDocuments keeps documents satisfying c, preserving their order.
func filterDocuments(docs []Document, c criteria) []Record {
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		rec := RecordFromDocument(d)
		if c.matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}
