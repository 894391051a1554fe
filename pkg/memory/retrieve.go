package memory

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/log"
	"github.com/lexlapax/questweaver/pkg/scope"
)

// RetrieveRelevant returns up to q.K records in q's scope, most similar
// first. Any failure is logged and yields an empty result; the error is
// always nil.
func (s *Store) RetrieveRelevant(ctx context.Context, q Query) ([]Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = scope.WithScope(ctx, scope.New(q.OwnerID, q.ConversationID))

	if err := q.Validate(); err != nil {
		degraded(ctx, "retrieve_relevant", err)
		return []Record{}, nil
	}

	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		degraded(ctx, "retrieve_relevant", goerr.Wrap(err, "failed to embed query"))
		return []Record{}, nil
	}

	var filter *Filter
	if s.pushdown {
		filter = Eq(MetaOwnerID, q.OwnerID)
	}

	matches, err := s.index.QueryNearest(ctx, vec, q.K*s.overfetch, filter)
	if err != nil {
		degraded(ctx, "retrieve_relevant", goerr.Wrap(err, "nearest-neighbor query failed", goerr.V("k", q.K)))
		return []Record{}, nil
	}

	out := filterMatches(matches, newCriteria(q.OwnerID, q.ConversationID, q.Kinds, q.Roles), q.K)
	log.DebugContext(ctx, "Retrieved relevant memories", "candidates", len(matches), "returned", len(out))
	return out, nil
}

// RetrieveRecent returns up to limit records of the conversation, newest
// first. It fetches limit*2 candidates filtered by conversation and falls
// back to a full scan once when that fetch fails or comes up short.
// Failures are logged and yield an empty result; the error is always nil.
func (s *Store) RetrieveRecent(ctx context.Context, ownerID, conversationID string, limit int) ([]Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = scope.WithScope(ctx, scope.New(ownerID, conversationID))

	if ownerID == "" || conversationID == "" || limit <= 0 {
		degraded(ctx, "retrieve_recent", goerr.New("invalid recency request", goerr.V("limit", limit)))
		return []Record{}, nil
	}

	c := newCriteria(ownerID, conversationID, nil, nil)

	// conversation_id is the more selective key; owner is checked in-process
	window := limit * 2
	docs, err := s.index.GetByFilter(ctx, Eq(MetaConversationID, conversationID), window)
	if err == nil {
		out := newestFirst(filterDocuments(docs, c), limit)
		// a full window that still comes up short may have been crowded out
		// by records an unreliable filter let through
		if len(out) == limit || (len(out) > 0 && len(docs) < window) {
			return out, nil
		}
		log.DebugContext(ctx, "Filtered recency fetch was short, scanning", "matched", len(out), "fetched", len(docs))
	} else {
		log.WarnContext(ctx, "Filtered recency fetch failed, scanning", log.ErrAttr(err))
	}

	docs, err = s.index.GetByFilter(ctx, nil, 0)
	if err != nil {
		degraded(ctx, "retrieve_recent", goerr.Wrap(err, "full scan failed"))
		return []Record{}, nil
	}
	return newestFirst(filterDocuments(docs, c), limit), nil
}

// newestFirst sorts by created_at then ID, both descending, and truncates.
func newestFirst(recs []Record, limit int) []Record {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt > recs[j].CreatedAt
		}
		return recs[i].ID > recs[j].ID
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

func degraded(ctx context.Context, op string, err error) {
	log.WarnContext(ctx, "degraded read", "op", op, log.ErrAttr(err))
}
