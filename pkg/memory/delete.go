package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/errors"
	"github.com/lexlapax/questweaver/pkg/log"
)

// DeleteConversation removes every record of the conversation. A
// conversation with no records counts as deleted.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, errors.Mark(goerr.New("conversation_id is empty"), errors.ErrInvalidInput)
	}
	return s.deleteScope(ctx, MetaConversationID, conversationID)
}

// DeleteOwner removes every record belonging to the owner across all
// conversations.
func (s *Store) DeleteOwner(ctx context.Context, ownerID string) (bool, error) {
	if ownerID == "" {
		return false, errors.Mark(goerr.New("owner_id is empty"), errors.ErrInvalidInput)
	}
	return s.deleteScope(ctx, MetaOwnerID, ownerID)
}

// deleteScope deletes by filter, falling back to enumerate-and-delete-by-ID
// when the index rejects the filtered delete.
func (s *Store) deleteScope(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logger := log.FromContext(ctx).With("scope_key", key, "scope_value", value)

	err := s.index.DeleteByFilter(ctx, Filter{Key: key, Value: value})
	if err == nil {
		s.forget(key, value)
		logger.InfoContext(ctx, "Deleted memory scope")
		return true, nil
	}
	logger.WarnContext(ctx, "Filtered delete failed, enumerating", log.ErrAttr(err))

	docs, err := s.index.GetByFilter(ctx, Eq(key, value), 0)
	if err != nil {
		logger.WarnContext(ctx, "Filtered enumeration failed, scanning", log.ErrAttr(err))
		docs, err = s.index.GetByFilter(ctx, nil, 0)
		if err != nil {
			return false, errors.Mark(goerr.Wrap(err, "failed to enumerate records for deletion",
				goerr.V(key, value)), errors.ErrDeletionPartial)
		}
	}

	var ids []string
	for _, d := range docs {
		if d.Metadata[key] == value {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		s.forget(key, value)
		return true, nil
	}

	if err := s.index.DeleteByIDs(ctx, ids); err != nil {
		return false, errors.Mark(goerr.Wrap(err, "failed to delete records by id",
			goerr.V(key, value), goerr.V("candidates", len(ids))), errors.ErrDeletionPartial)
	}

	s.forget(key, value)
	logger.InfoContext(ctx, "Deleted memory scope by id", "count", len(ids))
	return true, nil
}
