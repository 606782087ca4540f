package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/models"
)

// Mutation transforms the latest remote session set. It reports whether
// anything changed; unchanged results are not written back.
type Mutation func(current models.ChatSessionSet) (next models.ChatSessionSet, changed bool, err error)

// MergeStrategy applies a Mutation to a user's persisted session set and
// returns the set as it now stands remotely.
type MergeStrategy interface {
	Apply(ctx context.Context, docs docstore.Store, userID string, mutate Mutation) (models.ChatSessionSet, error)
}

// LastWriterWins reads the whole set, mutates it and writes the whole `chats`
// field back. Concurrent writers for the same user may overwrite each other.
type LastWriterWins struct{}

func (LastWriterWins) Apply(ctx context.Context, docs docstore.Store, userID string, mutate Mutation) (models.ChatSessionSet, error) {
	doc, err := docs.GetDocument(ctx, models.CollectionChats, userID)
	if err != nil {
		return nil, fmt.Errorf("read chats: %w", err)
	}

	var data map[string]any
	if doc != nil {
		data = doc.Data
	}
	current, err := models.DecodeChatSessionSet(userID, data)
	if err != nil {
		return nil, err
	}

	next, changed, err := mutate(current.Clone())
	if err != nil {
		return current, err
	}
	if !changed {
		return current, nil
	}

	patch := map[string]any{"chats": next.Encode()}
	if doc == nil {
		err = docs.SetDocument(ctx, models.CollectionChats, userID, patch)
	} else {
		err = docs.UpdateFields(ctx, models.CollectionChats, userID, patch)
		if errors.Is(err, docstore.ErrNotFound) {
			err = docs.SetDocument(ctx, models.CollectionChats, userID, patch)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("write chats: %w", err)
	}
	return next, nil
}
