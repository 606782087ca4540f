package identity

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/models"
)

// AccessPolicy is the portal's store security rule set:
//   - a user document is readable and writable by its owner; admins may read it
//   - a ticket is readable, writable and deletable by its owner or an admin
//   - listing chats is admin-only, listing tickets needs any signed-in user
//
// The principal is taken from ctx (see WithPrincipal).
func AccessPolicy(ctx context.Context, op docstore.Op, collection, id string, current *docstore.Document) error {
	p, ok := FromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: %s %s/%s without credentials", docstore.ErrForbidden, op, collection, id)
	}

	switch collection {
	case models.CollectionChats:
		if id == "" {
			if p.IsAdmin() {
				return nil
			}
		} else if id == p.UserID || (p.IsAdmin() && op == docstore.OpRead) {
			return nil
		}
	case models.CollectionTickets:
		if p.IsAdmin() || id == "" || current == nil {
			return nil
		}
		if owner, _ := current.Data["user_id"].(string); owner == p.UserID {
			return nil
		}
	default:
		if p.IsAdmin() {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s/%s by %s", docstore.ErrForbidden, op, collection, id, p.UserID)
}
