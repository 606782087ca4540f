package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/surrealdb/surrealdb.go"
)

// ErrTransactionConflict indicates a SurrealDB transaction conflict.
// It is always reported together with docstore.ErrUnavailable; callers may retry.
var ErrTransactionConflict = errors.New("transaction conflict")

// wrapQueryError classifies a SurrealDB error into the docstore taxonomy.
// Permission failures become ErrForbidden; everything else, transport and
// query errors alike, becomes ErrUnavailable.
func wrapQueryError(op string, err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case isPermissionMessage(msg):
			return fmt.Errorf("%s: %w: %s", op, docstore.ErrForbidden, msg)
		case strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%s: %w: %w", op, docstore.ErrUnavailable, ErrTransactionConflict)
		}
		return fmt.Errorf("%s: %w: %s", op, docstore.ErrUnavailable, msg)
	}

	if isPermissionMessage(err.Error()) {
		return fmt.Errorf("%s: %w: %v", op, docstore.ErrForbidden, err)
	}
	return fmt.Errorf("%s: %w: %v", op, docstore.ErrUnavailable, err)
}

func isPermissionMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "permission") ||
		strings.Contains(lower, "not enough permissions") ||
		strings.Contains(lower, "iam error")
}
