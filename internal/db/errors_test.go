package db

import (
	"errors"
	"testing"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
)

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []error
	}{
		{"permission query error", &surrealdb.QueryError{Message: "Not enough permissions to perform this action"}, []error{docstore.ErrForbidden}},
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: resource busy"}, []error{docstore.ErrUnavailable, ErrTransactionConflict}},
		{"other query error", &surrealdb.QueryError{Message: "Parse error"}, []error{docstore.ErrUnavailable}},
		{"transport", errors.New("connection reset by peer"), []error{docstore.ErrUnavailable}},
		{"iam transport", errors.New("There was a problem with the IAM error"), []error{docstore.ErrForbidden}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapQueryError("op", tt.err)
			for _, w := range tt.want {
				assert.ErrorIs(t, got, w)
			}
		})
	}
}

func TestWrapQueryErrorNil(t *testing.T) {
	assert.NoError(t, wrapQueryError("op", nil))
}

func TestStripID(t *testing.T) {
	in := map[string]any{"id": "x", "status": "Open"}
	out := stripID(in)
	assert.Equal(t, map[string]any{"status": "Open"}, out)
	assert.Contains(t, in, "id")
}
