// Package docstore defines the contract of the remote document store the portal
// synchronizes against, plus an in-memory implementation and an access guard.
package docstore

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
// Adapters classify driver errors into these at the boundary.
var (
	// ErrUnavailable indicates the store could not be reached or the operation failed in transport.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrForbidden indicates the store's access policy denied the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates a partial update targeted a document that does not exist.
	ErrNotFound = errors.New("document not found")
)

// Document is a keyed record in a collection.
type Document struct {
	ID   string
	Data map[string]any
}

// Predicate filters documents delivered by a subscription. A nil Predicate matches everything.
type Predicate func(Document) bool

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is a keyed-document store with collection-level change subscriptions.
type Store interface {
	// GetDocument returns the document, or nil when it does not exist.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// SetDocument creates or fully overwrites a document.
	SetDocument(ctx context.Context, collection, id string, data map[string]any) error

	// UpdateFields merges the given top-level fields into an existing document.
	// Returns ErrNotFound if the document does not exist.
	UpdateFields(ctx context.Context, collection, id string, patch map[string]any) error

	// DeleteDocument removes a document. Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, collection, id string) error

	// ListCollection returns every document in a collection.
	ListCollection(ctx context.Context, collection string) ([]Document, error)

	// SubscribeCollection delivers the full matching snapshot once immediately and
	// again after every change to the collection. Delivery errors go to onError.
	SubscribeCollection(ctx context.Context, collection string, match Predicate,
		onChange func([]Document), onError func(error)) (Unsubscribe, error)
}

// ByID matches the single document with the given id.
func ByID(id string) Predicate {
	return func(d Document) bool { return d.ID == id }
}

// FieldEquals matches documents whose top-level field equals value.
func FieldEquals(field string, value any) Predicate {
	return func(d Document) bool { return d.Data[field] == value }
}

// Filter applies match to docs, returning a new slice.
func Filter(docs []Document, match Predicate) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if match == nil || match(d) {
			out = append(out, d)
		}
	}
	return out
}

// CloneData returns a deep copy of a document payload so callers never share
// nested maps or slices with the store.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneData(item)
		}
		return out
	default:
		return v
	}
}
