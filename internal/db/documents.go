package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DocumentStore implements docstore.Store over SurrealDB records.
// Collections map to tables and document ids to record ids.
type DocumentStore struct {
	c *Client
}

var _ docstore.Store = (*DocumentStore)(nil)

// NewDocumentStore returns a document store backed by the client's connection.
func NewDocumentStore(c *Client) *DocumentStore {
	return &DocumentStore{c: c}
}

type row = map[string]any

func (s *DocumentStore) GetDocument(ctx context.Context, collection, id string) (*docstore.Document, error) {
	results, err := surrealdb.Query[[]row](ctx, s.c.db,
		`SELECT * FROM type::record($tb, $id)`,
		map[string]any{"tb": collection, "id": id})
	if err != nil {
		return nil, wrapQueryError("get document", err)
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, nil
	}
	doc := toDocument(id, rows[0])
	return &doc, nil
}

func (s *DocumentStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := surrealdb.Query[any](ctx, s.c.db,
		`UPSERT type::record($tb, $id) CONTENT $data RETURN NONE`,
		map[string]any{"tb": collection, "id": id, "data": stripID(data)})
	return wrapQueryError("set document", err)
}

func (s *DocumentStore) UpdateFields(ctx context.Context, collection, id string, patch map[string]any) error {
	// UPDATE on a missing record id returns nothing instead of creating it.
	results, err := surrealdb.Query[[]row](ctx, s.c.db,
		`UPDATE type::record($tb, $id) MERGE $patch RETURN AFTER`,
		map[string]any{"tb": collection, "id": id, "patch": stripID(patch)})
	if err != nil {
		return wrapQueryError("update fields", err)
	}
	if len(firstResult(results)) == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *DocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := surrealdb.Query[any](ctx, s.c.db,
		`DELETE type::record($tb, $id)`,
		map[string]any{"tb": collection, "id": id})
	return wrapQueryError("delete document", err)
}

func (s *DocumentStore) ListCollection(ctx context.Context, collection string) ([]docstore.Document, error) {
	results, err := surrealdb.Query[[]row](ctx, s.c.db,
		`SELECT * FROM type::table($tb)`,
		map[string]any{"tb": collection})
	if err != nil {
		return nil, wrapQueryError("list collection", err)
	}

	rows := firstResult(results)
	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		id, ok := recordKey(r["id"])
		if !ok {
			s.c.log.Warn("skipping record without string id", "collection", collection)
			continue
		}
		docs = append(docs, toDocument(id, r))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// SubscribeCollection starts a live query on the table. Each notification
// triggers a full re-list, so subscribers always see a consistent snapshot
// rather than individual diffs.
func (s *DocumentStore) SubscribeCollection(ctx context.Context, collection string, match docstore.Predicate,
	onChange func([]docstore.Document), onError func(error),
) (docstore.Unsubscribe, error) {
	deliver := func() {
		docs, err := s.ListCollection(ctx, collection)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(docstore.Filter(docs, match))
	}

	liveID, err := surrealdb.Live(ctx, s.c.db, surrealmodels.Table(collection), false)
	if err != nil {
		return nil, wrapQueryError("live query", err)
	}
	notifications, err := s.c.db.LiveNotifications(liveID.String())
	if err != nil {
		_ = surrealdb.Kill(context.WithoutCancel(ctx), s.c.db, liveID.String())
		return nil, wrapQueryError("live notifications", err)
	}

	deliver()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-notifications:
				if !ok {
					if onError != nil {
						onError(fmt.Errorf("live query closed: %w", docstore.ErrUnavailable))
					}
					return
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := surrealdb.Kill(context.WithoutCancel(ctx), s.c.db, liveID.String()); err != nil {
				s.c.log.Warn("kill live query", "collection", collection, "error", err)
			}
		})
	}, nil
}

func firstResult(results *[]surrealdb.QueryResult[[]row]) []row {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

func toDocument(id string, r row) docstore.Document {
	return docstore.Document{ID: id, Data: stripID(r)}
}

// stripID drops the record id field; ids live on Document.ID.
func stripID(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// recordKey extracts the string key from a SurrealDB record id.
func recordKey(v any) (string, bool) {
	switch id := v.(type) {
	case surrealmodels.RecordID:
		s, ok := id.ID.(string)
		return s, ok
	case *surrealmodels.RecordID:
		if id == nil {
			return "", false
		}
		s, ok := id.ID.(string)
		return s, ok
	default:
		return "", false
	}
}
