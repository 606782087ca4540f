// Package redisstore implements docstore.Store on Redis. Documents are JSON
// strings, each collection keeps a set of its ids, and every write publishes
// on a per-collection channel so subscribers can re-read.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/models"
)

const maxUpdateRetries = 5

// Store is a Redis-backed document store.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

var _ docstore.Store = (*Store)(nil)

// New connects to the Redis instance at redisURL.
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %v", docstore.ErrUnavailable, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func docKey(collection, id string) string {
	return fmt.Sprintf("doc:%s:%s", collection, id)
}

func indexKey(collection string) string {
	return fmt.Sprintf("coll:%s", collection)
}

func channel(collection string) string {
	return fmt.Sprintf("docs:%s", collection)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, docstore.ErrUnavailable, err)
}

func (s *Store) GetDocument(ctx context.Context, collection, id string) (*docstore.Document, error) {
	raw, err := s.client.Get(ctx, docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get document", err)
	}

	data, err := decode(collection, id, raw)
	if err != nil {
		return nil, err
	}
	return &docstore.Document{ID: id, Data: data}, nil
}

func (s *Store) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(collection, id), raw, 0)
		pipe.SAdd(ctx, indexKey(collection), id)
		pipe.Publish(ctx, channel(collection), id)
		return nil
	})
	if err != nil {
		return unavailable("set document", err)
	}
	return nil
}

// UpdateFields merges patch into the stored document under WATCH, retrying
// when another writer changes the key between read and write.
func (s *Store) UpdateFields(ctx context.Context, collection, id string, patch map[string]any) error {
	key := docKey(collection, id)

	update := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		if err != nil {
			return err
		}

		data, err := decode(collection, id, raw)
		if err != nil {
			return err
		}
		for k, v := range patch {
			data[k] = v
		}
		merged, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			pipe.Publish(ctx, channel(collection), id)
			return nil
		})
		return err
	}

	for range maxUpdateRetries {
		err := s.client.Watch(ctx, update, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, docstore.ErrNotFound), errors.Is(err, models.ErrSchemaViolation):
			return err
		default:
			return unavailable("update fields", err)
		}
	}
	return unavailable("update fields", fmt.Errorf("gave up after %d conflicting writes", maxUpdateRetries))
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, id))
		pipe.SRem(ctx, indexKey(collection), id)
		pipe.Publish(ctx, channel(collection), id)
		return nil
	})
	if err != nil {
		return unavailable("delete document", err)
	}
	return nil
}

func (s *Store) ListCollection(ctx context.Context, collection string) ([]docstore.Document, error) {
	ids, err := s.client.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return nil, unavailable("list collection", err)
	}
	if len(ids) == 0 {
		return []docstore.Document{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(collection, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("list collection", err)
	}

	docs := make([]docstore.Document, 0, len(ids))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Index entry without a document: deleted between SMEMBERS and MGET.
			continue
		}
		data, err := decode(collection, ids[i], []byte(str))
		if err != nil {
			s.logger.Warn("skipping undecodable document", "collection", collection, "id", ids[i], "error", err)
			continue
		}
		docs = append(docs, docstore.Document{ID: ids[i], Data: data})
	}
	return docs, nil
}

func (s *Store) SubscribeCollection(ctx context.Context, collection string, match docstore.Predicate,
	onChange func([]docstore.Document), onError func(error),
) (docstore.Unsubscribe, error) {
	pubsub := s.client.Subscribe(ctx, channel(collection))
	// Wait for the subscription to be confirmed so no write is missed
	// between the initial snapshot and the first notification.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", err)
	}

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

	deliver()

	messages := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
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
			if err := pubsub.Close(); err != nil {
				s.logger.Debug("close pubsub", "collection", collection, "error", err)
			}
		})
	}, nil
}

// decode reports bodies that are not a JSON object as schema violations.
func decode(collection, id string, raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &models.SchemaError{Collection: collection, ID: id, Reason: "decode document: " + err.Error()}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
