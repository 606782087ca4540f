//go:build integration

package redisstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/models"
)

var testURL string

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}
	testURL = fmt.Sprintf("redis://%s:%s/0", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := New(ctx, testURL, nil)
	require.NoError(t, err)
	require.NoError(t, s.client.FlushDB(ctx).Err())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCRUD(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	doc, err := s.GetDocument(ctx, "tickets", "t1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.SetDocument(ctx, "tickets", "t1", map[string]any{"status": "Open", "user_id": "u1"}))
	require.NoError(t, s.UpdateFields(ctx, "tickets", "t1", map[string]any{"status": "In Progress"}))

	doc, err = s.GetDocument(ctx, "tickets", "t1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, map[string]any{"status": "In Progress", "user_id": "u1"}, doc.Data)

	require.NoError(t, s.DeleteDocument(ctx, "tickets", "t1"))
	require.NoError(t, s.DeleteDocument(ctx, "tickets", "t1"))

	docs, err := s.ListCollection(ctx, "tickets")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUpdateMissing(t *testing.T) {
	s := newStore(t)
	err := s.UpdateFields(context.Background(), "tickets", "nope", map[string]any{"status": "Closed"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestCorruptDocument(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.client.Set(ctx, docKey("tickets", "bad"), "{not json", 0).Err())
	require.NoError(t, s.client.SAdd(ctx, indexKey("tickets"), "bad").Err())

	_, err := s.GetDocument(ctx, "tickets", "bad")
	assert.ErrorIs(t, err, models.ErrSchemaViolation)

	err = s.UpdateFields(ctx, "tickets", "bad", map[string]any{"status": "Closed"})
	assert.ErrorIs(t, err, models.ErrSchemaViolation)

	docs, err := s.ListCollection(ctx, "tickets")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestListSorted(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SetDocument(ctx, "chat_saves", id, map[string]any{"chats": []any{}}))
	}

	docs, err := s.ListCollection(ctx, "chat_saves")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}

func TestSubscribe(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var last []docstore.Document
	calls := 0
	unsub, err := s.SubscribeCollection(ctx, "tickets", docstore.FieldEquals("user_id", "u1"),
		func(docs []docstore.Document) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			last = docs
		}, nil)
	require.NoError(t, err)
	defer unsub()

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	require.NoError(t, s.SetDocument(ctx, "tickets", "t1", map[string]any{"user_id": "u1"}))
	require.NoError(t, s.SetDocument(ctx, "tickets", "t2", map[string]any{"user_id": "u2"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].ID == "t1"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-url", nil)
	assert.Error(t, err)
}
