package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequentialIDs returns a generator yielding s1, s2, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newTestStore(t *testing.T) (*Store, *docstore.Memory, *identity.Scope) {
	t.Helper()
	mem := docstore.NewMemory()
	store := New(mem, WithIDGenerator(sequentialIDs()))
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	return store, mem, sc
}

func remoteSet(t *testing.T, mem *docstore.Memory, userID string) models.ChatSessionSet {
	t.Helper()
	doc, err := mem.GetDocument(context.Background(), models.CollectionChats, userID)
	require.NoError(t, err)
	if doc == nil {
		return nil
	}
	set, err := models.DecodeChatSessionSet(userID, doc.Data)
	require.NoError(t, err)
	return set
}

func TestLoadAllMissingDocument(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()

	set, err := store.LoadAll(ctx, sc)
	require.NoError(t, err)
	assert.Empty(t, set)

	doc, err := mem.GetDocument(ctx, models.CollectionChats, "u1")
	require.NoError(t, err)
	assert.Nil(t, doc, "loading must not create the document")
}

func TestLoadAllSelectsFirstSession(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	seed := models.ChatSessionSet{
		{ID: "a", Title: "A", Messages: []models.Message{}},
		{ID: "b", Title: "B", Messages: []models.Message{}},
	}
	require.NoError(t, mem.SetDocument(ctx, models.CollectionChats, "u1", map[string]any{"chats": seed.Encode()}))

	set, err := store.LoadAll(ctx, sc)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.Equal(t, "a", store.ActiveID())
}

func TestCreateSession(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, mem.SetDocument(ctx, models.CollectionChats, "u1", map[string]any{
		"email": "ada@example.com",
		"chats": models.ChatSessionSet{{ID: "old", Title: "Old", Messages: []models.Message{}}}.Encode(),
	}))
	_, err := store.LoadAll(ctx, sc)
	require.NoError(t, err)
	before := len(store.Sessions())

	session, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSessionTitle, session.Title)
	assert.Empty(t, session.Messages)
	assert.NotNil(t, session.Messages)

	sessions := store.Sessions()
	require.Len(t, sessions, before+1)
	assert.Equal(t, session.ID, sessions[len(sessions)-1].ID, "new session is last")
	assert.Equal(t, session.ID, store.ActiveID())

	doc, _ := mem.GetDocument(ctx, models.CollectionChats, "u1")
	assert.Equal(t, "ada@example.com", doc.Data["email"], "profile fields survive the rewrite")
	assert.Len(t, remoteSet(t, mem, "u1"), before+1)
}

func TestCreateSessionInitializesDocument(t *testing.T) {
	store, mem, sc := newTestStore(t)

	_, err := store.CreateSession(context.Background(), sc)
	require.NoError(t, err)
	assert.Len(t, remoteSet(t, mem, "u1"), 1)
}

func TestCreateSessionFailureLeavesLocalView(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	snapshot := store.Sessions()
	active := store.ActiveID()

	mem.SetFailure(errors.New("offline"))
	_, err = store.CreateSession(ctx, sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)

	assert.Equal(t, snapshot, store.Sessions())
	assert.Equal(t, active, store.ActiveID())
}

func TestAppendMessageWithoutSession(t *testing.T) {
	store, mem, sc := newTestStore(t)

	set, err := store.AppendMessage(context.Background(), sc, "", "hi", "hello")
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, "hi", set[0].Title)
	assert.Equal(t, []models.Message{
		{Text: "hi", Role: models.RoleUser},
		{Text: "hello", Role: models.RoleAssistant},
	}, set[0].Messages)
	assert.Equal(t, set[0].ID, store.ActiveID())
	assert.Equal(t, set, remoteSet(t, mem, "u1"))
}

func TestAppendMessageLongTitleTruncated(t *testing.T) {
	store, _, sc := newTestStore(t)

	set, err := store.AppendMessage(context.Background(), sc, "", "My fridge stopped cooling overnight", "Sorry to hear")
	require.NoError(t, err)
	assert.Equal(t, "My fridge stopped co", set[0].Title)
	assert.LessOrEqual(t, len([]rune(set[0].Title)), 20)
}

func TestAppendMessageKeepsOrder(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)

	var want []models.Message
	for i := range 5 {
		u, a := fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)
		_, err := store.AppendMessage(ctx, sc, session.ID, u, a)
		require.NoError(t, err)
		want = append(want, models.Message{Text: u, Role: models.RoleUser}, models.Message{Text: a, Role: models.RoleAssistant})
	}

	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, want, active.Messages)
	assert.Equal(t, want, remoteSet(t, mem, "u1")[0].Messages)
}

func TestAppendMessageMissingSession(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)

	var events []Event
	cancel := store.Observe(func(ev Event) { events = append(events, ev) })
	defer cancel()

	_, err = store.AppendMessage(ctx, sc, "gone", "hi", "hello")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.Len(t, events, 1)
	assert.Equal(t, EventResyncRequired, events[0].Kind)
	assert.Empty(t, remoteSet(t, mem, "u1")[0].Messages, "nothing appended")
	assert.Equal(t, session.ID, store.ActiveID())
}

// landThenFail writes through to the inner store but reports the write as failed.
type landThenFail struct {
	docstore.Store
	fail bool
}

func (s *landThenFail) SetDocument(ctx context.Context, c, id string, data map[string]any) error {
	if err := s.Store.SetDocument(ctx, c, id, data); err != nil {
		return err
	}
	if s.fail {
		return fmt.Errorf("%w: connection reset after write", docstore.ErrUnavailable)
	}
	return nil
}

func (s *landThenFail) UpdateFields(ctx context.Context, c, id string, patch map[string]any) error {
	if err := s.Store.UpdateFields(ctx, c, id, patch); err != nil {
		return err
	}
	if s.fail {
		return fmt.Errorf("%w: connection reset after write", docstore.ErrUnavailable)
	}
	return nil
}

func TestAppendMessageRetryWithoutSessionDuplicates(t *testing.T) {
	mem := docstore.NewMemory()
	flaky := &landThenFail{Store: mem, fail: true}
	store := New(flaky, WithIDGenerator(sequentialIDs()))
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	ctx := context.Background()

	_, err := store.AppendMessage(ctx, sc, "", "hi", "hello")
	require.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.Empty(t, store.Sessions(), "failed call leaves the local view alone")

	flaky.fail = false
	set, err := store.AppendMessage(ctx, sc, "", "hi", "hello")
	require.NoError(t, err)

	require.Len(t, set, 2, "retry after a landed write duplicates the synthesized session")
	assert.Equal(t, set[0].Title, set[1].Title)
	assert.NotEqual(t, set[0].ID, set[1].ID)
}

func TestRenameSession(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)

	require.NoError(t, store.RenameSession(ctx, sc, session.ID, "Dishwasher"))
	assert.Equal(t, "Dishwasher", remoteSet(t, mem, "u1")[0].Title)
	assert.Equal(t, "Dishwasher", store.Sessions()[0].Title)
}

// countingStore counts writes reaching the inner store.
type countingStore struct {
	docstore.Store
	writes int
}

func (s *countingStore) SetDocument(ctx context.Context, c, id string, data map[string]any) error {
	s.writes++
	return s.Store.SetDocument(ctx, c, id, data)
}

func (s *countingStore) UpdateFields(ctx context.Context, c, id string, patch map[string]any) error {
	s.writes++
	return s.Store.UpdateFields(ctx, c, id, patch)
}

func TestRenameMissingSessionIsNoop(t *testing.T) {
	counting := &countingStore{Store: docstore.NewMemory()}
	store := New(counting, WithIDGenerator(sequentialIDs()))
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	before := store.Sessions()
	writes := counting.writes

	require.NoError(t, store.RenameSession(ctx, sc, "nope", "x"))
	assert.Equal(t, before, store.Sessions())
	assert.Equal(t, writes, counting.writes, "no write for unknown id")
}

func TestDeleteSessionIdempotent(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	keep, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	drop, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	require.Equal(t, drop.ID, store.ActiveID())

	first, err := store.DeleteSession(ctx, sc, drop.ID)
	require.NoError(t, err)
	assert.Empty(t, store.ActiveID(), "deleting the active session clears the pointer")

	second, err := store.DeleteSession(ctx, sc, drop.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, remoteSet(t, mem, "u1"), 1)
	assert.Equal(t, keep.ID, remoteSet(t, mem, "u1")[0].ID)
}

func TestDeleteInactiveSessionKeepsActive(t *testing.T) {
	store, _, sc := newTestStore(t)
	ctx := context.Background()
	first, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	second, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)

	_, err = store.DeleteSession(ctx, sc, first.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, store.ActiveID())
}

func TestSetActiveIsLocal(t *testing.T) {
	counting := &countingStore{Store: docstore.NewMemory()}
	store := New(counting, WithIDGenerator(sequentialIDs()))
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	ctx := context.Background()
	a, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, sc)
	require.NoError(t, err)
	writes := counting.writes

	store.SetActive(a.ID)
	assert.Equal(t, a.ID, store.ActiveID())
	store.SetActive("unknown")
	assert.Empty(t, store.ActiveID())
	assert.Equal(t, writes, counting.writes)
}

func TestCommandsRequireActor(t *testing.T) {
	store := New(docstore.NewMemory())
	sc := identity.NewScope(nil)
	ctx := context.Background()

	_, err := store.LoadAll(ctx, sc)
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
	_, err = store.CreateSession(ctx, sc)
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
	_, err = store.AppendMessage(ctx, sc, "", "hi", "hello")
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
	assert.ErrorIs(t, store.RenameSession(ctx, sc, "x", "y"), identity.ErrUnauthorized)
	_, err = store.DeleteSession(ctx, sc, "x")
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
}

func TestSwitchingUserResetsView(t *testing.T) {
	store, _, sc := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)

	sc.SignIn(identity.Principal{UserID: "u2"})
	set, err := store.LoadAll(ctx, sc)
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Empty(t, store.ActiveID())
}

func TestMalformedDocumentIsSchemaViolation(t *testing.T) {
	store, mem, sc := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, mem.SetDocument(ctx, models.CollectionChats, "u1", map[string]any{"chats": "garbage"}))

	_, err := store.LoadAll(ctx, sc)
	assert.ErrorIs(t, err, models.ErrSchemaViolation)
	_, err = store.CreateSession(ctx, sc)
	assert.ErrorIs(t, err, models.ErrSchemaViolation)
}

func TestWatchFollowsRemoteChanges(t *testing.T) {
	mem := docstore.NewMemory()
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	ctx := context.Background()

	tabA := New(mem, WithIDGenerator(sequentialIDs()))
	tabB := New(mem, WithIDGenerator(func() string { return "from-b" }))

	var seen []Event
	tabA.Observe(func(ev Event) { seen = append(seen, ev) })
	unsub, err := tabA.Watch(ctx, sc)
	require.NoError(t, err)

	_, err = tabB.CreateSession(ctx, sc)
	require.NoError(t, err)

	sessions := tabA.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "from-b", sessions[0].ID)
	assert.Equal(t, EventSessionsChanged, seen[len(seen)-1].Kind)

	unsub()
	_, err = tabB.CreateSession(ctx, sc)
	require.NoError(t, err)
	assert.Len(t, tabA.Sessions(), 1, "no updates after unsubscribe")
}

func TestWatchStopsOnSignOut(t *testing.T) {
	mem := docstore.NewMemory()
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	ctx := context.Background()
	watcher := New(mem)
	_, err := watcher.Watch(ctx, sc)
	require.NoError(t, err)

	sc.SignOut()

	writer := New(mem)
	other := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	_, err = writer.CreateSession(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, watcher.Sessions())
}

// appendOnly is a merge strategy that refuses anything but growth.
type appendOnly struct{ calls int }

func (a *appendOnly) Apply(ctx context.Context, docs docstore.Store, userID string, mutate Mutation) (models.ChatSessionSet, error) {
	a.calls++
	return LastWriterWins{}.Apply(ctx, docs, userID, func(cur models.ChatSessionSet) (models.ChatSessionSet, bool, error) {
		next, changed, err := mutate(cur)
		if err == nil && len(next) < len(cur) {
			return cur, false, errors.New("shrinking not allowed")
		}
		return next, changed, err
	})
}

func TestCustomMergeStrategy(t *testing.T) {
	strategy := &appendOnly{}
	store := New(docstore.NewMemory(), WithMergeStrategy(strategy), WithIDGenerator(sequentialIDs()))
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)
	ctx := context.Background()

	s, err := store.CreateSession(ctx, sc)
	require.NoError(t, err)
	_, err = store.DeleteSession(ctx, sc, s.ID)
	require.Error(t, err)
	assert.Equal(t, 2, strategy.calls)
	assert.Len(t, store.Sessions(), 1)
}

func TestForbiddenStorePropagates(t *testing.T) {
	readOnly := func(ctx context.Context, op docstore.Op, collection, id string, current *docstore.Document) error {
		if op != docstore.OpRead {
			return fmt.Errorf("%w: read-only", docstore.ErrForbidden)
		}
		return nil
	}
	store := New(docstore.Guard(docstore.NewMemory(), readOnly))
	sc := identity.ForPrincipal(identity.Principal{UserID: "u1"}, nil)

	_, err := store.CreateSession(context.Background(), sc)
	assert.ErrorIs(t, err, docstore.ErrForbidden)
	assert.Empty(t, store.Sessions())
}

func TestHubKeepsStorePerUser(t *testing.T) {
	hub := NewHub(func() *Store { return New(docstore.NewMemory()) })
	assert.Same(t, hub.For("u1"), hub.For("u1"))
	assert.NotSame(t, hub.For("u1"), hub.For("u2"))

	first := hub.For("u1")
	hub.Forget("u1")
	assert.NotSame(t, first, hub.For("u1"))
}

func TestHubEvictsLeastRecentlyUsed(t *testing.T) {
	hub := NewHub(func() *Store { return New(docstore.NewMemory()) }, WithCapacity(2))
	u1 := hub.For("u1")
	u2 := hub.For("u2")
	assert.Same(t, u1, hub.For("u1"))

	hub.For("u3")
	assert.Equal(t, 2, hub.Len())
	assert.Same(t, u1, hub.For("u1"))
	assert.NotSame(t, u2, hub.For("u2"))
	assert.Equal(t, 2, hub.Len())
}

func TestHubIgnoresNonPositiveCapacity(t *testing.T) {
	hub := NewHub(func() *Store { return New(docstore.NewMemory()) }, WithCapacity(0))
	for i := range 10 {
		hub.For(fmt.Sprintf("u%d", i))
	}
	assert.Equal(t, 10, hub.Len())
}
