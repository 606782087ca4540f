// Package chat keeps a user's chat sessions in sync with the document store.
//
// A Store holds the local view (session list and active pointer) for one
// signed-in user. Commands go through a MergeStrategy against the latest
// remote document; the local view only changes after the remote write
// succeeded. Observers are told about every change, including ones that
// arrive through Watch from other surfaces.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
)

// ErrSessionNotFound indicates an append targeted a session that no longer
// exists remotely. The caller should resynchronize.
var ErrSessionNotFound = errors.New("chat session not found")

// EventKind distinguishes observer notifications.
type EventKind int

const (
	// EventSessionsChanged carries the new local view.
	EventSessionsChanged EventKind = iota
	// EventResyncRequired means a command hit state that diverged from the local view.
	EventResyncRequired
	// EventSyncError reports a failed remote delivery from Watch.
	EventSyncError
)

func (k EventKind) String() string {
	switch k {
	case EventSessionsChanged:
		return "sessions_changed"
	case EventResyncRequired:
		return "resync_required"
	case EventSyncError:
		return "sync_error"
	}
	return "unknown"
}

// Event is delivered to observers.
type Event struct {
	Kind     EventKind
	Sessions models.ChatSessionSet
	Active   string
	Err      error
}

// Store is the chat session store for one user at a time.
type Store struct {
	docs   docstore.Store
	merge  MergeStrategy
	newID  func() string
	logger *slog.Logger

	mu        sync.Mutex
	owner     string
	sessions  models.ChatSessionSet
	active    string
	observers map[int]func(Event)
	nextObs   int
}

// Option configures a Store.
type Option func(*Store)

// WithMergeStrategy replaces the default LastWriterWins strategy.
func WithMergeStrategy(m MergeStrategy) Option {
	return func(s *Store) { s.merge = m }
}

// WithIDGenerator overrides session id allocation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over docs.
func New(docs docstore.Store, opts ...Option) *Store {
	s := &Store{
		docs:      docs,
		merge:     LastWriterWins{},
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:    slog.Default(),
		sessions:  models.ChatSessionSet{},
		observers: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// actor resolves the signed-in user, resets the local view on user change,
// and returns a context carrying the principal for store policies.
func (s *Store) actor(ctx context.Context, sc *identity.Scope) (context.Context, identity.Principal, error) {
	p, err := sc.Actor()
	if err != nil {
		return ctx, p, err
	}
	s.mu.Lock()
	if s.owner != p.UserID {
		s.owner = p.UserID
		s.sessions = models.ChatSessionSet{}
		s.active = ""
	}
	s.mu.Unlock()
	return identity.WithPrincipal(ctx, p), p, nil
}

// Sessions returns a copy of the local session list.
func (s *Store) Sessions() models.ChatSessionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Clone()
}

// Active returns the active session, if any.
func (s *Store) Active() (models.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.sessions.Find(s.active); i >= 0 {
		return s.sessions.Clone()[i], true
	}
	return models.ChatSession{}, false
}

// ActiveID returns the active session id, or "" when none is selected.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive moves the local active pointer. It never touches the store.
// Selecting an unknown id clears the pointer.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	if s.sessions.Find(id) < 0 {
		id = ""
	}
	s.active = id
	s.mu.Unlock()
	s.emitView(EventSessionsChanged)
}

// LoadAll fetches the user's sessions. A missing document yields an empty set
// and is not created. If nothing is active, the first session is selected.
func (s *Store) LoadAll(ctx context.Context, sc *identity.Scope) (models.ChatSessionSet, error) {
	ctx, p, err := s.actor(ctx, sc)
	if err != nil {
		return nil, err
	}

	doc, err := s.docs.GetDocument(ctx, models.CollectionChats, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load chats: %w", err)
	}
	var data map[string]any
	if doc != nil {
		data = doc.Data
	}
	set, err := models.DecodeChatSessionSet(p.UserID, data)
	if err != nil {
		return nil, err
	}

	s.replace(p.UserID, set)
	s.logger.Debug("loaded chat sessions", "user_id", p.UserID, "count", len(set))
	return set.Clone(), nil
}

// CreateSession appends an empty "New Chat" session and makes it active.
func (s *Store) CreateSession(ctx context.Context, sc *identity.Scope) (models.ChatSession, error) {
	ctx, p, err := s.actor(ctx, sc)
	if err != nil {
		return models.ChatSession{}, err
	}

	session := models.ChatSession{
		ID:       s.newID(),
		Title:    models.DefaultSessionTitle,
		Messages: []models.Message{},
	}
	set, err := s.merge.Apply(ctx, s.docs, p.UserID, func(cur models.ChatSessionSet) (models.ChatSessionSet, bool, error) {
		return append(cur, session), true, nil
	})
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("create session: %w", err)
	}

	s.commit(p.UserID, set, session.ID, true)
	s.logger.Info("chat session created", "user_id", p.UserID, "session_id", session.ID)
	return session, nil
}

// AppendMessage records one user/assistant exchange. An empty sessionID means
// there is no active session: a new one titled after userText is created and
// becomes active. An explicit id that no longer exists remotely fails with
// ErrSessionNotFound and nothing is written.
//
// Retrying a failed call with an empty sessionID may create a second session
// if the first write actually landed.
func (s *Store) AppendMessage(ctx context.Context, sc *identity.Scope, sessionID, userText, assistantText string) (models.ChatSessionSet, error) {
	ctx, p, err := s.actor(ctx, sc)
	if err != nil {
		return nil, err
	}

	exchange := []models.Message{
		{Text: userText, Role: models.RoleUser},
		{Text: assistantText, Role: models.RoleAssistant},
	}
	target := sessionID
	if target == "" {
		target = s.newID()
	}

	set, err := s.merge.Apply(ctx, s.docs, p.UserID, func(cur models.ChatSessionSet) (models.ChatSessionSet, bool, error) {
		if sessionID == "" {
			return append(cur, models.ChatSession{
				ID:       target,
				Title:    models.TitleFromMessage(userText),
				Messages: exchange,
			}), true, nil
		}
		i := cur.Find(sessionID)
		if i < 0 {
			return cur, false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		cur[i].Messages = append(cur[i].Messages, exchange...)
		return cur, true, nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("append to missing session", "user_id", p.UserID, "session_id", sessionID)
			s.emit(Event{Kind: EventResyncRequired, Sessions: set.Clone(), Active: s.ActiveID(), Err: err})
			return nil, err
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.commit(p.UserID, set, target, true)
	return set.Clone(), nil
}

// RenameSession changes a session's title. Unknown ids are ignored.
func (s *Store) RenameSession(ctx context.Context, sc *identity.Scope, sessionID, title string) error {
	ctx, p, err := s.actor(ctx, sc)
	if err != nil {
		return err
	}

	set, err := s.merge.Apply(ctx, s.docs, p.UserID, func(cur models.ChatSessionSet) (models.ChatSessionSet, bool, error) {
		i := cur.Find(sessionID)
		if i < 0 || cur[i].Title == title {
			return cur, false, nil
		}
		cur[i].Title = title
		return cur, true, nil
	})
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}

	s.commit(p.UserID, set, "", false)
	return nil
}

// DeleteSession removes a session. Deleting the active session clears the
// active pointer. Unknown ids are ignored.
func (s *Store) DeleteSession(ctx context.Context, sc *identity.Scope, sessionID string) (models.ChatSessionSet, error) {
	ctx, p, err := s.actor(ctx, sc)
	if err != nil {
		return nil, err
	}

	set, err := s.merge.Apply(ctx, s.docs, p.UserID, func(cur models.ChatSessionSet) (models.ChatSessionSet, bool, error) {
		i := cur.Find(sessionID)
		if i < 0 {
			return cur, false, nil
		}
		return append(cur[:i], cur[i+1:]...), true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}

	s.commit(p.UserID, set, "", false)
	return set.Clone(), nil
}

// Watch keeps the local view in sync with remote changes to the user's
// document until the returned function is called or the user signs out.
func (s *Store) Watch(ctx context.Context, sc *identity.Scope) (docstore.Unsubscribe, error) {
	ctx, p, err := s.actor(ctx, sc)
	if err != nil {
		return nil, err
	}

	userID := p.UserID
	unsub, err := s.docs.SubscribeCollection(ctx, models.CollectionChats, docstore.ByID(userID),
		func(docs []docstore.Document) {
			var data map[string]any
			if len(docs) > 0 {
				data = docs[0].Data
			}
			set, err := models.DecodeChatSessionSet(userID, data)
			if err != nil {
				s.emit(Event{Kind: EventSyncError, Err: err})
				return
			}
			s.replace(userID, set)
		},
		func(err error) {
			s.logger.Warn("chat subscription error", "user_id", userID, "error", err)
			s.emit(Event{Kind: EventSyncError, Err: err})
		})
	if err != nil {
		return nil, fmt.Errorf("watch chats: %w", err)
	}
	sc.OnSignOut(unsub)
	return unsub, nil
}

// Observe registers fn for every change to the local view.
// Callbacks run on the goroutine that caused the change.
func (s *Store) Observe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// replace installs a freshly read set, keeping the active pointer when it
// still exists and otherwise selecting the first session.
func (s *Store) replace(owner string, set models.ChatSessionSet) {
	s.mu.Lock()
	if s.owner != owner {
		s.mu.Unlock()
		return
	}
	s.sessions = set.Clone()
	if s.sessions.Find(s.active) < 0 {
		s.active = ""
		if len(s.sessions) > 0 {
			s.active = s.sessions[0].ID
		}
	}
	s.mu.Unlock()
	s.emitView(EventSessionsChanged)
}

// commit installs the result of a successful command. When activate is set,
// activeID becomes the active session.
func (s *Store) commit(owner string, set models.ChatSessionSet, activeID string, activate bool) {
	s.mu.Lock()
	if s.owner != owner {
		s.mu.Unlock()
		return
	}
	s.sessions = set.Clone()
	if activate {
		s.active = activeID
	}
	if s.sessions.Find(s.active) < 0 {
		s.active = ""
	}
	s.mu.Unlock()
	s.emitView(EventSessionsChanged)
}

func (s *Store) emitView(kind EventKind) {
	s.mu.Lock()
	ev := Event{Kind: kind, Sessions: s.sessions.Clone(), Active: s.active}
	s.mu.Unlock()
	s.emit(ev)
}

func (s *Store) emit(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
