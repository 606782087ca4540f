package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. Subscription callbacks run synchronously on
// the writer's goroutine after the store lock is released.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        map[int]*memorySub
	nextSub     int

	// failWith simulates an outage for every operation while set.
	failMu   sync.RWMutex
	failWith error
}

type memorySub struct {
	collection string
	match      Predicate
	onChange   func([]Document)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int]*memorySub),
	}
}

// SetFailure makes every subsequent operation fail with err wrapped in
// ErrUnavailable. Pass nil to restore normal behavior.
func (m *Memory) SetFailure(err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.failWith = err
}

func (m *Memory) fail() error {
	m.failMu.RLock()
	defer m.failMu.RUnlock()
	if m.failWith != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, m.failWith)
	}
	return nil
}

func (m *Memory) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return &Document{ID: id, Data: CloneData(data)}, nil
}

func (m *Memory) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[collection] = coll
	}
	coll[id] = CloneData(data)
	if coll[id] == nil {
		coll[id] = map[string]any{}
	}
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

func (m *Memory) UpdateFields(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	data, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	for k, v := range patch {
		data[k] = cloneValue(v)
	}
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

func (m *Memory) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	_, existed := m.collections[collection][id]
	delete(m.collections[collection], id)
	m.mu.Unlock()

	if existed {
		m.notify(collection)
	}
	return nil
}

func (m *Memory) ListCollection(ctx context.Context, collection string) ([]Document, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(collection), nil
}

func (m *Memory) SubscribeCollection(ctx context.Context, collection string, match Predicate,
	onChange func([]Document), onError func(error)) (Unsubscribe, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	sub := &memorySub{collection: collection, match: match, onChange: onChange}
	m.subs[id] = sub
	initial := Filter(m.snapshotLocked(collection), match)
	m.mu.Unlock()

	onChange(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}, nil
}

// snapshotLocked returns the collection sorted by id. Caller must hold mu.
func (m *Memory) snapshotLocked(collection string) []Document {
	coll := m.collections[collection]
	docs := make([]Document, 0, len(coll))
	for id, data := range coll {
		docs = append(docs, Document{ID: id, Data: CloneData(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func (m *Memory) notify(collection string) {
	m.mu.Lock()
	type delivery struct {
		fn   func([]Document)
		docs []Document
	}
	var pending []delivery
	var all []Document
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		sub := m.subs[id]
		if sub.collection != collection {
			continue
		}
		if all == nil {
			all = m.snapshotLocked(collection)
		}
		pending = append(pending, delivery{fn: sub.onChange, docs: Filter(all, sub.match)})
	}
	m.mu.Unlock()

	for _, d := range pending {
		d.fn(d.docs)
	}
}
