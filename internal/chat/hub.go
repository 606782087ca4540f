package chat

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHubCapacity bounds how many users' stores a Hub keeps.
const DefaultHubCapacity = 4096

// Hub hands out one Store per user so that servers handling many users keep
// each user's active session across requests. The least recently used store
// is dropped once the hub is full; the user's next request starts a fresh
// store, which reloads from the document store.
type Hub struct {
	newFn  func() *Store
	stores *lru.Cache[string, *Store]
}

// HubOption configures a Hub.
type HubOption func(*hubConfig)

type hubConfig struct {
	capacity int
}

// WithCapacity sets how many stores the hub keeps. Values below 1 are ignored.
func WithCapacity(n int) HubOption {
	return func(c *hubConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// NewHub creates a hub whose stores are built by newStore.
func NewHub(newStore func() *Store, opts ...HubOption) *Hub {
	cfg := hubConfig{capacity: DefaultHubCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *Store](cfg.capacity)
	return &Hub{newFn: newStore, stores: cache}
}

// For returns the store for userID, creating it on first use.
func (h *Hub) For(userID string) *Store {
	if s, ok := h.stores.Get(userID); ok {
		return s
	}
	s := h.newFn()
	if prev, ok, _ := h.stores.PeekOrAdd(userID, s); ok {
		return prev
	}
	return s
}

// Forget drops the store for userID.
func (h *Hub) Forget(userID string) {
	h.stores.Remove(userID)
}

// Len reports how many stores the hub holds.
func (h *Hub) Len() int {
	return h.stores.Len()
}
