package docstore

import "context"

// Op names a store operation for access policies.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
)

// Policy decides whether op on collection/id may proceed. The current document
// is passed when it exists so rules can look at ownership. Return an error
// wrapping ErrForbidden to deny.
type Policy func(ctx context.Context, op Op, collection, id string, current *Document) error

// Guarded enforces a Policy in front of another Store, the way a hosted store
// applies its security rules server-side.
type Guarded struct {
	next   Store
	policy Policy
}

// Guard wraps next with policy.
func Guard(next Store, policy Policy) *Guarded {
	return &Guarded{next: next, policy: policy}
}

func (g *Guarded) check(ctx context.Context, op Op, collection, id string) error {
	current, err := g.next.GetDocument(ctx, collection, id)
	if err != nil {
		return err
	}
	return g.policy(ctx, op, collection, id, current)
}

func (g *Guarded) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	doc, err := g.next.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := g.policy(ctx, OpRead, collection, id, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (g *Guarded) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	if err := g.check(ctx, OpWrite, collection, id); err != nil {
		return err
	}
	return g.next.SetDocument(ctx, collection, id, data)
}

func (g *Guarded) UpdateFields(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := g.check(ctx, OpWrite, collection, id); err != nil {
		return err
	}
	return g.next.UpdateFields(ctx, collection, id, patch)
}

func (g *Guarded) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := g.check(ctx, OpDelete, collection, id); err != nil {
		return err
	}
	return g.next.DeleteDocument(ctx, collection, id)
}

func (g *Guarded) ListCollection(ctx context.Context, collection string) ([]Document, error) {
	if err := g.policy(ctx, OpRead, collection, "", nil); err != nil {
		return nil, err
	}
	return g.next.ListCollection(ctx, collection)
}

func (g *Guarded) SubscribeCollection(ctx context.Context, collection string, match Predicate,
	onChange func([]Document), onError func(error)) (Unsubscribe, error) {
	if err := g.policy(ctx, OpRead, collection, "", nil); err != nil {
		return nil, err
	}
	return g.next.SubscribeCollection(ctx, collection, match, onChange, onError)
}
