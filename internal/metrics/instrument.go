package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/notify"
)

// Store decorates a docstore.Store with timing and outcome metrics.
type Store struct {
	next      docstore.Store
	collector *Collector
}

var _ docstore.Store = (*Store)(nil)

// InstrumentStore wraps next. A nil collector records Prometheus series only.
func InstrumentStore(next docstore.Store, c *Collector) *Store {
	return &Store{next: next, collector: c}
}

func (s *Store) observe(op, collection string, start time.Time, err error) {
	d := time.Since(start)
	StoreOperations.WithLabelValues(op, collection, outcome(err, "ok")).Inc()
	StoreLatency.WithLabelValues(op).Observe(d.Seconds())
	if s.collector == nil {
		return
	}
	if err != nil {
		s.collector.RecordFailure(op, d)
	} else {
		s.collector.RecordTiming(op, d)
	}
}

func (s *Store) GetDocument(ctx context.Context, collection, id string) (*docstore.Document, error) {
	start := time.Now()
	doc, err := s.next.GetDocument(ctx, collection, id)
	s.observe(OpDocRead, collection, start, err)
	return doc, err
}

func (s *Store) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	start := time.Now()
	err := s.next.SetDocument(ctx, collection, id, data)
	s.observe(OpDocWrite, collection, start, err)
	return err
}

func (s *Store) UpdateFields(ctx context.Context, collection, id string, patch map[string]any) error {
	start := time.Now()
	err := s.next.UpdateFields(ctx, collection, id, patch)
	s.observe(OpDocWrite, collection, start, err)
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	start := time.Now()
	err := s.next.DeleteDocument(ctx, collection, id)
	s.observe(OpDocDelete, collection, start, err)
	return err
}

func (s *Store) ListCollection(ctx context.Context, collection string) ([]docstore.Document, error) {
	start := time.Now()
	docs, err := s.next.ListCollection(ctx, collection)
	s.observe(OpDocRead, collection, start, err)
	return docs, err
}

func (s *Store) SubscribeCollection(ctx context.Context, collection string, match docstore.Predicate,
	onChange func([]docstore.Document), onError func(error),
) (docstore.Unsubscribe, error) {
	unsub, err := s.next.SubscribeCollection(ctx, collection, match, onChange, onError)
	if err != nil {
		return nil, err
	}
	ActiveSubscriptions.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			ActiveSubscriptions.Dec()
		})
	}, nil
}

// Dispatcher decorates a notify.Dispatcher with send metrics.
type Dispatcher struct {
	next      notify.Dispatcher
	collector *Collector
}

// InstrumentDispatcher wraps next.
func InstrumentDispatcher(next notify.Dispatcher, c *Collector) *Dispatcher {
	return &Dispatcher{next: next, collector: c}
}

func (d *Dispatcher) Send(ctx context.Context, msg notify.Message) error {
	start := time.Now()
	err := d.next.Send(ctx, msg)
	ApprovalEmails.WithLabelValues(outcome(err, "sent")).Inc()
	if d.collector != nil {
		if err != nil {
			d.collector.RecordFailure(OpDispatch, time.Since(start))
		} else {
			d.collector.RecordTiming(OpDispatch, time.Since(start))
		}
	}
	return err
}
