// Package notify delivers outbound email for ticket workflows.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDispatch matches every *DispatchError via errors.Is.
var ErrDispatch = errors.New("dispatch failed")

// DispatchError reports that a message was not accepted for delivery.
type DispatchError struct {
	Reason string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed: %s", e.Reason)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

// Message is one outbound email.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Dispatcher sends email. Implementations return *DispatchError on failure.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Recorder keeps every message in memory. Setting Fail makes Send return it.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Fail *DispatchError
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns the delivered messages in order.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
