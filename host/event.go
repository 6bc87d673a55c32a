// Package host models the runtime a caching worker lives in:
// lifecycle events whose lifetime can be extended, fetch events that are
// answered with a response, and the registration that installs, activates
// and dispatches requests to one worker.
package host

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// ErrAlreadyResponded is returned when RespondWith is called more than once for an event.
var ErrAlreadyResponded = errors.New("fetch event already responded to")

// ExtendableEvent is a lifecycle event (install or activate).
// The event is not finished until all work passed to WaitUntil has returned.
type ExtendableEvent struct {
	ctx  context.Context
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func NewExtendableEvent(ctx context.Context) *ExtendableEvent {
	return &ExtendableEvent{ctx: ctx}
}

// Context is cancelled when the host gives up on the event.
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil extends the lifetime of the event until fn returns.
// An error returned by fn fails the event.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(e.ctx); err != nil {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		}
	}()
}

// Wait blocks until all extending work has returned.
// It returns the errors of the failed work joined together, or nil.
func (e *ExtendableEvent) Wait() error {
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

// Responder produces the response for a fetch event.
// A returned error is a network error and is rendered as such to the client.
type Responder func() (*http.Response, error)

// FetchEvent is dispatched for every request that reaches an active worker.
type FetchEvent struct {
	ID      uuid.UUID
	Request *http.Request

	mu        sync.Mutex
	responder Responder
}

func NewFetchEvent(r *http.Request) *FetchEvent {
	return &FetchEvent{
		ID:      uuid.New(),
		Request: r,
	}
}

// RespondWith takes over the response for the request.
// If the worker does not call it, the host fetches the request from the network.
func (e *FetchEvent) RespondWith(fn Responder) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responder != nil {
		return ErrAlreadyResponded
	}
	e.responder = fn
	return nil
}

// Responded reports whether RespondWith was called.
func (e *FetchEvent) Responded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responder != nil
}

func (e *FetchEvent) getResponder() (Responder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responder, e.responder != nil
}
