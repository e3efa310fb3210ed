package saga

import (
	"context"
	"sync"
	"time"

	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

// ErrReplyTimeout is returned when no correlated reply arrives in time.
var ErrReplyTimeout = errors.New("timed out waiting for reply")

// ReplyRouter resumes suspended saga steps when their correlated reply
// arrives over the channel. The transport is at-least-once with no ordering
// guarantee, so replies without a registered waiter (duplicates, late
// retries, replies for a step that is no longer pending) are discarded.
type ReplyRouter struct {
	mux     sync.Mutex
	waiters map[models.ID]chan *events.Event
}

// NewReplyRouter creates an empty router.
func NewReplyRouter() *ReplyRouter {
	return &ReplyRouter{
		waiters: make(map[models.ID]chan *events.Event),
	}
}

// Waiter is a registered expectation for a single correlated reply. The
// holder must call Cancel once it stops waiting so the slot is freed.
type Waiter struct {
	router        *ReplyRouter
	correlationID models.ID
	ch            chan *events.Event
}

// Expect registers a waiter for the correlation ID. Callers that solicit a
// reply by publishing a command must register before publishing, otherwise
// a fast reply can arrive with no waiter in place and be dropped. At most
// one waiter per correlation ID is active at a time.
func (r *ReplyRouter) Expect(correlationID models.ID) *Waiter {
	ch := make(chan *events.Event, 1)

	r.mux.Lock()
	r.waiters[correlationID] = ch
	r.mux.Unlock()

	return &Waiter{router: r, correlationID: correlationID, ch: ch}
}

// Wait blocks until the correlated reply arrives, the timeout expires, or
// the context is cancelled.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (*events.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-w.ch:
		return event, nil
	case <-timer.C:
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel releases the waiter's registration. Safe to call after the reply
// arrived or after a newer waiter took over the correlation ID.
func (w *Waiter) Cancel() {
	w.router.mux.Lock()
	if w.router.waiters[w.correlationID] == w.ch {
		delete(w.router.waiters, w.correlationID)
	}
	w.router.mux.Unlock()
}

// Wait registers a waiter and blocks for its reply in one call. Use Expect
// directly when the reply may be produced before Wait would run.
func (r *ReplyRouter) Wait(ctx context.Context, correlationID models.ID, timeout time.Duration) (*events.Event, error) {
	waiter := r.Expect(correlationID)
	defer waiter.Cancel()

	return waiter.Wait(ctx, timeout)
}

// Dispatch hands a reply to the waiter registered for its correlation ID.
// Unmatched replies are dropped without error.
func (r *ReplyRouter) Dispatch(ctx context.Context, event *events.Event) error {
	if event.CorrelationID == "" {
		return nil
	}

	r.mux.Lock()
	ch, ok := r.waiters[event.CorrelationID]
	if ok {
		delete(r.waiters, event.CorrelationID)
	}
	r.mux.Unlock()

	if !ok {
		return nil
	}

	select {
	case ch <- event:
	default:
	}

	return nil
}
