// Package queue provides the in-process account queues consumed by the
// dispatch core. If the deployment ever fans out across processes these
// would sit behind an RPC boundary with the same four operations.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/fieldops/rove/core/model"
)

// AccountQueue is a FIFO queue of accounts, safe for concurrent use from
// multiple visit tasks.
type AccountQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []model.Account
}

// New creates an empty queue.
func New() *AccountQueue {
	q := &AccountQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an account.
func (q *AccountQueue) Push(a model.Account) {
	q.mu.Lock()
	q.items = append(q.items, a)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pop removes the oldest account, blocking until one is available or the
// context is canceled.
func (q *AccountQueue) Pop(ctx context.Context) (model.Account, error) {
	stop := context.AfterFunc(ctx, func() {
		// Take the lock so the broadcast cannot slip between a waiter's
		// context check and its Wait.
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if ctx.Err() != nil {
			return model.Account{}, ctx.Err()
		}
		q.cond.Wait()
	}
	a := q.items[0]
	q.items = q.items[1:]
	q.cond.Broadcast() // wake WaitUntilBelow waiters
	return a, nil
}

// TryPop removes the oldest account without blocking.
func (q *AccountQueue) TryPop() (model.Account, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Account{}, false
	}
	a := q.items[0]
	q.items = q.items[1:]
	q.cond.Broadcast()
	return a, true
}

// Size returns the number of queued accounts.
func (q *AccountQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// List returns a copy of the queued accounts without removing them. Used by
// periodic snapshots.
func (q *AccountQueue) List() []model.Account {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Account, len(q.items))
	copy(out, q.items)
	return out
}

// Drain removes and returns all queued accounts.
func (q *AccountQueue) Drain() []model.Account {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.cond.Broadcast()
	return items
}

// WaitUntilBelow blocks until the queue size drops below the threshold and
// returns the time spent waiting.
func (q *AccountQueue) WaitUntilBelow(ctx context.Context, threshold int) (time.Duration, error) {
	start := time.Now()
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= threshold {
		if ctx.Err() != nil {
			return time.Since(start), ctx.Err()
		}
		q.cond.Wait()
	}
	return time.Since(start), nil
}
