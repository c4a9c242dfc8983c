// Package memory provides the bounded in-process queue councils are
// dispatched through.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seractech/planwatch/internal/planning"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan planning.CouncilTask
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan planning.CouncilTask, capacity),
	}
}

// Enqueue pushes a council task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task planning.CouncilTask) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next council task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (planning.CouncilTask, error) {
	select {
	case <-ctx.Done():
		return planning.CouncilTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return planning.CouncilTask{}, ErrClosed
		}
		return task, nil
	}
}

// Len reports how many tasks are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel once every task has been enqueued.
// Workers drain what is left, then see "queue closed".
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
