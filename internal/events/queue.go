package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("event queue is closed")

// Queue is an asynchronous Publisher. Publish appends to an unbounded FIFO and returns at once;
// a single worker delivers events to next in the order they were queued.
type Queue struct {
	next Publisher
	log  *zap.Logger

	mu      sync.Mutex
	pending []Event
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func NewQueue(next Publisher, log *zap.Logger) *Queue {
	q := &Queue{
		next: next,
		log:  log.Named("queue"),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Publish(_ context.Context, e Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, e)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Len is the number of events waiting for the worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting events and waits until the backlog is delivered or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, e := range batch {
			if err := q.next.Publish(context.Background(), e); err != nil {
				q.log.Warn("event delivery failed", zap.String("type", string(e.Type())), zap.Error(err))
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
