package service

import (
	"context"
	"errors"
	"sync"

	"evallab/internal/metrics"
	"evallab/internal/model"

	"github.com/eapache/queue"
)

var ErrQueueClosed = errors.New("run queue closed")

// RunQueue is an unbounded in-process FIFO of runs waiting for a worker.
// Nothing is persisted: runs still queued when the process exits are lost.
type RunQueue struct {
	mu      sync.Mutex
	items   *queue.Queue
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	metrics metrics.Recorder
}

func NewRunQueue(rec metrics.Recorder) *RunQueue {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &RunQueue{
		items:   queue.New(),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		metrics: rec,
	}
}

// Enqueue appends run to the tail. It only fails once the queue is closed.
func (q *RunQueue) Enqueue(run *model.EvaluationRun) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items.Add(run)
	q.metrics.SetQueueDepth(q.items.Length())
	q.mu.Unlock()

	q.signal()
	return nil
}

// Closed reports whether Close has been called.
func (q *RunQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Dequeue blocks until a run is available, ctx is done, or the queue is
// closed and drained.
func (q *RunQueue) Dequeue(ctx context.Context) (*model.EvaluationRun, error) {
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			run := q.items.Remove().(*model.EvaluationRun)
			left := q.items.Length()
			q.metrics.SetQueueDepth(left)
			q.mu.Unlock()
			if left > 0 {
				q.signal()
			}
			return run, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *RunQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Close rejects further enqueues. Runs already queued can still be dequeued.
func (q *RunQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *RunQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
