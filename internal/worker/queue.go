package worker

import (
	"context"
	"sync"

	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

// Delivery is one job handed to a worker. Ack removes it from the queue for good.
type Delivery struct {
	Job *model.CacheUpdateJob
	ack func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

type Queue interface {
	Push(ctx context.Context, job *model.CacheUpdateJob) error
	// Pop blocks until a job is available. It returns ErrQueueClosed once the queue is
	// closed and drained.
	Pop(ctx context.Context) (*Delivery, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryQueue is a bounded in-process queue. Push never blocks.
type MemoryQueue struct {
	mu     sync.RWMutex
	closed bool
	ch     chan *model.CacheUpdateJob
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan *model.CacheUpdateJob, size)}
}

func (q *MemoryQueue) Push(_ context.Context, job *model.CacheUpdateJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return appErr.ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &Delivery{Job: job}, nil
	}
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	return len(q.ch), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
