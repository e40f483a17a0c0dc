// Package worker runs cache update jobs in the background.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/metrics"
	"github.com/xxxsen/qcache/internal/model"
)

type Processor interface {
	Process(ctx context.Context, job *model.CacheUpdateJob) error
}

// Completion is emitted once per processed job.
type Completion struct {
	Success        bool   `json:"success"`
	CacheSummaryID string `json:"cache_summary_id"`
	Error          string `json:"error,omitempty"`
}

type CompletionHandler func(ctx context.Context, c Completion)

// Dispatcher pulls jobs from a Queue and runs them on a fixed number of workers.
type Dispatcher struct {
	queue     Queue
	processor Processor
	workers   int
	retryWait time.Duration

	handlersMu sync.RWMutex
	handlers   []CompletionHandler

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	submitted int64
	processed int64
	failed    int64
}

type Stats struct {
	Workers   int   `json:"workers"`
	Submitted int64 `json:"submitted"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

func NewDispatcher(queue Queue, processor Processor, workers int) *Dispatcher {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		queue:     queue,
		processor: processor,
		workers:   workers,
		retryWait: time.Second,
	}
}

func (d *Dispatcher) OnComplete(h CompletionHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Submit enqueues job and returns without waiting for it to run.
func (d *Dispatcher) Submit(ctx context.Context, job *model.CacheUpdateJob) error {
	d.lifecycleMu.Lock()
	stopped := d.stopped
	d.lifecycleMu.Unlock()
	if stopped {
		return ErrDispatcherStopped
	}
	if err := d.queue.Push(ctx, job); err != nil {
		return err
	}
	atomic.AddInt64(&d.submitted, 1)
	d.reportDepth(ctx)
	return nil
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	if d.started {
		return ErrDispatcherStarted
	}
	if d.stopped {
		return ErrDispatcherStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(runCtx, i)
	}
	d.started = true
	logutil.GetLogger(ctx).Info("cache update dispatcher started", zap.Int("workers", d.workers))
	return nil
}

// Stop closes the queue and waits for the workers to finish what they hold. Workers still
// busy after timeout are cancelled.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	if !d.started || d.stopped {
		d.stopped = true
		return nil
	}
	d.stopped = true
	_ = d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-timer.C:
		d.cancel()
		return ErrStopTimeout
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:   d.workers,
		Submitted: atomic.LoadInt64(&d.submitted),
		Processed: atomic.LoadInt64(&d.processed),
		Failed:    atomic.LoadInt64(&d.failed),
	}
}

func (d *Dispatcher) worker(ctx context.Context, idx int) {
	defer d.wg.Done()
	logger := logutil.GetLogger(ctx).With(zap.Int("worker", idx))
	for {
		delivery, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			logger.Warn("pop update job failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.retryWait):
			}
			continue
		}
		d.reportDepth(ctx)
		d.handle(ctx, delivery)
	}
}

func (d *Dispatcher) handle(ctx context.Context, delivery *Delivery) {
	job := delivery.Job
	err := d.run(ctx, job)
	atomic.AddInt64(&d.processed, 1)
	if err != nil {
		atomic.AddInt64(&d.failed, 1)
	}
	// a job interrupted by shutdown stays unacked so a durable queue hands it out again
	if ctx.Err() == nil {
		if ackErr := delivery.Ack(context.WithoutCancel(ctx)); ackErr != nil {
			logutil.GetLogger(ctx).Error("ack update job failed", zap.String("summary_id", job.CacheSummaryID), zap.Error(ackErr))
		}
	}
	completion := Completion{Success: err == nil, CacheSummaryID: job.CacheSummaryID}
	if err != nil {
		completion.Error = err.Error()
	}
	d.handlersMu.RLock()
	handlers := append([]CompletionHandler(nil), d.handlers...)
	d.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ctx, completion)
	}
}

func (d *Dispatcher) run(ctx context.Context, job *model.CacheUpdateJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process job panic: %v", r)
			logutil.GetLogger(ctx).Error("update job panic", zap.String("summary_id", job.CacheSummaryID), zap.Any("panic", r))
		}
	}()
	return d.processor.Process(ctx, job)
}

func (d *Dispatcher) reportDepth(ctx context.Context) {
	if n, err := d.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
