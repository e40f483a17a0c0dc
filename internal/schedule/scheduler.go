package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job still running")
	ErrJobExists   = errors.New("job already scheduled")
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	RunNow(ctx context.Context, name string) error
	Start(ctx context.Context)
	Stop()
}

type entry struct {
	job     Job
	spec    string
	id      cron.EntryID
	running atomic.Bool
}

type CronScheduler struct {
	cron *cron.Cron

	mu      sync.RWMutex
	entries map[string]*entry
	ctx     context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]*entry),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrJobExists)
	}
	e := &entry{job: job, spec: spec}
	entryID, err := c.cron.AddFunc(spec, func() {
		if err := c.run(c.runContext(), e); errors.Is(err, ErrJobRunning) {
			logutil.GetLogger(context.Background()).Info("job skipped: still running", zap.String("job", name))
		}
	})
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	e.id = entryID
	c.entries[name] = e
	logger.Info("job scheduled")
	return nil
}

// RunNow runs a scheduled job on the calling goroutine. A job never overlaps with itself.
func (c *CronScheduler) RunNow(ctx context.Context, name string) error {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrJobNotFound)
	}
	return c.run(ctx, e)
}

// Next returns the next activation of a scheduled job, zero before Start.
func (c *CronScheduler) Next(name string) time.Time {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return c.cron.Entry(e.id).Next
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) runContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *CronScheduler) run(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	defer e.running.Store(false)

	logger := logutil.GetLogger(ctx).With(
		zap.String("job", e.job.Name()),
		zap.String("spec", e.spec),
	)
	start := time.Now()
	logger.Info("job started")
	err := e.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return err
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
	return nil
}
