package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
	err   error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestRunNow(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "summary_audit", err: errors.New("db down")}
	require.NoError(t, s.AddJob(job, "*/5 * * * *"))

	require.EqualError(t, s.RunNow(context.Background(), "summary_audit"), "db down")
	require.Equal(t, int32(1), job.runs.Load())
	require.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrJobNotFound)
}

func TestAddJobRejectsDuplicatesAndBadSpec(t *testing.T) {
	s := NewCronScheduler()
	require.NoError(t, s.AddJob(&countingJob{name: "a"}, "30 3 * * *"))
	require.ErrorIs(t, s.AddJob(&countingJob{name: "a"}, "30 3 * * *"), ErrJobExists)
	require.Error(t, s.AddJob(&countingJob{name: "b"}, "not a spec"))
}

func TestRunNowDoesNotOverlap(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "summary_cleanup", block: make(chan struct{})}
	require.NoError(t, s.AddJob(job, "30 3 * * *"))

	done := make(chan error, 1)
	go func() {
		done <- s.RunNow(context.Background(), "summary_cleanup")
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, s.RunNow(context.Background(), "summary_cleanup"), ErrJobRunning)

	close(job.block)
	require.NoError(t, <-done)
}

func TestNextAfterStart(t *testing.T) {
	s := NewCronScheduler()
	require.NoError(t, s.AddJob(&countingJob{name: "a"}, "*/5 * * * *"))
	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return !s.Next("a").IsZero() }, time.Second, 5*time.Millisecond)
	require.True(t, s.Next("missing").IsZero())
}
