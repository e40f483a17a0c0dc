package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/qcache/internal/metrics"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

const (
	defaultBatchSize       = 5
	defaultInterBatchDelay = time.Second
)

type ClientConfig struct {
	BatchSize       int
	InterBatchDelay time.Duration
	TaskType        string
}

type ClientOption func(c *Client)

// WithSleep replaces the wait between chunks.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// Client turns texts into vectors through an IEmbedder. Batches are cut into chunks whose
// calls run concurrently, with a pause between chunks.
type Client struct {
	embedder  IEmbedder
	batchSize int
	delay     time.Duration
	taskType  string
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewClient(embedder IEmbedder, cfg ClientConfig, opts ...ClientOption) *Client {
	c := &Client{
		embedder:  embedder,
		batchSize: cfg.BatchSize,
		delay:     cfg.InterBatchDelay,
		taskType:  cfg.TaskType,
		sleep:     sleepContext,
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	if c.delay < 0 {
		c.delay = defaultInterBatchDelay
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ModelName() string {
	if c.embedder == nil {
		return ""
	}
	return c.embedder.ModelName()
}

func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, appErr.ErrEmbeddingUnavailable
	}
	vec, err := c.embedder.Embed(ctx, text, c.taskType)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(vec) == 0 {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("empty embedding returned")
	}
	metrics.EmbeddingRequests.WithLabelValues("success").Inc()
	return vec, nil
}

// EmbedBatch returns one vector per text in input order. Any failure fails the batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		if start > 0 && c.delay > 0 {
			if err := c.sleep(ctx, c.delay); err != nil {
				return nil, err
			}
		}
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			idx := i
			g.Go(func() error {
				vec, err := c.EmbedOne(gctx, texts[idx])
				if err != nil {
					return fmt.Errorf("embed text %d: %w", idx, err)
				}
				out[idx] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		logutil.GetLogger(ctx).Debug("embedding chunk done",
			zap.Int("from", start), zap.Int("to", end), zap.Int("total", len(texts)))
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
