package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/model"
)

const defaultPopTimeout = time.Second

// RedisQueue keeps jobs in a redis list. A popped job is parked in a processing list until
// it is acked, so jobs of a crashed process can be recovered on the next start.
type RedisQueue struct {
	client        redis.UniversalClient
	key           string
	processingKey string
	popTimeout    time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{
		client:        client,
		key:           key,
		processingKey: key + ":processing",
		popTimeout:    defaultPopTimeout,
		closed:        make(chan struct{}),
	}
}

func (q *RedisQueue) Push(ctx context.Context, job *model.CacheUpdateJob) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (*Delivery, error) {
	for {
		select {
		case <-q.closed:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		raw, err := q.client.BRPopLPush(ctx, q.key, q.processingKey, q.popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var job model.CacheUpdateJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			logutil.GetLogger(ctx).Error("drop undecodable job", zap.Error(err))
			_ = q.client.LRem(ctx, q.processingKey, 1, raw).Err()
			continue
		}
		return &Delivery{
			Job: &job,
			ack: func(ctx context.Context) error {
				return q.client.LRem(ctx, q.processingKey, 1, raw).Err()
			},
		}, nil
	}
}

// Recover moves jobs left unacked in the processing list back to the queue.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey, q.key).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}

func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil
}
