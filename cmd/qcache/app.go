package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/ai"
	"github.com/xxxsen/qcache/internal/config"
	"github.com/xxxsen/qcache/internal/db"
	"github.com/xxxsen/qcache/internal/embedcache"
	"github.com/xxxsen/qcache/internal/job"
	"github.com/xxxsen/qcache/internal/repo"
	"github.com/xxxsen/qcache/internal/repo/memrepo"
	"github.com/xxxsen/qcache/internal/schedule"
	"github.com/xxxsen/qcache/internal/service"
	"github.com/xxxsen/qcache/internal/worker"
)

type app struct {
	db          *sql.DB
	redis       *redis.Client
	caches      repo.CacheStore
	embeddings  repo.EmbeddingStore
	summaries   repo.SummaryStore
	cache       *service.CacheService
	dispatcher  *worker.Dispatcher
	scheduler   *schedule.CronScheduler
	audit       *job.SummaryAuditJob
	retryWindow time.Duration
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{retryWindow: time.Duration(cfg.Server.RetryRateLimitSeconds) * time.Second}
	if err := a.initStores(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, err
	}
	taskType := ""
	if len(cfg.Embedding.Providers) > 0 {
		taskType = cfg.Embedding.Providers[0].TaskType
	}
	client := ai.NewClient(embedder, ai.ClientConfig{
		BatchSize:       cfg.Embedding.BatchSize,
		InterBatchDelay: time.Duration(cfg.Embedding.InterBatchDelayMs) * time.Millisecond,
		TaskType:        taskType,
	})
	admission := service.NewAdmissionController(service.AdmissionConfig{
		MaxBucketSize:       cfg.Cache.MaxBucketSizePerType,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
	}, a.embeddings, client)
	updater := service.NewCacheUpdateService(a.caches, a.embeddings, a.summaries, admission)

	queue, err := a.newQueue(ctx, cfg.Worker)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = worker.NewDispatcher(queue, updater, cfg.Worker.Workers)
	a.dispatcher.OnComplete(logCompletion)
	a.cache = service.NewCacheService(service.NewGapService(a.caches, a.summaries), a.summaries, a.dispatcher)

	a.audit = job.NewSummaryAuditJob(a.summaries, time.Duration(cfg.Schedule.StuckAfterMinutes)*time.Minute)
	a.scheduler = schedule.NewCronScheduler()
	if err := a.scheduler.AddJob(a.audit, cfg.Schedule.SummaryAuditSpec); err != nil {
		a.Close()
		return nil, fmt.Errorf("schedule summary audit: %w", err)
	}
	if err := a.scheduler.AddJob(job.NewSummaryCleanupJob(a.summaries, cfg.Schedule.SummaryRetentionDays), cfg.Schedule.SummaryCleanupSpec); err != nil {
		a.Close()
		return nil, fmt.Errorf("schedule summary cleanup: %w", err)
	}
	return a, nil
}

func (a *app) initStores(ctx context.Context, cfg *config.Config) error {
	var embeddings repo.EmbeddingStore
	switch cfg.Database.Type {
	case "postgres":
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		a.db = conn
		if err := db.ApplyMigrations(ctx, conn); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		a.caches = repo.NewCacheRepo(conn)
		a.summaries = repo.NewCacheSummaryRepo(conn)
		embeddings = repo.NewQuestionEmbeddingRepo(conn)
	default:
		logutil.GetLogger(ctx).Warn("using in-memory storage, data is lost on exit")
		a.caches = memrepo.NewCacheStore()
		a.summaries = memrepo.NewSummaryStore()
		embeddings = memrepo.NewEmbeddingStore()
	}
	a.embeddings = embedcache.WrapLRU(embeddings, cfg.Embedding.LRUSize, time.Duration(cfg.Embedding.LRUTTLSeconds)*time.Second)
	return nil
}

func newEmbedder(cfg config.EmbeddingConfig) (ai.IEmbedder, error) {
	httpClient := ai.NewHTTPClient(ai.HTTPClientConfig{
		Attempts: cfg.RetryAttempts,
		WaitMin:  time.Duration(cfg.RetryWaitMinMs) * time.Millisecond,
		WaitMax:  time.Duration(cfg.RetryWaitMaxMs) * time.Millisecond,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	entries := make([]ai.EmbedderEntry, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		provider, err := ai.NewProvider(p.Provider, ai.ProviderArgs{Data: p.Data, HTTPClient: httpClient})
		if err != nil {
			return nil, fmt.Errorf("init embedding provider %s: %w", p.Name, err)
		}
		entries = append(entries, ai.EmbedderEntry{Name: p.Name, Embedder: ai.NewEmbedder(provider, p.Model)})
	}
	if len(entries) == 0 {
		logutil.GetLogger(context.Background()).Warn("no embedding provider configured, cache updates past bootstrap will fail")
	}
	return ai.NewGroupEmbedder(entries), nil
}

func (a *app) newQueue(ctx context.Context, cfg config.WorkerConfig) (worker.Queue, error) {
	if cfg.Queue.Type != "redis" {
		return worker.NewMemoryQueue(cfg.QueueSize), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.Redis.Addr,
		Password: cfg.Queue.Redis.Password,
		DB:       cfg.Queue.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	queue := worker.NewRedisQueue(a.redis, cfg.Queue.Redis.Key)
	moved, err := queue.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover update jobs: %w", err)
	}
	if moved > 0 {
		logutil.GetLogger(ctx).Info("requeued unacked update jobs", zap.Int("count", moved))
	}
	return queue, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func logCompletion(ctx context.Context, c worker.Completion) {
	logger := logutil.GetLogger(ctx).With(zap.String("summary_id", c.CacheSummaryID))
	if c.Success {
		logger.Info("cache update job completed")
		return
	}
	logger.Error("cache update job failed", zap.String("error", c.Error))
}
