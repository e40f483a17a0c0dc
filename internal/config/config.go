package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	Server    ServerConfig     `json:"server"`
	Database  DatabaseConfig   `json:"database"`
	Cache     CacheConfig      `json:"cache"`
	Embedding EmbeddingConfig  `json:"embedding"`
	Worker    WorkerConfig     `json:"worker"`
	Schedule  ScheduleConfig   `json:"schedule"`
}

type ServerConfig struct {
	CORSAllowlist         []string `json:"cors_allowlist"`
	RetryRateLimitSeconds int      `json:"retry_rate_limit_seconds"`
}

type DatabaseConfig struct {
	Type     string `json:"type"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type CacheConfig struct {
	MaxBucketSizePerType int     `json:"max_bucket_size_per_type"`
	SimilarityThreshold  float64 `json:"similarity_threshold"`
}

type EmbeddingProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	TaskType string      `json:"task_type"`
	Data     interface{} `json:"data"`
}

type EmbeddingConfig struct {
	Providers         []EmbeddingProviderConfig `json:"providers"`
	BatchSize         int                       `json:"embedding_batch_size"`
	InterBatchDelayMs int                       `json:"inter_batch_delay_ms"`
	RetryAttempts     int                       `json:"embedding_retry_attempts"`
	RetryWaitMinMs    int                       `json:"retry_wait_min_ms"`
	RetryWaitMaxMs    int                       `json:"retry_wait_max_ms"`
	TimeoutSeconds    int                       `json:"timeout_seconds"`
	LRUSize           int                       `json:"lru_size"`
	LRUTTLSeconds     int                       `json:"lru_ttl_seconds"`
}

type WorkerConfig struct {
	Workers           int         `json:"workers"`
	QueueSize         int         `json:"queue_size"`
	StopTimeoutSecond int         `json:"stop_timeout_seconds"`
	Queue             QueueConfig `json:"queue"`
}

type QueueConfig struct {
	Type  string      `json:"type"`
	Redis RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

type ScheduleConfig struct {
	SummaryAuditSpec     string `json:"summary_audit_spec"`
	SummaryCleanupSpec   string `json:"summary_cleanup_spec"`
	SummaryRetentionDays int    `json:"summary_retention_days"`
	StuckAfterMinutes    int    `json:"stuck_after_minutes"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a file: in-memory storage and queue.
func Default() *Config {
	cfg := &Config{Port: 8080}
	cfg.Database.Type = "memory"
	_ = cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Server.RetryRateLimitSeconds < 0 {
		return fmt.Errorf("server.retry_rate_limit_seconds must not be negative")
	}

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	switch cfg.Database.Type {
	case "postgres":
		if cfg.Database.DSN == "" && cfg.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	case "memory":
	default:
		return fmt.Errorf("database.type must be postgres or memory")
	}

	if cfg.Cache.MaxBucketSizePerType <= 0 {
		cfg.Cache.MaxBucketSizePerType = 10
	}
	if cfg.Cache.SimilarityThreshold <= 0 {
		cfg.Cache.SimilarityThreshold = 0.9
	}
	if cfg.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in (0, 1]")
	}

	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 5
	}
	if cfg.Embedding.InterBatchDelayMs < 0 {
		return fmt.Errorf("embedding.inter_batch_delay_ms must not be negative")
	}
	if cfg.Embedding.InterBatchDelayMs == 0 {
		cfg.Embedding.InterBatchDelayMs = 1000
	}
	if cfg.Embedding.RetryAttempts <= 0 {
		cfg.Embedding.RetryAttempts = 4
	}
	if cfg.Embedding.RetryWaitMinMs <= 0 {
		cfg.Embedding.RetryWaitMinMs = 500
	}
	if cfg.Embedding.RetryWaitMaxMs <= 0 {
		cfg.Embedding.RetryWaitMaxMs = 30000
	}
	if cfg.Embedding.TimeoutSeconds <= 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.LRUSize == 0 {
		cfg.Embedding.LRUSize = 10000
	}
	if cfg.Embedding.LRUTTLSeconds == 0 {
		cfg.Embedding.LRUTTLSeconds = 7200
	}
	for i, p := range cfg.Embedding.Providers {
		if strings.TrimSpace(p.Provider) == "" || strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("embedding.providers[%d] requires provider and model", i)
		}
		if p.Name == "" {
			cfg.Embedding.Providers[i].Name = p.Provider + ":" + p.Model
		}
	}

	if cfg.Worker.Workers <= 0 {
		cfg.Worker.Workers = 4
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = 256
	}
	if cfg.Worker.StopTimeoutSecond <= 0 {
		cfg.Worker.StopTimeoutSecond = 30
	}
	cfg.Worker.Queue.Type = strings.ToLower(strings.TrimSpace(cfg.Worker.Queue.Type))
	if cfg.Worker.Queue.Type == "" {
		cfg.Worker.Queue.Type = "memory"
	}
	switch cfg.Worker.Queue.Type {
	case "memory":
	case "redis":
		if cfg.Worker.Queue.Redis.Addr == "" {
			return fmt.Errorf("worker.queue.redis.addr is required for redis queue")
		}
		if cfg.Worker.Queue.Redis.Key == "" {
			cfg.Worker.Queue.Redis.Key = "qcache:update_jobs"
		}
	default:
		return fmt.Errorf("worker.queue.type must be memory or redis")
	}

	if cfg.Schedule.SummaryAuditSpec == "" {
		cfg.Schedule.SummaryAuditSpec = "*/5 * * * *"
	}
	if cfg.Schedule.SummaryCleanupSpec == "" {
		cfg.Schedule.SummaryCleanupSpec = "30 3 * * *"
	}
	if cfg.Schedule.SummaryRetentionDays <= 0 {
		cfg.Schedule.SummaryRetentionDays = 30
	}
	if cfg.Schedule.StuckAfterMinutes <= 0 {
		cfg.Schedule.StuckAfterMinutes = 30
	}
	return nil
}
