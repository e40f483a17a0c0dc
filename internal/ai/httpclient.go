package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/metrics"
)

type HTTPClientConfig struct {
	// Attempts is the total number of tries, first call included.
	Attempts int
	WaitMin  time.Duration
	WaitMax  time.Duration
	Timeout  time.Duration
}

// NewHTTPClient returns an http.Client that retries network errors, 429 and 5xx with
// exponential backoff. The last response is handed back untouched once retries run out.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	client := retryablehttp.NewClient()
	if cfg.Attempts > 0 {
		client.RetryMax = cfg.Attempts - 1
	}
	if cfg.WaitMin > 0 {
		client.RetryWaitMin = cfg.WaitMin
	}
	if cfg.WaitMax > 0 {
		client.RetryWaitMax = cfg.WaitMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	client.Logger = &zapLeveledLogger{}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			metrics.EmbeddingRetries.Inc()
			logutil.GetLogger(req.Context()).Debug("retry embedding request",
				zap.String("url", req.URL.Redacted()), zap.Int("attempt", attempt))
		}
	}
	return client.StandardClient()
}

type zapLeveledLogger struct{}

func (l *zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	logutil.GetLogger(context.Background()).Error(msg, toFields(keysAndValues)...)
}

func (l *zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	logutil.GetLogger(context.Background()).Info(msg, toFields(keysAndValues)...)
}

func (l *zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	logutil.GetLogger(context.Background()).Debug(msg, toFields(keysAndValues)...)
}

func (l *zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	logutil.GetLogger(context.Background()).Warn(msg, toFields(keysAndValues)...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
