package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/metrics"
	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/pkg/timeutil"
	"github.com/xxxsen/qcache/internal/repo"
)

const auditListLimit = 100

var auditedStatuses = []model.SummaryStatus{
	model.SummaryStatusCreated,
	model.SummaryStatusInProgress,
	model.SummaryStatusUpdated,
	model.SummaryStatusFailed,
}

// SummaryAuditJob publishes summary counts per status and reports summaries that have been
// in_progress for longer than stuckAfter.
type SummaryAuditJob struct {
	summaries  repo.SummaryStore
	stuckAfter time.Duration
}

func NewSummaryAuditJob(summaries repo.SummaryStore, stuckAfter time.Duration) *SummaryAuditJob {
	return &SummaryAuditJob{summaries: summaries, stuckAfter: stuckAfter}
}

func (j *SummaryAuditJob) Name() string {
	return "summary_audit"
}

func (j *SummaryAuditJob) Run(ctx context.Context) error {
	if j.summaries == nil {
		return nil
	}
	counts, err := j.summaries.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, status := range auditedStatuses {
		metrics.Summaries.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	stuck, err := j.Stuck(ctx)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx)
	for _, s := range stuck {
		logger.Warn("summary stuck in progress",
			zap.String("summary_id", s.ID),
			zap.Int("attempts", s.Attempts),
			zap.Int64("mtime", s.Mtime),
		)
	}
	return nil
}

// Stuck lists in_progress summaries untouched for longer than stuckAfter.
func (j *SummaryAuditJob) Stuck(ctx context.Context) ([]model.CacheSummary, error) {
	stuckAfter := j.stuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	items, err := j.summaries.List(ctx, model.SummaryFilter{Status: model.SummaryStatusInProgress, Limit: auditListLimit})
	if err != nil {
		return nil, err
	}
	cutoff := timeutil.NowUnix() - int64(stuckAfter/time.Second)
	out := make([]model.CacheSummary, 0, len(items))
	for _, s := range items {
		if s.Mtime <= cutoff {
			out = append(out, s)
		}
	}
	return out, nil
}
