package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/pkg/timeutil"
	"github.com/xxxsen/qcache/internal/repo"
)

// SummaryCleanupJob removes finished summaries older than the retention window. Created and
// in_progress summaries are never touched.
type SummaryCleanupJob struct {
	summaries     repo.SummaryStore
	retentionDays int
}

func NewSummaryCleanupJob(summaries repo.SummaryStore, retentionDays int) *SummaryCleanupJob {
	return &SummaryCleanupJob{summaries: summaries, retentionDays: retentionDays}
}

func (j *SummaryCleanupJob) Name() string {
	return "summary_cleanup"
}

func (j *SummaryCleanupJob) Run(ctx context.Context) error {
	if j.summaries == nil {
		return nil
	}
	retentionDays := j.retentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := timeutil.DaysAgoUnix(retentionDays)
	deleted, err := j.summaries.DeleteBefore(ctx, []model.SummaryStatus{model.SummaryStatusUpdated, model.SummaryStatusFailed}, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logutil.GetLogger(ctx).Info("expired summaries removed", zap.Int64("count", deleted), zap.Int64("cutoff", cutoff))
	}
	return nil
}
