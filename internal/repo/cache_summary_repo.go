package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/goccy/go-json"

	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/pkg/dbutil"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

var summaryColumns = []string{
	"id", "requested_config_id", "chapter_id", "unit_level", "total_questions", "cache_hit", "cache_miss",
	"not_found_templates", "generated_answers", "processed_snapshot", "status", "in_progress",
	"is_cache_updated", "failed", "last_error", "attempts", "ctime", "mtime",
}

type CacheSummaryRepo struct {
	db *sql.DB
}

func NewCacheSummaryRepo(db *sql.DB) *CacheSummaryRepo {
	return &CacheSummaryRepo{db: db}
}

func (r *CacheSummaryRepo) Create(ctx context.Context, summary *model.CacheSummary) error {
	templates, err := json.Marshal(nonNilTemplates(summary.NotFoundTemplates))
	if err != nil {
		return err
	}
	answers, err := json.Marshal(nonNilAnswers(summary.NotFoundGeneratedAnswers))
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(nonNilSnapshot(summary.ProcessedCacheSnapshot))
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":                  summary.ID,
		"requested_config_id": summary.RequestedConfigID,
		"chapter_id":          summary.ChapterID,
		"unit_level":          summary.UnitLevel,
		"total_questions":     summary.TotalQuestionsToFindInCache,
		"cache_hit":           summary.CacheHit,
		"cache_miss":          summary.CacheMiss,
		"not_found_templates": string(templates),
		"generated_answers":   string(answers),
		"processed_snapshot":  string(snapshot),
		"status":              string(summary.Status),
		"in_progress":         summary.InProgress,
		"is_cache_updated":    summary.IsCacheUpdated,
		"failed":              summary.Failed,
		"last_error":          summary.LastError,
		"attempts":            summary.Attempts,
		"ctime":               summary.Ctime,
		"mtime":               summary.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("cache_summaries", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *CacheSummaryRepo) Get(ctx context.Context, id string) (*model.CacheSummary, error) {
	sqlStr, args, err := builder.BuildSelect("cache_summaries", map[string]interface{}{"id": id}, summaryColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	return scanSummary(rows)
}

func (r *CacheSummaryRepo) SaveGeneratedAnswers(ctx context.Context, id string, answers []model.GeneratedAnswer, now int64) error {
	raw, err := json.Marshal(nonNilAnswers(answers))
	if err != nil {
		return err
	}
	return r.update(ctx, map[string]interface{}{"id": id}, map[string]interface{}{
		"generated_answers": string(raw),
		"mtime":             now,
	})
}

func (r *CacheSummaryRepo) MarkInProgress(ctx context.Context, id string, force bool, now int64) (*model.CacheSummary, error) {
	from := []string{string(model.SummaryStatusCreated), string(model.SummaryStatusFailed)}
	if force {
		from = append(from, string(model.SummaryStatusInProgress))
	}
	const query = `
		UPDATE cache_summaries
		SET status = ?, in_progress = TRUE, failed = FALSE, attempts = attempts + 1, mtime = ?
		WHERE id = ? AND status IN (?)
	`
	sqlStr, args, err := dbutil.In(query, string(model.SummaryStatusInProgress), now, id, from)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	summary, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, transitionError(summary)
	}
	return summary, nil
}

func (r *CacheSummaryRepo) MarkUpdated(ctx context.Context, id string, now int64) error {
	return r.update(ctx, map[string]interface{}{"id": id}, map[string]interface{}{
		"status":           string(model.SummaryStatusUpdated),
		"in_progress":      false,
		"is_cache_updated": true,
		"failed":           false,
		"last_error":       "",
		"mtime":            now,
	})
}

func (r *CacheSummaryRepo) MarkFailed(ctx context.Context, id string, reason string, now int64) error {
	return r.update(ctx, map[string]interface{}{"id": id}, map[string]interface{}{
		"status":      string(model.SummaryStatusFailed),
		"in_progress": false,
		"failed":      true,
		"last_error":  reason,
		"mtime":       now,
	})
}

func (r *CacheSummaryRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("cache_summaries", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *CacheSummaryRepo) List(ctx context.Context, filter model.SummaryFilter) ([]model.CacheSummary, error) {
	where := map[string]interface{}{"_orderby": "mtime desc"}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}
	if filter.Limit > 0 {
		where["_limit"] = []uint{0, uint(filter.Limit)}
	}
	sqlStr, args, err := builder.BuildSelect("cache_summaries", where, summaryColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.CacheSummary, 0)
	for rows.Next() {
		item, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *CacheSummaryRepo) CountByStatus(ctx context.Context) (map[model.SummaryStatus]int, error) {
	sqlStr, args, err := builder.BuildSelect("cache_summaries", map[string]interface{}{"_groupby": "status"}, []string{"status", "COUNT(*) AS cnt"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.SummaryStatus]int)
	for rows.Next() {
		var status string
		var cnt int
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, err
		}
		out[model.SummaryStatus(status)] = cnt
	}
	return out, rows.Err()
}

func (r *CacheSummaryRepo) DeleteBefore(ctx context.Context, statuses []model.SummaryStatus, cutoff int64) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	sqlStr, args, err := builder.BuildDelete("cache_summaries", map[string]interface{}{
		"status in": values,
		"mtime <":   cutoff,
	})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*model.CacheSummary, error) {
	var item model.CacheSummary
	var status string
	var templates, answers, snapshot []byte
	if err := row.Scan(
		&item.ID,
		&item.RequestedConfigID,
		&item.ChapterID,
		&item.UnitLevel,
		&item.TotalQuestionsToFindInCache,
		&item.CacheHit,
		&item.CacheMiss,
		&templates,
		&answers,
		&snapshot,
		&status,
		&item.InProgress,
		&item.IsCacheUpdated,
		&item.Failed,
		&item.LastError,
		&item.Attempts,
		&item.Ctime,
		&item.Mtime,
	); err != nil {
		return nil, err
	}
	item.Status = model.SummaryStatus(status)
	if err := json.Unmarshal(templates, &item.NotFoundTemplates); err != nil {
		return nil, fmt.Errorf("decode not_found_templates: %w", err)
	}
	if err := json.Unmarshal(answers, &item.NotFoundGeneratedAnswers); err != nil {
		return nil, fmt.Errorf("decode generated_answers: %w", err)
	}
	if err := json.Unmarshal(snapshot, &item.ProcessedCacheSnapshot); err != nil {
		return nil, fmt.Errorf("decode processed_snapshot: %w", err)
	}
	return &item, nil
}

// transitionError explains why a summary could not move to in_progress.
func transitionError(summary *model.CacheSummary) error {
	switch summary.Status {
	case model.SummaryStatusUpdated:
		return appErr.ErrAlreadyUpdated
	case model.SummaryStatusInProgress:
		return appErr.ErrInProgress
	default:
		return fmt.Errorf("summary %s in status %s: %w", summary.ID, summary.Status, appErr.ErrConflict)
	}
}

func nonNilTemplates(v []model.NotFoundTemplate) []model.NotFoundTemplate {
	if v == nil {
		return []model.NotFoundTemplate{}
	}
	return v
}

func nonNilAnswers(v []model.GeneratedAnswer) []model.GeneratedAnswer {
	if v == nil {
		return []model.GeneratedAnswer{}
	}
	return v
}

func nonNilSnapshot(v []model.CacheDocument) []model.CacheDocument {
	if v == nil {
		return []model.CacheDocument{}
	}
	return v
}
