package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/xxxsen/qcache/internal/contenthash"
	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/pkg/dbutil"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

type CacheRepo struct {
	db *sql.DB
}

func NewCacheRepo(db *sql.DB) *CacheRepo {
	return &CacheRepo{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *CacheRepo) Get(ctx context.Context, key model.CacheBucketKey) (*model.CacheDocument, error) {
	return getDocument(ctx, r.db, key, false)
}

func getDocument(ctx context.Context, q queryer, key model.CacheBucketKey, forUpdate bool) (*model.CacheDocument, error) {
	query := `
		SELECT questions, version, ctime, mtime
		FROM cache_documents
		WHERE chapter_id = $1 AND unit_name = $2 AND unit_level = $3
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	row := q.QueryRowContext(ctx, query, key.ChapterID, key.UnitName, key.UnitLevel)
	doc := model.NewCacheDocument(key)
	var raw []byte
	if err := row.Scan(&raw, &doc.Version, &doc.Ctime, &doc.Mtime); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc.QuestionsByObjective); err != nil {
		return nil, fmt.Errorf("decode bucket %s: %w", key.String(), err)
	}
	if doc.QuestionsByObjective == nil {
		doc.QuestionsByObjective = make(map[string][]model.QuestionRecord)
	}
	return doc, nil
}

func (r *CacheRepo) GetMany(ctx context.Context, keys []model.CacheBucketKey) (map[model.CacheBucketKey]*model.CacheDocument, error) {
	result := make(map[model.CacheBucketKey]*model.CacheDocument, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	type group struct {
		chapterID string
		unitLevel string
	}
	units := make(map[group][]string)
	for _, key := range keys {
		g := group{chapterID: key.ChapterID, unitLevel: key.UnitLevel}
		units[g] = append(units[g], key.UnitName)
	}
	for g, names := range units {
		query, args, err := dbutil.In(`
			SELECT unit_name, questions, version, ctime, mtime
			FROM cache_documents
			WHERE chapter_id = ? AND unit_level = ? AND unit_name IN (?)
		`, g.chapterID, g.unitLevel, names)
		if err != nil {
			return nil, err
		}
		if err := r.scanInto(ctx, result, g.chapterID, g.unitLevel, query, args); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *CacheRepo) scanInto(ctx context.Context, result map[model.CacheBucketKey]*model.CacheDocument, chapterID, unitLevel, query string, args []interface{}) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var unitName string
		var raw []byte
		var version, ctime, mtime int64
		if err := rows.Scan(&unitName, &raw, &version, &ctime, &mtime); err != nil {
			return err
		}
		doc := model.NewCacheDocument(model.CacheBucketKey{ChapterID: chapterID, UnitName: unitName, UnitLevel: unitLevel})
		if err := json.Unmarshal(raw, &doc.QuestionsByObjective); err != nil {
			return fmt.Errorf("decode bucket %s: %w", doc.Key.String(), err)
		}
		if doc.QuestionsByObjective == nil {
			doc.QuestionsByObjective = make(map[string][]model.QuestionRecord)
		}
		doc.Version, doc.Ctime, doc.Mtime = version, ctime, mtime
		result[doc.Key] = doc
	}
	return rows.Err()
}

func (r *CacheRepo) Upsert(ctx context.Context, doc *model.CacheDocument) error {
	return upsertDocument(ctx, r.db, doc)
}

func upsertDocument(ctx context.Context, q queryer, doc *model.CacheDocument) error {
	raw, err := json.Marshal(doc.QuestionsByObjective)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO cache_documents (chapter_id, unit_name, unit_level, questions, version, ctime, mtime)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (chapter_id, unit_name, unit_level) DO UPDATE SET
			questions = EXCLUDED.questions,
			version = cache_documents.version + 1,
			mtime = EXCLUDED.mtime
	`
	_, err = q.ExecContext(ctx, query, doc.Key.ChapterID, doc.Key.UnitName, doc.Key.UnitLevel, string(raw), doc.Ctime, doc.Mtime)
	return err
}

func (r *CacheRepo) MergeQuestions(ctx context.Context, additions []model.BucketAddition, now int64) (int, error) {
	if len(additions) == 0 {
		return 0, nil
	}
	grouped := groupAdditions(additions)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	added := 0
	for _, key := range sortedKeys(grouped) {
		doc, err := getDocument(ctx, tx, key, true)
		if err != nil && !appErr.IsNotFound(err) {
			return 0, err
		}
		if doc == nil {
			doc = model.NewCacheDocument(key)
			doc.Ctime = now
		}
		changed := 0
		for _, item := range grouped[key] {
			changed += doc.MergeRecords(item.Objective, item.Records, contenthash.Key)
		}
		if changed == 0 {
			continue
		}
		doc.Mtime = now
		if err := upsertDocument(ctx, tx, doc); err != nil {
			return 0, fmt.Errorf("write bucket %s: %w", key.String(), err)
		}
		added += changed
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func groupAdditions(additions []model.BucketAddition) map[model.CacheBucketKey][]model.BucketAddition {
	out := make(map[model.CacheBucketKey][]model.BucketAddition)
	for _, item := range additions {
		out[item.Key] = append(out[item.Key], item)
	}
	return out
}

// sortedKeys gives a stable lock order across concurrent merges.
func sortedKeys(grouped map[model.CacheBucketKey][]model.BucketAddition) []model.CacheBucketKey {
	keys := make([]model.CacheBucketKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
