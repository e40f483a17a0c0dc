package repo

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/qcache/internal/model"
)

type QuestionEmbeddingRepo struct {
	db *sql.DB
}

func NewQuestionEmbeddingRepo(db *sql.DB) *QuestionEmbeddingRepo {
	return &QuestionEmbeddingRepo{db: db}
}

func (r *QuestionEmbeddingRepo) Get(ctx context.Context, contentKey string) (*model.EmbeddingEntry, bool, error) {
	const query = `
		SELECT text, embedding, ctime
		FROM question_embeddings
		WHERE content_key = $1
	`
	row := r.db.QueryRowContext(ctx, query, contentKey)
	var embedding pgvector.Vector
	entry := &model.EmbeddingEntry{ContentKey: contentKey}
	if err := row.Scan(&entry.Text, &embedding, &entry.Ctime); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	entry.Vector = embedding.Slice()
	return entry, true, nil
}

// PutIfAbsent reports false when another writer stored the key first.
func (r *QuestionEmbeddingRepo) PutIfAbsent(ctx context.Context, entry *model.EmbeddingEntry) (bool, error) {
	const query = `
		INSERT INTO question_embeddings (content_key, text, embedding, dims, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_key) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		entry.ContentKey,
		entry.Text,
		pgvector.NewVector(entry.Vector),
		len(entry.Vector),
		entry.Ctime,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
