package repo

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/semidx/semidx/internal/model"
	"github.com/semidx/semidx/internal/pkg/dbutil"
	appErr "github.com/semidx/semidx/internal/pkg/errors"
)

// VectorRepo persists corpus documents and their embeddings in postgres and
// answers nearest-neighbour queries through pgvector.
type VectorRepo struct {
	db *sqlx.DB
}

func NewVectorRepo(db *sqlx.DB) *VectorRepo {
	return &VectorRepo{db: db}
}

// Sync reconciles the documents table with the given corpus. New documents
// are inserted, changed texts invalidate the stored embedding, and rows no
// longer present in the corpus are removed.
func (r *VectorRepo) Sync(ctx context.Context, docs []model.Document) error {
	now := time.Now().UnixMilli()
	upsert := `
		INSERT INTO documents (original_id, text, embedding, ctime, mtime)
		VALUES (?, ?, NULL, ?, ?)
		ON CONFLICT (original_id)
		DO UPDATE SET
			text = EXCLUDED.text,
			embedding = CASE WHEN documents.text = EXCLUDED.text THEN documents.embedding ELSE NULL END,
			mtime = EXCLUDED.mtime
	`
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	keep := make([]string, 0, len(docs))
	for _, doc := range docs {
		sqlStr, args := dbutil.Finalize(upsert, []interface{}{doc.ID, doc.Text, now, now})
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
		keep = append(keep, doc.ID)
	}
	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
			return err
		}
		return tx.Commit()
	}
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{"original_id not in": keep})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMissing returns documents that still lack an embedding, in insertion
// order, up to limit. A limit of zero means no bound.
func (r *VectorRepo) ListMissing(ctx context.Context, limit uint) ([]model.Document, error) {
	sqlStr := `
		SELECT original_id, text
		FROM documents
		WHERE embedding IS NULL
		ORDER BY id ASC
	`
	args := []interface{}{}
	if limit > 0 {
		sqlStr += ` LIMIT ? OFFSET ?`
		args = append(args, limit, 0)
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	docs := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ID, &doc.Text); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *VectorRepo) SaveEmbedding(ctx context.Context, originalID string, embedding []float32) error {
	const query = `
		UPDATE documents
		SET embedding = $1, mtime = $2
		WHERE original_id = $3
	`
	res, err := r.db.ExecContext(ctx, query, pgvector.NewVector(embedding), time.Now().UnixMilli(), originalID)
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

func (r *VectorRepo) Get(ctx context.Context, originalID string) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", map[string]interface{}{"original_id": originalID}, []string{"original_id", "text"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var doc model.Document
	if err := row.Scan(&doc.ID, &doc.Text); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (r *VectorRepo) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Search returns the documents nearest to the query vector by cosine
// similarity, best match first. Rows without an embedding are excluded.
func (r *VectorRepo) Search(ctx context.Context, query []float32, limit int) ([]model.SearchResult, error) {
	if len(query) == 0 {
		return nil, appErr.ErrValidation
	}
	const sqlStr = `
		SELECT original_id, text, 1 - (embedding <=> $1) AS score
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1, id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, sqlStr, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	results := make([]model.SearchResult, 0, limit)
	for rows.Next() {
		var item model.SearchResult
		if err := rows.Scan(&item.ID, &item.Text, &item.Score); err != nil {
			return nil, err
		}
		item.Score = round4(item.Score)
		results = append(results, item)
	}
	return results, rows.Err()
}

// TextSearch ranks documents against a plain language query using postgres
// full text search.
func (r *VectorRepo) TextSearch(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	if query == "" {
		return nil, appErr.ErrValidation
	}
	const sqlStr = `
		SELECT original_id, text, ts_rank(to_tsvector('english', text), plainto_tsquery('english', $1)) AS score
		FROM documents
		WHERE to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		ORDER BY score DESC, id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, sqlStr, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	results := make([]model.SearchResult, 0, limit)
	for rows.Next() {
		var item model.SearchResult
		if err := rows.Scan(&item.ID, &item.Text, &item.Score); err != nil {
			return nil, err
		}
		item.Score = round4(item.Score)
		results = append(results, item)
	}
	return results, rows.Err()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
