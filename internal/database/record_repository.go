package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/socialharvest/harvester/internal/domain"
)

// recordSelectList is the column list for SELECT/RETURNING on scraped_records.
const recordSelectList = `id, request_id, folder_id, platform, post_id,
			author_handle, content, likes, comments, shares,
			published_at, raw_payload, ingested_at, updated_at`

// RecordRepository stores scraped posts. Writes take the caller's transaction
// so record upserts run under the ingest row lock.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository creates a new repository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// GetTx loads a record by its natural key within tx.
func (r *RecordRepository) GetTx(ctx context.Context, tx *sqlx.Tx, folderID uuid.UUID, platform, postID string) (*domain.ScrapedRecord, error) {
	var rec domain.ScrapedRecord
	query := `SELECT ` + recordSelectList + `
		FROM scraped_records
		WHERE folder_id = $1 AND platform = $2 AND post_id = $3`
	err := tx.GetContext(ctx, &rec, query, folderID, platform, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scraped record: %w", err)
	}
	return &rec, nil
}

// InsertTx inserts a record within tx. A concurrent insert of the same
// (folder, platform, post) key is absorbed by ON CONFLICT DO NOTHING so the
// transaction stays live; it surfaces as ErrAlreadyExists so the caller can
// re-read the winner and take the update path instead.
func (r *RecordRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, rec *domain.ScrapedRecord) error {
	query := `
		INSERT INTO scraped_records
			(id, request_id, folder_id, platform, post_id, author_handle, content,
			 likes, comments, shares, published_at, raw_payload, ingested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (folder_id, platform, post_id) DO NOTHING`

	result, err := tx.ExecContext(ctx, query,
		rec.ID, rec.RequestID, rec.FolderID, rec.Platform, rec.PostID,
		rec.AuthorHandle, rec.Content,
		rec.Likes, rec.Comments, rec.Shares, rec.PublishedAt, rec.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("insert scraped record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// UpdateEngagementTx replaces the mutable engagement counters of an existing
// record. Identity columns and provenance keys are never touched.
func (r *RecordRepository) UpdateEngagementTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, eng domain.Engagement, rawPayload json.RawMessage) error {
	query := `
		UPDATE scraped_records
		SET likes = $2, comments = $3, shares = $4, raw_payload = $5, updated_at = NOW()
		WHERE id = $1`

	result, err := tx.ExecContext(ctx, query, id, eng.Likes, eng.Comments, eng.Shares, rawPayload)
	if err != nil {
		return fmt.Errorf("update engagement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountByRequest returns how many records a request has produced.
func (r *RecordRepository) CountByRequest(ctx context.Context, requestID uuid.UUID) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM scraped_records WHERE request_id = $1`
	if err := r.db.GetContext(ctx, &count, query, requestID); err != nil {
		return 0, fmt.Errorf("count records by request: %w", err)
	}
	return count, nil
}
