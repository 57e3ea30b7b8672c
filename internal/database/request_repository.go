package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/socialharvest/harvester/internal/domain"
)

// requestSelectList is the column list for SELECT/RETURNING on scrape_requests
// (single source for schema changes).
const requestSelectList = `id, batch_id, folder_id, platform, service, target,
			item_count, date_from, date_to, snapshot_id, status,
			error_message, created_at, started_at, completed_at`

// batchSelectList is the column list for SELECT/RETURNING on batch_jobs.
const batchSelectList = `id, run_id, total_requests, succeeded_count,
			failed_count, status, created_at, updated_at, completed_at`

// RequestRepository manages scrape requests and their owning batch jobs.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// CreateBatch persists a batch job and all its requests in one transaction.
func (r *RequestRepository) CreateBatch(ctx context.Context, batch *domain.BatchJob, requests []*domain.ScrapeRequest) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	batchInsert := `
		INSERT INTO batch_jobs (id, run_id, total_requests, succeeded_count, failed_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, $5)`
	if _, err := tx.ExecContext(ctx, batchInsert,
		batch.ID, batch.RunID, batch.TotalRequests, batch.Status, batch.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert batch job: %w", err)
	}

	requestInsert := `
		INSERT INTO scrape_requests
			(id, batch_id, folder_id, platform, service, target, item_count, date_from, date_to, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, req := range requests {
		if _, err := tx.ExecContext(ctx, requestInsert,
			req.ID, req.BatchID, req.FolderID, req.Platform, req.Service, req.Target,
			req.ItemCount, req.DateFrom, req.DateTo, req.Status, req.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert scrape request %s: %w", req.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch job by id.
func (r *RequestRepository) GetBatch(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	var batch domain.BatchJob
	query := `SELECT ` + batchSelectList + ` FROM batch_jobs WHERE id = $1`
	err := r.db.GetContext(ctx, &batch, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch job: %w", err)
	}
	return &batch, nil
}

// GetRequest retrieves a scrape request by id.
func (r *RequestRepository) GetRequest(ctx context.Context, id uuid.UUID) (*domain.ScrapeRequest, error) {
	var req domain.ScrapeRequest
	query := `SELECT ` + requestSelectList + ` FROM scrape_requests WHERE id = $1`
	err := r.db.GetContext(ctx, &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scrape request: %w", err)
	}
	return &req, nil
}

// GetRequestBySnapshot retrieves a scrape request by its provider-assigned
// correlation id.
func (r *RequestRepository) GetRequestBySnapshot(ctx context.Context, snapshotID string) (*domain.ScrapeRequest, error) {
	var req domain.ScrapeRequest
	query := `SELECT ` + requestSelectList + ` FROM scrape_requests WHERE snapshot_id = $1`
	err := r.db.GetContext(ctx, &req, query, snapshotID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scrape request by snapshot: %w", err)
	}
	return &req, nil
}

// ListBatchRequests returns all requests belonging to a batch.
func (r *RequestRepository) ListBatchRequests(ctx context.Context, batchID uuid.UUID) ([]domain.ScrapeRequest, error) {
	query := `SELECT ` + requestSelectList + ` FROM scrape_requests WHERE batch_id = $1 ORDER BY created_at ASC`
	var requests []domain.ScrapeRequest
	if err := r.db.SelectContext(ctx, &requests, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch requests: %w", err)
	}
	return requests, nil
}

// ListPollable returns non-terminal requests that have a correlation id and so
// can be reconciled against the provider.
func (r *RequestRepository) ListPollable(ctx context.Context, limit int) ([]domain.ScrapeRequest, error) {
	query := `
		SELECT ` + requestSelectList + `
		FROM scrape_requests
		WHERE status IN ('dispatched', 'processing')
		  AND snapshot_id IS NOT NULL
		ORDER BY started_at ASC NULLS FIRST
		LIMIT $1`

	var requests []domain.ScrapeRequest
	if err := r.db.SelectContext(ctx, &requests, query, limit); err != nil {
		return nil, fmt.Errorf("list pollable requests: %w", err)
	}
	return requests, nil
}

// SetDispatched records the provider's correlation id and moves the request to
// `dispatched`. The snapshot id is set at most once; a request that already
// carries one is rejected.
func (r *RequestRepository) SetDispatched(ctx context.Context, id uuid.UUID, snapshotID string) error {
	query := `
		UPDATE scrape_requests
		SET snapshot_id = $2, status = 'dispatched', started_at = NOW()
		WHERE id = $1 AND status = 'pending' AND snapshot_id IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, snapshotID)
	if err != nil {
		return fmt.Errorf("set dispatched: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return r.classifyTransitionFailure(ctx, id, true)
	}
	return nil
}

// MarkFailed moves a request to `failed`, capturing the provider's error text
// verbatim. Only non-terminal requests are affected.
func (r *RequestRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE scrape_requests
		SET status = 'failed', error_message = $2, completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'dispatched', 'processing')`

	return r.execTransition(ctx, query, id, errorMessage)
}

// Cancel moves a request to `cancelled` from any non-terminal state.
func (r *RequestRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE scrape_requests
		SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'dispatched', 'processing')`

	return r.execTransition(ctx, query, id)
}

// ResetForRetry puts a failed request back to `pending` for an explicit user
// re-dispatch. Only dispatch-stage failures (no snapshot id assigned) are
// retryable this way; a request the provider already accepted keeps its
// immutable correlation id.
func (r *RequestRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE scrape_requests
		SET status = 'pending', error_message = NULL, started_at = NULL, completed_at = NULL
		WHERE id = $1 AND status = 'failed' AND snapshot_id IS NULL`

	return r.execTransition(ctx, query, id)
}

// LockBySnapshot loads a request by correlation id inside tx, taking a row
// lock that serializes ingestion for that correlation id.
func (r *RequestRepository) LockBySnapshot(ctx context.Context, tx *sqlx.Tx, snapshotID string) (*domain.ScrapeRequest, error) {
	query := `SELECT ` + requestSelectList + ` FROM scrape_requests WHERE snapshot_id = $1 FOR UPDATE`
	return lockRequest(ctx, tx, query, snapshotID)
}

// LockByID is the request-id fallback for payloads that carry one.
func (r *RequestRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.ScrapeRequest, error) {
	query := `SELECT ` + requestSelectList + ` FROM scrape_requests WHERE id = $1 FOR UPDATE`
	return lockRequest(ctx, tx, query, id)
}

func lockRequest(ctx context.Context, tx *sqlx.Tx, query string, arg any) (*domain.ScrapeRequest, error) {
	var req domain.ScrapeRequest
	err := tx.GetContext(ctx, &req, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock scrape request: %w", err)
	}
	return &req, nil
}

// MarkProcessingTx moves a dispatched request to `processing` within tx.
func (r *RequestRepository) MarkProcessingTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `
		UPDATE scrape_requests
		SET status = 'processing'
		WHERE id = $1 AND status = 'dispatched'`

	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// MarkCompletedTx moves a request to `completed` within tx. Re-completing an
// already completed request is a no-op so that payload replays stay idempotent;
// the original completion timestamp is preserved.
func (r *RequestRepository) MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `
		UPDATE scrape_requests
		SET status = 'completed', completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1 AND status IN ('dispatched', 'processing', 'completed')`

	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// ChildStatuses returns the current statuses of every request in a batch.
func (r *RequestRepository) ChildStatuses(ctx context.Context, batchID uuid.UUID) ([]domain.RequestStatus, error) {
	var statuses []domain.RequestStatus
	query := `SELECT status FROM scrape_requests WHERE batch_id = $1`
	if err := r.db.SelectContext(ctx, &statuses, query, batchID); err != nil {
		return nil, fmt.Errorf("list child statuses: %w", err)
	}
	return statuses, nil
}

// ApplyRollup writes a recomputed batch aggregate. Counts are always replaced
// wholesale, never incremented.
func (r *RequestRepository) ApplyRollup(ctx context.Context, batchID uuid.UUID, rollup domain.BatchRollup) error {
	query := `
		UPDATE batch_jobs
		SET succeeded_count = $2,
		    failed_count = $3,
		    status = $4,
		    updated_at = NOW(),
		    completed_at = CASE
			WHEN $4 IN ('completed', 'failed') THEN COALESCE(completed_at, NOW())
			ELSE completed_at
		    END
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, batchID, rollup.Succeeded, rollup.Failed, rollup.Status)
	if err != nil {
		return fmt.Errorf("apply rollup: %w", err)
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

// Stats returns request and batch counts by status for monitoring. Requests
// dispatched more than staleAfter ago and still not terminal are surfaced as
// Stale; the poller owns reconciling them, stats only makes them visible.
func (r *RequestRepository) Stats(ctx context.Context, staleAfter time.Duration) (*PipelineStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'dispatched') AS dispatched,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM scrape_requests`

	var stats PipelineStats
	err := r.db.QueryRowxContext(ctx, query).Scan(
		&stats.Pending, &stats.Dispatched, &stats.Processing,
		&stats.Completed, &stats.Failed, &stats.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("get request stats: %w", err)
	}

	batchQuery := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'processing')) AS open,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM batch_jobs`

	err = r.db.QueryRowxContext(ctx, batchQuery).Scan(
		&stats.BatchesOpen, &stats.BatchesCompleted, &stats.BatchesFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("get batch stats: %w", err)
	}

	staleQuery := `
		SELECT COUNT(*)
		FROM scrape_requests
		WHERE status IN ('dispatched', 'processing') AND started_at < $1`

	cutoff := time.Now().UTC().Add(-staleAfter)
	if err := r.db.QueryRowxContext(ctx, staleQuery, cutoff).Scan(&stats.Stale); err != nil {
		return nil, fmt.Errorf("get stale request count: %w", err)
	}
	return &stats, nil
}

// PipelineStats holds request and batch counts by status.
type PipelineStats struct {
	Pending          int64 `json:"pending"`
	Dispatched       int64 `json:"dispatched"`
	Processing       int64 `json:"processing"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	Cancelled        int64 `json:"cancelled"`
	Stale            int64 `json:"stale"`
	BatchesOpen      int64 `json:"batches_open"`
	BatchesCompleted int64 `json:"batches_completed"`
	BatchesFailed    int64 `json:"batches_failed"`
}

// execTransition runs a guarded status update and classifies the zero-row case.
func (r *RequestRepository) execTransition(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	all := append([]any{id}, args...)
	result, err := r.db.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if rows == 0 {
		return r.classifyTransitionFailure(ctx, id, false)
	}
	return nil
}

// classifyTransitionFailure distinguishes a missing request from a rejected
// transition after a guarded update touched zero rows.
func (r *RequestRepository) classifyTransitionFailure(ctx context.Context, id uuid.UUID, dispatching bool) error {
	req, err := r.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if dispatching && req.SnapshotID != nil {
		return domain.ErrSnapshotAlreadySet
	}
	return fmt.Errorf("%w: request %s is %s", domain.ErrInvalidTransition, id, req.Status)
}
