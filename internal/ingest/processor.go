package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/logger"
)

// ResultRef identifies the request a result payload belongs to. SnapshotID is
// the primary key; RequestID is the fallback for payloads that carry one.
type ResultRef struct {
	SnapshotID string
	RequestID  *uuid.UUID
}

// IngestResult reports what happened to each item of one payload.
type IngestResult struct {
	Accepted  int      `json:"accepted"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// BatchRoller recomputes a batch aggregate after a request transition.
type BatchRoller interface {
	Recompute(ctx context.Context, batchID uuid.UUID) (domain.BatchRollup, error)
}

// Processor merges raw provider payloads into the canonical record store. All
// writes for one payload run in a single transaction holding a row lock on the
// originating request, so concurrent deliveries for the same correlation id
// (webhook and poller racing) serialize instead of duplicating records.
type Processor struct {
	db       *sqlx.DB
	requests *database.RequestRepository
	records  *database.RecordRepository
	audit    *database.AuditRepository
	rollup   BatchRoller
	logger   logger.Logger
	tracer   trace.Tracer
}

// NewProcessor creates a Processor.
func NewProcessor(
	db *sqlx.DB,
	requests *database.RequestRepository,
	records *database.RecordRepository,
	audit *database.AuditRepository,
	rollup BatchRoller,
	log logger.Logger,
) *Processor {
	return &Processor{
		db:       db,
		requests: requests,
		records:  records,
		audit:    audit,
		rollup:   rollup,
		logger:   log,
		tracer:   otel.Tracer("ingest-processor"),
	}
}

// Ingest resolves the originating request, normalizes every raw item through
// the platform field map and upserts the results. Replaying an identical
// payload is a no-op reporting accepted=0.
//
// An unresolvable correlation id returns ErrUnknownCorrelation after the
// payload has been preserved for inspection.
func (p *Processor) Ingest(ctx context.Context, ref ResultRef, items []json.RawMessage) (*IngestResult, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.process",
		trace.WithAttributes(
			attribute.String("snapshot_id", ref.SnapshotID),
			attribute.Int("item_count", len(items)),
		))
	defer span.End()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	req, err := p.resolveAndLock(ctx, tx, ref, items)
	if err != nil {
		return nil, err
	}

	if req.Status == domain.RequestStatusCancelled {
		p.logger.Warn("dropping payload for cancelled request",
			logger.String("request_id", req.ID.String()),
			logger.String("snapshot_id", ref.SnapshotID))
		if auditErr := p.saveUnresolved(ctx, ref, items, "request cancelled"); auditErr != nil {
			return nil, auditErr
		}
		return nil, fmt.Errorf("%w: request %s is cancelled", domain.ErrInvalidTransition, req.ID)
	}

	if err := p.requests.MarkProcessingTx(ctx, tx, req.ID); err != nil {
		return nil, err
	}

	result := &IngestResult{}
	for i, raw := range items {
		if err := p.upsertItem(ctx, tx, req, raw, result); err != nil {
			return nil, fmt.Errorf("ingest item %d: %w", i, err)
		}
	}

	if err := p.requests.MarkCompletedTx(ctx, tx, req.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The transaction rolls back, so keep the payload around.
			if auditErr := p.saveUnresolved(ctx, ref, items, "request not accepting results"); auditErr != nil {
				return nil, auditErr
			}
		}
		return nil, fmt.Errorf("complete request %s: %w", req.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingest: %w", err)
	}

	if _, err := p.rollup.Recompute(ctx, req.BatchID); err != nil {
		// The records are durable; the aggregate catches up on the next
		// transition or poller pass.
		p.logger.Error("batch rollup failed after ingest",
			logger.String("batch_id", req.BatchID.String()),
			logger.Error(err))
	}

	p.logger.Info("payload ingested",
		logger.String("request_id", req.ID.String()),
		logger.String("snapshot_id", ref.SnapshotID),
		logger.Int("accepted", result.Accepted),
		logger.Int("unchanged", result.Unchanged),
		logger.Int("skipped", result.Skipped))
	return result, nil
}

// resolveAndLock locates the originating request and takes its row lock.
// A payload matching nothing is preserved in the audit table, never dropped.
func (p *Processor) resolveAndLock(ctx context.Context, tx *sqlx.Tx, ref ResultRef, items []json.RawMessage) (*domain.ScrapeRequest, error) {
	if ref.SnapshotID != "" {
		req, err := p.requests.LockBySnapshot(ctx, tx, ref.SnapshotID)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if ref.RequestID != nil {
		req, err := p.requests.LockByID(ctx, tx, *ref.RequestID)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if err := p.saveUnresolved(ctx, ref, items, "no matching request"); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: snapshot %q", domain.ErrUnknownCorrelation, ref.SnapshotID)
}

func (p *Processor) saveUnresolved(ctx context.Context, ref ResultRef, items []json.RawMessage, reason string) error {
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal unresolved payload: %w", err)
	}
	var snapshotID *string
	if ref.SnapshotID != "" {
		snapshotID = &ref.SnapshotID
	}
	if err := p.audit.SaveUnresolved(ctx, snapshotID, body, reason); err != nil {
		return err
	}
	p.logger.Warn("preserved unresolvable payload",
		logger.String("snapshot_id", ref.SnapshotID),
		logger.String("reason", reason),
		logger.Int("item_count", len(items)))
	return nil
}

// upsertItem maps one raw item and merges it. Inserts and engagement changes
// count as accepted; identical replays count as unchanged; unmappable items
// count as skipped.
func (p *Processor) upsertItem(ctx context.Context, tx *sqlx.Tx, req *domain.ScrapeRequest, raw json.RawMessage, result *IngestResult) error {
	item, err := MapItem(req.Platform, raw)
	if err != nil {
		var skip *SkipError
		if errors.As(err, &skip) {
			result.Skipped++
			result.Errors = append(result.Errors, skip.Error())
			return nil
		}
		return err
	}

	existing, err := p.records.GetTx(ctx, tx, req.FolderID, req.Platform, item.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		rec := p.newRecord(req, item)
		insertErr := p.records.InsertTx(ctx, tx, rec)
		if insertErr == nil {
			result.Accepted++
			return nil
		}
		if !errors.Is(insertErr, domain.ErrAlreadyExists) {
			return insertErr
		}
		// Lost an insert race outside our lock scope; merge into the winner.
		existing, err = p.records.GetTx(ctx, tx, req.FolderID, req.Platform, item.PostID)
	}
	if err != nil {
		return err
	}

	return p.mergeRecord(ctx, tx, existing, item, result)
}

func (p *Processor) newRecord(req *domain.ScrapeRequest, item *MappedItem) *domain.ScrapedRecord {
	return &domain.ScrapedRecord{
		ID:           uuid.New(),
		FolderID:     req.FolderID,
		Platform:     req.Platform,
		PostID:       item.PostID,
		RequestID:    req.ID,
		AuthorHandle: item.AuthorHandle,
		Content:      item.Content,
		Likes:        item.Likes,
		Comments:     item.Comments,
		Shares:       item.Shares,
		PublishedAt:  item.PublishedAt,
		RawPayload:   item.Raw,
	}
}

// mergeRecord updates mutable engagement fields on an existing record.
// Immutable identity fields are never overwritten; a mismatch there is an
// upstream data-quality signal and gets logged instead.
func (p *Processor) mergeRecord(ctx context.Context, tx *sqlx.Tx, existing *domain.ScrapedRecord, item *MappedItem, result *IngestResult) error {
	incoming := &domain.ScrapedRecord{
		AuthorHandle: item.AuthorHandle,
		Content:      item.Content,
		PublishedAt:  item.PublishedAt,
	}
	if !existing.SameIdentity(incoming) {
		p.logger.Warn("immutable fields drifted on re-scrape",
			logger.String("record_id", existing.ID.String()),
			logger.String("platform", existing.Platform),
			logger.String("post_id", existing.PostID))
	}

	engagement := domain.Engagement{Likes: item.Likes, Comments: item.Comments, Shares: item.Shares}
	if existing.Engagement() == engagement {
		result.Unchanged++
		return nil
	}

	if err := p.records.UpdateEngagementTx(ctx, tx, existing.ID, engagement, item.Raw); err != nil {
		return err
	}
	result.Accepted++
	return nil
}
