// Package service holds the orchestration layer: batch creation, dispatch,
// lifecycle operations and status rollup.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/logger"
)

// Rollup recomputes batch aggregates from their children. The aggregate is
// always derived wholesale from the current child statuses, never adjusted
// incrementally, so concurrent transitions cannot drift the counts.
type Rollup struct {
	requests *database.RequestRepository
	logger   logger.Logger
}

// NewRollup creates a Rollup.
func NewRollup(requests *database.RequestRepository, log logger.Logger) *Rollup {
	return &Rollup{requests: requests, logger: log}
}

// Recompute reads the batch's current children and writes the derived
// aggregate back.
func (r *Rollup) Recompute(ctx context.Context, batchID uuid.UUID) (domain.BatchRollup, error) {
	statuses, err := r.requests.ChildStatuses(ctx, batchID)
	if err != nil {
		return domain.BatchRollup{}, err
	}

	rollup := domain.RollupBatch(statuses)
	if err := r.requests.ApplyRollup(ctx, batchID, rollup); err != nil {
		return domain.BatchRollup{}, err
	}

	r.logger.Debug("batch aggregate recomputed",
		logger.String("batch_id", batchID.String()),
		logger.String("status", string(rollup.Status)),
		logger.Int("succeeded", rollup.Succeeded),
		logger.Int("failed", rollup.Failed))
	return rollup, nil
}
