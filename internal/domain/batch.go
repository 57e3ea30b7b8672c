package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the state of a batch job.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// IsTerminal reports whether s is a terminal batch status.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// BatchJob groups the scrape requests created from a single user action.
// Counts are always recomputed from the child set, never incremented.
type BatchJob struct {
	ID             uuid.UUID   `db:"id"              json:"id"`
	RunID          uuid.UUID   `db:"run_id"          json:"run_id"`
	TotalRequests  int         `db:"total_requests"  json:"total_requests"`
	SucceededCount int         `db:"succeeded_count" json:"succeeded_count"`
	FailedCount    int         `db:"failed_count"    json:"failed_count"`
	Status         BatchStatus `db:"status"          json:"status"`
	CreatedAt      time.Time   `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"      json:"updated_at"`
	CompletedAt    *time.Time  `db:"completed_at"    json:"completed_at,omitempty"`
}

// NewBatchJob creates a pending batch for a run.
func NewBatchJob(runID uuid.UUID, totalRequests int) *BatchJob {
	now := time.Now().UTC()
	return &BatchJob{
		ID:            uuid.New(),
		RunID:         runID,
		TotalRequests: totalRequests,
		Status:        BatchStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// BatchRollup is the aggregate derived from a batch's current children.
type BatchRollup struct {
	Status    BatchStatus
	Succeeded int
	Failed    int
}

// RollupBatch computes the batch aggregate as a pure function of the current
// child statuses. The batch is terminal only once every child is terminal;
// `failed` means at least one child failed, `completed` may still carry
// partial failures counted separately (cancelled children count as neither).
func RollupBatch(children []RequestStatus) BatchRollup {
	r := BatchRollup{}
	allTerminal := true
	for _, s := range children {
		switch s {
		case RequestStatusCompleted:
			r.Succeeded++
		case RequestStatusFailed:
			r.Failed++
		case RequestStatusCancelled:
			// terminal, but neither succeeded nor failed
		default:
			allTerminal = false
		}
	}

	switch {
	case len(children) == 0:
		r.Status = BatchStatusPending
	case allTerminal && r.Failed > 0:
		r.Status = BatchStatusFailed
	case allTerminal:
		r.Status = BatchStatusCompleted
	default:
		r.Status = BatchStatusProcessing
	}
	return r
}
