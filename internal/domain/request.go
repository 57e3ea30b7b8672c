package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus represents the state of a scrape request.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusDispatched RequestStatus = "dispatched"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// requestStatusOrder gives the monotonic ordering of non-terminal progress.
var requestStatusOrder = map[RequestStatus]int{
	RequestStatusPending:    0,
	RequestStatusDispatched: 1,
	RequestStatusProcessing: 2,
	RequestStatusCompleted:  3,
	RequestStatusFailed:     3,
	RequestStatusCancelled:  3,
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed. Transitions
// are monotonic; cancellation is reachable from any non-terminal state.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == RequestStatusCancelled {
		return true
	}
	from, okFrom := requestStatusOrder[s]
	to, okTo := requestStatusOrder[next]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// ScrapeRequest is one unit of work handed to the external scraping provider.
// SnapshotID is the provider-assigned correlation id: null until dispatch
// succeeds, set at most once, immutable thereafter.
type ScrapeRequest struct {
	ID           uuid.UUID     `db:"id"            json:"id"`
	BatchID      uuid.UUID     `db:"batch_id"      json:"batch_id"`
	FolderID     uuid.UUID     `db:"folder_id"     json:"folder_id"`
	Platform     string        `db:"platform"      json:"platform"`
	Service      string        `db:"service"       json:"service"`
	Target       string        `db:"target"        json:"target"`
	ItemCount    int           `db:"item_count"    json:"item_count"`
	DateFrom     *time.Time    `db:"date_from"     json:"date_from,omitempty"`
	DateTo       *time.Time    `db:"date_to"       json:"date_to,omitempty"`
	SnapshotID   *string       `db:"snapshot_id"   json:"snapshot_id,omitempty"`
	Status       RequestStatus `db:"status"        json:"status"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	StartedAt    *time.Time    `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time    `db:"completed_at"  json:"completed_at,omitempty"`
}

// NewScrapeRequest creates a pending request bound to a job folder.
func NewScrapeRequest(batchID, folderID uuid.UUID, platform, service, target string, itemCount int, from, to *time.Time) *ScrapeRequest {
	return &ScrapeRequest{
		ID:        uuid.New(),
		BatchID:   batchID,
		FolderID:  folderID,
		Platform:  platform,
		Service:   service,
		Target:    target,
		ItemCount: itemCount,
		DateFrom:  from,
		DateTo:    to,
		Status:    RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}
