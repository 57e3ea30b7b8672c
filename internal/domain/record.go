package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScrapedRecord is one normalized result item. The tuple
// (FolderID, Platform, PostID) is unique: re-ingesting the same post for the
// same job updates engagement fields, never inserts a duplicate. FolderID and
// RequestID are set exactly once at insert time and never repaired.
type ScrapedRecord struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	FolderID     uuid.UUID       `db:"folder_id"     json:"folder_id"`
	Platform     string          `db:"platform"      json:"platform"`
	PostID       string          `db:"post_id"       json:"post_id"`
	RequestID    uuid.UUID       `db:"request_id"    json:"request_id"`
	AuthorHandle string          `db:"author_handle" json:"author_handle"`
	Content      string          `db:"content"       json:"content"`
	Likes        int64           `db:"likes"         json:"likes"`
	Comments     int64           `db:"comments"      json:"comments"`
	Shares       int64           `db:"shares"        json:"shares"`
	PublishedAt  *time.Time      `db:"published_at"  json:"published_at,omitempty"`
	RawPayload   json.RawMessage `db:"raw_payload"   json:"raw_payload,omitempty"`
	IngestedAt   time.Time       `db:"ingested_at"   json:"ingested_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// Engagement holds the mutable counters of a record.
type Engagement struct {
	Likes    int64
	Comments int64
	Shares   int64
}

// Engagement returns the record's mutable counters.
func (r *ScrapedRecord) Engagement() Engagement {
	return Engagement{Likes: r.Likes, Comments: r.Comments, Shares: r.Shares}
}

// SameIdentity reports whether the immutable fields of r match other.
// A mismatch on re-ingest indicates a data-quality problem upstream and must
// be logged rather than overwritten.
func (r *ScrapedRecord) SameIdentity(other *ScrapedRecord) bool {
	if r.AuthorHandle != other.AuthorHandle || r.Content != other.Content {
		return false
	}
	switch {
	case r.PublishedAt == nil && other.PublishedAt == nil:
		return true
	case r.PublishedAt == nil || other.PublishedAt == nil:
		return false
	default:
		return r.PublishedAt.Equal(*other.PublishedAt)
	}
}
