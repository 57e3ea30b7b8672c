package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/ingest"
	"github.com/socialharvest/harvester/internal/logger"
)

// webhookEnvelope is the object form of a webhook body: a correlation id plus
// the result items. The provider also posts bare arrays, in which case the
// correlation id must arrive in the X-Snapshot-Id header.
type webhookEnvelope struct {
	SnapshotID   string            `json:"snapshot_id"`
	CollectionID string            `json:"collection_id"`
	RequestID    *uuid.UUID        `json:"request_id"`
	Items        []json.RawMessage `json:"items"`
	Data         []json.RawMessage `json:"data"`
}

// webhookResults receives result payloads pushed by the provider.
// POST /webhook/results
//
// 200 means the payload is durably queued; actual ingestion happens in the
// ingest worker. 400 means the correlation id could not be resolved; the raw
// body is preserved for inspection before answering.
func (r *Router) webhookResults(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	snapshotID := c.GetHeader("X-Snapshot-Id")
	items, envelope, parseErr := parseWebhookBody(body)
	if parseErr != nil {
		r.metrics.WebhookRequests.WithLabelValues("400").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": parseErr.Error()})
		return
	}
	if snapshotID == "" && envelope != nil {
		snapshotID = envelope.SnapshotID
		if snapshotID == "" {
			snapshotID = envelope.CollectionID
		}
	}

	var requestID *uuid.UUID
	if envelope != nil {
		requestID = envelope.RequestID
	}

	if !r.resolveCorrelation(c, snapshotID, requestID, body) {
		return
	}

	delivery := &ingest.Delivery{
		SnapshotID: snapshotID,
		RequestID:  requestID,
		Items:      items,
		ReceivedAt: time.Now().UTC(),
	}
	if err := r.queue.Enqueue(ctx, delivery); err != nil {
		r.metrics.WebhookRequests.WithLabelValues("500").Inc()
		r.logger.Error("failed to queue webhook delivery",
			logger.String("snapshot_id", snapshotID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue payload"})
		return
	}

	r.metrics.WebhookRequests.WithLabelValues("200").Inc()
	c.JSON(http.StatusOK, gin.H{
		"status":     "queued",
		"item_count": len(items),
	})
}

// resolveCorrelation checks the correlation id against known requests before
// acknowledging. An unresolvable payload is preserved in the audit table and
// answered 400 so the provider/client desync is diagnosable on both sides.
func (r *Router) resolveCorrelation(c *gin.Context, snapshotID string, requestID *uuid.UUID, body []byte) bool {
	ctx := c.Request.Context()

	if snapshotID == "" && requestID == nil {
		r.preserveRejected(ctx, nil, body, "no correlation id")
		r.metrics.WebhookRequests.WithLabelValues("400").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing snapshot id"})
		return false
	}

	if snapshotID != "" {
		if _, err := r.requests.GetRequestBySnapshot(ctx, snapshotID); err == nil {
			return true
		} else if !errors.Is(err, domain.ErrNotFound) {
			r.metrics.WebhookRequests.WithLabelValues("500").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return false
		}
	}
	if requestID != nil {
		if _, err := r.requests.GetRequest(ctx, *requestID); err == nil {
			return true
		} else if !errors.Is(err, domain.ErrNotFound) {
			r.metrics.WebhookRequests.WithLabelValues("500").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return false
		}
	}

	var saved *string
	if snapshotID != "" {
		saved = &snapshotID
	}
	r.preserveRejected(ctx, saved, body, "unknown correlation id")
	r.metrics.WebhookRequests.WithLabelValues("400").Inc()
	c.JSON(http.StatusBadRequest, gin.H{"error": "unknown snapshot id"})
	return false
}

func (r *Router) preserveRejected(ctx context.Context, snapshotID *string, body []byte, reason string) {
	if err := r.audit.SaveUnresolved(ctx, snapshotID, body, reason); err != nil {
		r.logger.Error("failed to preserve rejected webhook payload",
			logger.String("reason", reason),
			logger.Error(err))
	}
}

// parseWebhookBody accepts either a bare JSON array of items or an envelope
// object carrying the correlation id alongside the items.
func parseWebhookBody(body []byte) ([]json.RawMessage, *webhookEnvelope, error) {
	trimmed := firstNonSpace(body)
	switch trimmed {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, nil, errors.New("body is not valid JSON")
		}
		return items, nil, nil
	case '{':
		var envelope webhookEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, nil, errors.New("body is not valid JSON")
		}
		items := envelope.Items
		if items == nil {
			items = envelope.Data
		}
		return items, &envelope, nil
	default:
		return nil, nil, errors.New("body must be a JSON array or object")
	}
}

func firstNonSpace(body []byte) byte {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
