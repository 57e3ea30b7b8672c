package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/logger"
	"github.com/socialharvest/harvester/internal/service"
)

// createBatch accepts a structured batch description, builds the folder
// hierarchy and dispatches one request per target.
// POST /api/v1/batches
func (r *Router) createBatch(c *gin.Context) {
	ctx := c.Request.Context()

	var desc service.BatchDescription
	if err := c.ShouldBindJSON(&desc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	result, err := r.jobs.CreateBatch(ctx, desc)
	if err != nil {
		handleServiceError(c, err, "batch", "create")
		return
	}

	c.JSON(http.StatusCreated, result)
}

// getBatch returns a batch and its requests.
// GET /api/v1/batches/:id
func (r *Router) getBatch(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseUUID(c, "id", "batch")
	if !ok {
		return
	}

	status, err := r.jobs.GetBatch(ctx, id)
	if err != nil {
		handleServiceError(c, err, "batch", "get")
		return
	}

	c.JSON(http.StatusOK, status)
}

// cancelRequest cancels a non-terminal request.
// POST /api/v1/requests/:id/cancel
func (r *Router) cancelRequest(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseUUID(c, "id", "request")
	if !ok {
		return
	}

	if err := r.jobs.CancelRequest(ctx, id); err != nil {
		handleServiceError(c, err, "request", "cancel")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// retryRequest re-dispatches a request that failed before the provider
// accepted it.
// POST /api/v1/requests/:id/retry
func (r *Router) retryRequest(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseUUID(c, "id", "request")
	if !ok {
		return
	}

	if err := r.jobs.RetryRequest(ctx, id); err != nil {
		handleServiceError(c, err, "request", "retry")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "retrying"})
}

// getStats returns pipeline counts by status.
// GET /api/v1/stats
func (r *Router) getStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := r.jobs.Stats(ctx, r.cfg.Poller.StaleAfter)
	if err != nil {
		r.logger.Error("failed to collect stats", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// parseUUID parses a UUID from a gin.Context parameter.
func parseUUID(c *gin.Context, paramName, entityType string) (uuid.UUID, bool) {
	idParam := c.Param(paramName)
	id, err := uuid.Parse(idParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + entityType + " ID format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps service-layer errors to HTTP responses.
func handleServiceError(c *gin.Context, err error, entityType, operation string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": entityType + " not found",
		})
	case errors.Is(err, domain.ErrInvalidTarget), errors.Is(err, domain.ErrUnsupportedService):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrSnapshotAlreadySet):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to " + operation + " " + entityType,
		})
	}
}
