package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/socialharvest/harvester/internal/logger"
)

const (
	defaultPayloadListLimit = 50
	maxPayloadListLimit     = 500
)

type createRunRequest struct {
	Name string `json:"name" binding:"required"`
}

// createRun creates a top-level run folder.
// POST /api/v1/runs
func (r *Router) createRun(c *gin.Context) {
	ctx := c.Request.Context()

	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	node, err := r.jobs.CreateRun(ctx, req.Name)
	if err != nil {
		handleServiceError(c, err, "run", "create")
		return
	}

	c.JSON(http.StatusCreated, node)
}

// getRun returns a run folder.
// GET /api/v1/runs/:id
func (r *Router) getRun(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := parseUUID(c, "id", "run")
	if !ok {
		return
	}

	node, err := r.jobs.GetRun(ctx, id)
	if err != nil {
		handleServiceError(c, err, "run", "get")
		return
	}

	c.JSON(http.StatusOK, node)
}

// listWebhookPayloads returns recent deliveries that could not be attributed
// to a request, for manual inspection.
// GET /api/v1/webhook-payloads
func (r *Router) listWebhookPayloads(c *gin.Context) {
	ctx := c.Request.Context()

	limit := defaultPayloadListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPayloadListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	payloads, err := r.audit.List(ctx, limit)
	if err != nil {
		r.logger.Error("failed to list webhook payloads", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list webhook payloads"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payloads": payloads, "count": len(payloads)})
}
