package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthz reports liveness.
// GET /healthz
func (r *Router) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyz reports readiness: the service is ready only when its database and
// Redis are reachable.
// GET /readyz
func (r *Router) readyz(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if r.dbCheck != nil {
		if err := r.dbCheck(); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if r.redisCheck != nil {
		if err := r.redisCheck(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"checks": checks})
}
