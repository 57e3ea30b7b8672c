// Package api is the HTTP surface of the harvester: batch management, the
// provider webhook, health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socialharvest/harvester/internal/config"
	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/ingest"
	"github.com/socialharvest/harvester/internal/logger"
	"github.com/socialharvest/harvester/internal/metrics"
	"github.com/socialharvest/harvester/internal/service"
)

const (
	defaultIdleTimeout = 120 * time.Second
	maxWebhookBodySize = 32 << 20 // 32 MiB
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func() error

// Router holds the API dependencies.
type Router struct {
	jobs     *service.JobService
	queue    *ingest.Queue
	requests *database.RequestRepository
	audit    *database.AuditRepository
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   logger.Logger

	dbCheck    HealthChecker
	redisCheck HealthChecker
}

// NewRouter creates a new API router.
func NewRouter(
	jobs *service.JobService,
	queue *ingest.Queue,
	requests *database.RequestRepository,
	audit *database.AuditRepository,
	cfg *config.Config,
	m *metrics.Metrics,
	log logger.Logger,
	dbCheck, redisCheck HealthChecker,
) *Router {
	return &Router{
		jobs:       jobs,
		queue:      queue,
		requests:   requests,
		audit:      audit,
		cfg:        cfg,
		metrics:    m,
		logger:     log,
		dbCheck:    dbCheck,
		redisCheck: redisCheck,
	}
}

// Engine builds the gin engine with all routes registered.
func (r *Router) Engine() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(r.logger))

	corsConfig := cors.DefaultConfig()
	if len(r.cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = r.cfg.Server.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Snapshot-Id")
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", r.healthz)
	engine.GET("/readyz", r.readyz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{})))

	webhook := engine.Group("/webhook", bearerAuth(r.cfg.Webhook.Token))
	webhook.POST("/results", r.webhookResults)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/runs", r.createRun)
		v1.GET("/runs/:id", r.getRun)
		v1.POST("/batches", r.createBatch)
		v1.GET("/batches/:id", r.getBatch)
		v1.POST("/requests/:id/cancel", r.cancelRequest)
		v1.POST("/requests/:id/retry", r.retryRequest)
		v1.GET("/stats", r.getStats)
		v1.GET("/webhook-payloads", r.listWebhookPayloads)
	}

	return engine
}

// NewServer wraps the engine in an http.Server with the configured timeouts.
func (r *Router) NewServer() *http.Server {
	return &http.Server{
		Addr:         r.cfg.Server.Address,
		Handler:      r.Engine(),
		ReadTimeout:  r.cfg.Server.ReadTimeout,
		WriteTimeout: r.cfg.Server.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
}
