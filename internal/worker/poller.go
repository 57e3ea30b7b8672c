// Package worker provides the background workers of the harvester: the
// polling reconciler and the webhook delivery consumer.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/ingest"
	"github.com/socialharvest/harvester/internal/logger"
	"github.com/socialharvest/harvester/internal/metrics"
	"github.com/socialharvest/harvester/internal/provider"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultPollBatchSize = 50
)

// StatusQuerier is the provider surface the poller needs.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, snapshotID string) (*provider.JobStatus, error)
	FetchResults(ctx context.Context, snapshotID string) ([]json.RawMessage, error)
}

// Ingestor consumes resolved result payloads.
type Ingestor interface {
	Ingest(ctx context.Context, ref ingest.ResultRef, items []json.RawMessage) (*ingest.IngestResult, error)
}

// Poller is the pull-side reconciliation fallback. The webhook is the primary
// delivery path; the poller sweeps any request the webhook missed. Because
// ingestion is idempotent, both paths can race safely.
type Poller struct {
	requests *database.RequestRepository
	provider StatusQuerier
	ingestor Ingestor
	rollup   ingest.BatchRoller
	metrics  *metrics.Metrics
	logger   logger.Logger
	tracer   trace.Tracer

	pollInterval time.Duration
	batchSize    int

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// PollerConfig holds configuration options.
type PollerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// NewPoller creates a new Poller.
func NewPoller(
	requests *database.RequestRepository,
	providerClient StatusQuerier,
	ingestor Ingestor,
	rollup ingest.BatchRoller,
	cfg PollerConfig,
	m *metrics.Metrics,
	log logger.Logger,
) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultPollBatchSize
	}

	return &Poller{
		requests:     requests,
		provider:     providerClient,
		ingestor:     ingestor,
		rollup:       rollup,
		metrics:      m,
		logger:       log,
		tracer:       otel.Tracer("poller"),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("poller started",
		logger.Duration("poll_interval", p.pollInterval),
		logger.Int("batch_size", p.batchSize))
}

// Stop gracefully stops the poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("poller stopped")
}

// IsRunning reports whether the poller loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Reconcile immediately on start
	p.reconcileOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.reconcileOnce(ctx)
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) reconcileOnce(ctx context.Context) {
	pollable, err := p.requests.ListPollable(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to list pollable requests", logger.Error(err))
		return
	}

	for i := range pollable {
		p.reconcileRequest(ctx, &pollable[i])
	}
	p.metrics.PollerCycles.Inc()
}

// reconcileRequest asks the provider where one request stands and acts on the
// answer.
func (p *Poller) reconcileRequest(ctx context.Context, req *domain.ScrapeRequest) {
	snapshotID := *req.SnapshotID

	ctx, span := p.tracer.Start(ctx, "poller.reconcile",
		trace.WithAttributes(
			attribute.String("request_id", req.ID.String()),
			attribute.String("snapshot_id", snapshotID),
		))
	defer span.End()

	status, err := p.provider.QueryStatus(ctx, snapshotID)
	if err != nil {
		// Transient by assumption; the next pass retries.
		p.logger.Warn("provider status query failed",
			logger.String("snapshot_id", snapshotID),
			logger.Error(err))
		return
	}

	switch status.State {
	case provider.JobStateReady:
		items, err := p.provider.FetchResults(ctx, snapshotID)
		if err != nil {
			p.logger.Warn("failed to fetch ready results",
				logger.String("snapshot_id", snapshotID),
				logger.Error(err))
			return
		}
		if _, err := p.ingestor.Ingest(ctx, ingest.ResultRef{SnapshotID: snapshotID}, items); err != nil {
			p.logger.Error("failed to ingest polled results",
				logger.String("snapshot_id", snapshotID),
				logger.Error(err))
		}
	case provider.JobStateFailed:
		if err := p.requests.MarkFailed(ctx, req.ID, status.Error); err != nil {
			p.logger.Error("failed to record provider failure",
				logger.String("request_id", req.ID.String()),
				logger.Error(err))
			return
		}
		if _, err := p.rollup.Recompute(ctx, req.BatchID); err != nil {
			p.logger.Error("batch rollup failed after provider failure",
				logger.String("batch_id", req.BatchID.String()),
				logger.Error(err))
		}
	default:
		// Still running.
	}
}
