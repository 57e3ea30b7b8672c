package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/ingest"
	"github.com/socialharvest/harvester/internal/logger"
	"github.com/socialharvest/harvester/internal/metrics"
)

const (
	defaultDequeueTimeout = 5 * time.Second
	defaultMaxAttempts    = 3
)

// IngestWorker drains the webhook delivery queue into the ingest processor.
// The webhook handler acknowledges as soon as a payload is queued; this worker
// owns actually landing it.
type IngestWorker struct {
	queue    *ingest.Queue
	ingestor Ingestor
	metrics  *metrics.Metrics
	logger   logger.Logger

	dequeueTimeout time.Duration
	maxAttempts    int

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// IngestWorkerConfig holds configuration options.
type IngestWorkerConfig struct {
	DequeueTimeout time.Duration
	MaxAttempts    int
}

// NewIngestWorker creates a new IngestWorker.
func NewIngestWorker(
	queue *ingest.Queue,
	ingestor Ingestor,
	cfg IngestWorkerConfig,
	m *metrics.Metrics,
	log logger.Logger,
) *IngestWorker {
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = defaultDequeueTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return &IngestWorker{
		queue:          queue,
		ingestor:       ingestor,
		metrics:        m,
		logger:         log,
		dequeueTimeout: cfg.DequeueTimeout,
		maxAttempts:    cfg.MaxAttempts,
		stopChan:       make(chan struct{}),
	}
}

// Start begins the consume loop.
func (w *IngestWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("ingest worker started",
		logger.Duration("dequeue_timeout", w.dequeueTimeout),
		logger.Int("max_attempts", w.maxAttempts))
}

// Stop gracefully stops the worker after the in-flight delivery finishes.
func (w *IngestWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("ingest worker stopped")
}

func (w *IngestWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := w.queue.Dequeue(ctx, w.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to dequeue delivery", logger.Error(err))
			continue
		}
		if delivery == nil {
			continue
		}

		w.processDelivery(ctx, delivery)

		if depth, lenErr := w.queue.Len(ctx); lenErr == nil {
			w.metrics.QueueDepth.Set(float64(depth))
		}
	}
}

// processDelivery ingests one delivery. Transient failures requeue up to the
// attempt limit; permanent ones (unknown correlation, request not accepting
// results) are already preserved in the audit table and are not retried.
func (w *IngestWorker) processDelivery(ctx context.Context, delivery *ingest.Delivery) {
	start := time.Now()
	result, err := w.ingestor.Ingest(ctx, delivery.Ref(), delivery.Items)
	w.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		w.metrics.IngestItems.WithLabelValues("accepted").Add(float64(result.Accepted))
		w.metrics.IngestItems.WithLabelValues("unchanged").Add(float64(result.Unchanged))
		w.metrics.IngestItems.WithLabelValues("skipped").Add(float64(result.Skipped))
		return
	}

	if errors.Is(err, domain.ErrUnknownCorrelation) || errors.Is(err, domain.ErrInvalidTransition) {
		w.logger.Warn("delivery not ingestible, payload preserved",
			logger.String("snapshot_id", delivery.SnapshotID),
			logger.Error(err))
		return
	}

	if delivery.Attempts+1 >= w.maxAttempts {
		w.logger.Error("delivery exhausted its attempts",
			logger.String("snapshot_id", delivery.SnapshotID),
			logger.Int("attempts", delivery.Attempts+1),
			logger.Error(err))
		return
	}

	w.logger.Warn("delivery failed, requeueing",
		logger.String("snapshot_id", delivery.SnapshotID),
		logger.Int("attempts", delivery.Attempts+1),
		logger.Error(err))
	if requeueErr := w.queue.Requeue(ctx, delivery); requeueErr != nil {
		w.logger.Error("failed to requeue delivery",
			logger.String("snapshot_id", delivery.SnapshotID),
			logger.Error(requeueErr))
	}
}
