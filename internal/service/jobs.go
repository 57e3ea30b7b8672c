package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/logger"
	"github.com/socialharvest/harvester/internal/metrics"
	"github.com/socialharvest/harvester/internal/provider"
)

// Dispatcher triggers jobs at the external scraping provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, job provider.JobSpec) (string, error)
}

// JobEntry is one platform/service line of a batch description.
type JobEntry struct {
	Platform  string     `json:"platform"`
	Service   string     `json:"service"`
	Targets   []string   `json:"targets"`
	ItemCount int        `json:"item_count"`
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
}

// BatchDescription is the inbound job-creation payload.
type BatchDescription struct {
	RunID   uuid.UUID  `json:"run_id"`
	Entries []JobEntry `json:"entries"`
}

// BatchResult reports what a batch creation produced.
type BatchResult struct {
	BatchID   uuid.UUID   `json:"batch_id"`
	FolderIDs []uuid.UUID `json:"folder_ids"`
	Requests  []uuid.UUID `json:"request_ids"`
}

// plannedRequest pairs a validated target with the folder and request that
// will carry it.
type plannedRequest struct {
	entry     JobEntry
	handle    string
	targetURL string
	datasetID string
}

// JobService builds batches, dispatches their requests and drives request
// lifecycle operations.
type JobService struct {
	folders      *database.FolderRepository
	requests     *database.RequestRepository
	records      *database.RecordRepository
	dispatcher   Dispatcher
	rollup       *Rollup
	capabilities *domain.CapabilitySet
	metrics      *metrics.Metrics
	logger       logger.Logger
	tracer       trace.Tracer
}

// NewJobService creates a JobService.
func NewJobService(
	folders *database.FolderRepository,
	requests *database.RequestRepository,
	records *database.RecordRepository,
	dispatcher Dispatcher,
	rollup *Rollup,
	capabilities *domain.CapabilitySet,
	m *metrics.Metrics,
	log logger.Logger,
) *JobService {
	return &JobService{
		folders:      folders,
		requests:     requests,
		records:      records,
		dispatcher:   dispatcher,
		rollup:       rollup,
		capabilities: capabilities,
		metrics:      m,
		logger:       log,
		tracer:       otel.Tracer("job-service"),
	}
}

// CreateBatch validates the whole description, builds the folder hierarchy,
// persists one request per target and dispatches each to the provider.
//
// Validation runs before any write: an invalid target or unsupported
// platform/service combination fails the call synchronously with nothing
// persisted. Dispatch failures after that point do not fail the call; they are
// recorded on the affected request.
func (s *JobService) CreateBatch(ctx context.Context, desc BatchDescription) (*BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.create_batch",
		trace.WithAttributes(
			attribute.String("run_id", desc.RunID.String()),
			attribute.Int("entry_count", len(desc.Entries)),
		))
	defer span.End()

	planned, err := s.validate(desc)
	if err != nil {
		return nil, err
	}

	batch := domain.NewBatchJob(desc.RunID, len(planned))
	requests := make([]*domain.ScrapeRequest, 0, len(planned))
	folderIDs := make([]uuid.UUID, 0, len(planned))

	for _, plan := range planned {
		serviceNode, err := s.folders.EnsureServiceNode(ctx, desc.RunID, plan.entry.Platform, plan.entry.Service)
		if err != nil {
			return nil, fmt.Errorf("ensure service folder: %w", err)
		}

		jobName := fmt.Sprintf("%s-%s", plan.handle, time.Now().UTC().Format("2006-01-02"))
		jobNode, err := s.folders.CreateJobNode(ctx, serviceNode.ID, jobName)
		if err != nil {
			return nil, fmt.Errorf("create job folder: %w", err)
		}
		folderIDs = append(folderIDs, jobNode.ID)

		requests = append(requests, domain.NewScrapeRequest(
			batch.ID, jobNode.ID,
			plan.entry.Platform, plan.entry.Service, plan.targetURL,
			plan.entry.ItemCount, plan.entry.DateFrom, plan.entry.DateTo,
		))
	}

	if err := s.requests.CreateBatch(ctx, batch, requests); err != nil {
		return nil, err
	}

	requestIDs := make([]uuid.UUID, 0, len(requests))
	for i, req := range requests {
		requestIDs = append(requestIDs, req.ID)
		s.dispatchOne(ctx, req, planned[i].datasetID)
	}

	if _, err := s.rollup.Recompute(ctx, batch.ID); err != nil {
		s.logger.Error("batch rollup failed after create",
			logger.String("batch_id", batch.ID.String()),
			logger.Error(err))
	}

	s.logger.Info("batch created",
		logger.String("batch_id", batch.ID.String()),
		logger.String("run_id", desc.RunID.String()),
		logger.Int("requests", len(requests)))
	return &BatchResult{BatchID: batch.ID, FolderIDs: folderIDs, Requests: requestIDs}, nil
}

// validate expands the description into one planned request per target,
// checking capability support and target shape up front.
func (s *JobService) validate(desc BatchDescription) ([]plannedRequest, error) {
	if desc.RunID == uuid.Nil {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrInvalidTarget)
	}
	if len(desc.Entries) == 0 {
		return nil, fmt.Errorf("%w: batch has no entries", domain.ErrInvalidTarget)
	}

	var planned []plannedRequest
	for _, entry := range desc.Entries {
		datasetID, err := s.capabilities.DatasetFor(entry.Platform, entry.Service)
		if err != nil {
			return nil, err
		}
		if len(entry.Targets) == 0 {
			return nil, fmt.Errorf("%w: entry %s/%s has no targets", domain.ErrInvalidTarget, entry.Platform, entry.Service)
		}

		for _, target := range entry.Targets {
			handle, targetURL, err := domain.ParseTarget(entry.Platform, target)
			if err != nil {
				return nil, err
			}
			planned = append(planned, plannedRequest{
				entry:     entry,
				handle:    handle,
				targetURL: targetURL,
				datasetID: datasetID,
			})
		}
	}
	return planned, nil
}

// dispatchOne triggers one request at the provider. Dispatch failures are
// terminal for the request (no automatic retry) with the provider's error text
// captured verbatim.
func (s *JobService) dispatchOne(ctx context.Context, req *domain.ScrapeRequest, datasetID string) {
	snapshotID, err := s.dispatcher.Dispatch(ctx, provider.JobSpec{
		DatasetID: datasetID,
		TargetURL: req.Target,
		ItemCount: req.ItemCount,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
	})
	if err != nil {
		s.metrics.Dispatches.WithLabelValues(req.Platform, "failure").Inc()
		s.logger.Error("provider dispatch failed",
			logger.String("request_id", req.ID.String()),
			logger.String("platform", req.Platform),
			logger.Error(err))
		if markErr := s.requests.MarkFailed(ctx, req.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to record dispatch failure",
				logger.String("request_id", req.ID.String()),
				logger.Error(markErr))
		}
		return
	}

	if err := s.requests.SetDispatched(ctx, req.ID, snapshotID); err != nil {
		s.logger.Error("failed to record dispatch",
			logger.String("request_id", req.ID.String()),
			logger.String("snapshot_id", snapshotID),
			logger.Error(err))
		return
	}

	s.metrics.Dispatches.WithLabelValues(req.Platform, "success").Inc()
	s.logger.Info("request dispatched",
		logger.String("request_id", req.ID.String()),
		logger.String("snapshot_id", snapshotID))
}

// RequestStatus is one request of a batch plus how many records it has
// produced so far.
type RequestStatus struct {
	domain.ScrapeRequest
	RecordCount int64 `json:"record_count"`
}

// BatchStatus is a batch with its children, for status queries.
type BatchStatus struct {
	Batch    *domain.BatchJob `json:"batch"`
	Requests []RequestStatus  `json:"requests"`
}

// GetBatch returns a batch and all its requests with their record counts.
func (s *JobService) GetBatch(ctx context.Context, batchID uuid.UUID) (*BatchStatus, error) {
	batch, err := s.requests.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	children, err := s.requests.ListBatchRequests(ctx, batchID)
	if err != nil {
		return nil, err
	}

	statuses := make([]RequestStatus, 0, len(children))
	for _, child := range children {
		count, err := s.records.CountByRequest(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, RequestStatus{ScrapeRequest: child, RecordCount: count})
	}
	return &BatchStatus{Batch: batch, Requests: statuses}, nil
}

// CreateRun creates a top-level run folder that batches can be filed under.
func (s *JobService) CreateRun(ctx context.Context, name string) (*domain.FolderNode, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: run name is required", domain.ErrInvalidTarget)
	}
	node, err := s.folders.CreateRunNode(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("run created",
		logger.String("run_id", node.ID.String()),
		logger.String("name", node.Name))
	return node, nil
}

// GetRun loads a run folder by id.
func (s *JobService) GetRun(ctx context.Context, id uuid.UUID) (*domain.FolderNode, error) {
	node, err := s.folders.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.Level != domain.FolderLevelRun {
		return nil, domain.ErrNotFound
	}
	return node, nil
}

// CancelRequest moves a request to cancelled and rolls up its batch.
func (s *JobService) CancelRequest(ctx context.Context, requestID uuid.UUID) error {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.requests.Cancel(ctx, requestID); err != nil {
		return err
	}

	s.logger.Info("request cancelled", logger.String("request_id", requestID.String()))
	if _, err := s.rollup.Recompute(ctx, req.BatchID); err != nil {
		s.logger.Error("batch rollup failed after cancel",
			logger.String("batch_id", req.BatchID.String()),
			logger.Error(err))
	}
	return nil
}

// RetryRequest re-dispatches a request that failed before the provider
// accepted it. A request that already holds a snapshot id keeps it; those
// failures need a new batch instead.
func (s *JobService) RetryRequest(ctx context.Context, requestID uuid.UUID) error {
	if err := s.requests.ResetForRetry(ctx, requestID); err != nil {
		return err
	}

	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	datasetID, err := s.capabilities.DatasetFor(req.Platform, req.Service)
	if err != nil {
		return err
	}

	s.dispatchOne(ctx, req, datasetID)
	if _, err := s.rollup.Recompute(ctx, req.BatchID); err != nil {
		s.logger.Error("batch rollup failed after retry",
			logger.String("batch_id", req.BatchID.String()),
			logger.Error(err))
	}
	return nil
}

// Stats returns pipeline counts for monitoring.
func (s *JobService) Stats(ctx context.Context, staleAfter time.Duration) (*database.PipelineStats, error) {
	return s.requests.Stats(ctx, staleAfter)
}
