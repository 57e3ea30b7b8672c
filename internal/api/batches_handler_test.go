package api

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialharvest/harvester/internal/config"
	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/domain"
	"github.com/socialharvest/harvester/internal/ingest"
	"github.com/socialharvest/harvester/internal/logger"
	"github.com/socialharvest/harvester/internal/metrics"
	"github.com/socialharvest/harvester/internal/provider"
	"github.com/socialharvest/harvester/internal/service"
)

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(context.Context, provider.JobSpec) (string, error) {
	return "snap_stub", nil
}

func newTestAPIWithJobs(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	caps, err := domain.NewCapabilitySet(1, []domain.Capability{
		{Platform: "instagram", Service: "posts", DatasetID: "gd_instagram_posts"},
	})
	require.NoError(t, err)

	requests := database.NewRequestRepository(sqlxDB)
	m := metrics.New()
	jobs := service.NewJobService(
		database.NewFolderRepository(sqlxDB),
		requests,
		database.NewRecordRepository(sqlxDB),
		stubDispatcher{},
		service.NewRollup(requests, logger.NewNop()),
		caps,
		m,
		logger.NewNop(),
	)

	cfg := &config.Config{}
	cfg.Webhook.Token = testWebhookToken
	cfg.Server.Address = ":0"

	router := NewRouter(
		jobs,
		ingest.NewQueue(client, "test:deliveries"),
		requests,
		database.NewAuditRepository(sqlxDB),
		cfg,
		m,
		logger.NewNop(),
		nil, nil,
	)
	return router.Engine(), mock
}

func TestCreateBatch_InvalidPayloadIs400(t *testing.T) {
	engine, mock := newTestAPIWithJobs(t)

	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `garbage`},
		{name: "missing run id", body: `{"entries": [{"platform": "instagram", "service": "posts", "targets": ["natgeo"]}]}`},
		{name: "unsupported service", body: `{"run_id": "` + uuid.NewString() + `", "entries": [{"platform": "instagram", "service": "reels", "targets": ["natgeo"]}]}`},
		{name: "invalid target", body: `{"run_id": "` + uuid.NewString() + `", "entries": [{"platform": "instagram", "service": "posts", "targets": ["https://example.com/x"]}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "/api/v1/batches", bytes.NewBufferString(tc.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			engine.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetBatch_NotFoundIs404(t *testing.T) {
	engine, mock := newTestAPIWithJobs(t)
	batchID := uuid.New()

	mock.ExpectQuery("SELECT").WithArgs(batchID).WillReturnError(sql.ErrNoRows)

	w := httptest.NewRecorder()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/api/v1/batches/"+batchID.String(), nil)
	require.NoError(t, err)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatch_MalformedIDIs400(t *testing.T) {
	engine, mock := newTestAPIWithJobs(t)

	w := httptest.NewRecorder()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/api/v1/batches/not-a-uuid", nil)
	require.NoError(t, err)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRequest_TerminalRequestIs409(t *testing.T) {
	engine, mock := newTestAPIWithJobs(t)
	requestID := uuid.New()

	completed := sqlmock.NewRows([]string{
		"id", "batch_id", "folder_id", "platform", "service", "target",
		"item_count", "date_from", "date_to", "snapshot_id", "status",
		"error_message", "created_at", "started_at", "completed_at",
	}).AddRow(
		requestID, uuid.New(), uuid.New(), "instagram", "posts", "natgeo",
		5, nil, nil, "snap_done", domain.RequestStatusCompleted,
		nil, time.Now(), nil, nil,
	)

	// Service loads the request, the guarded cancel touches zero rows, and the
	// repository re-reads to classify the rejection.
	mock.ExpectQuery("SELECT").WithArgs(requestID).WillReturnRows(completed)
	mock.ExpectExec("UPDATE scrape_requests").WithArgs(requestID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT").WithArgs(requestID).WillReturnRows(sqlmock.NewRows([]string{
		"id", "batch_id", "folder_id", "platform", "service", "target",
		"item_count", "date_from", "date_to", "snapshot_id", "status",
		"error_message", "created_at", "started_at", "completed_at",
	}).AddRow(
		requestID, uuid.New(), uuid.New(), "instagram", "posts", "natgeo",
		5, nil, nil, "snap_done", domain.RequestStatusCompleted,
		nil, time.Now(), nil, nil,
	))

	w := httptest.NewRecorder()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "/api/v1/requests/"+requestID.String()+"/cancel", nil)
	require.NoError(t, err)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStats(t *testing.T) {
	engine, mock := newTestAPIWithJobs(t)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{
		"pending", "dispatched", "processing", "completed", "failed", "cancelled",
	}).AddRow(1, 2, 3, 4, 5, 6))
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{
		"open", "completed", "failed",
	}).AddRow(1, 2, 3))
	mock.ExpectQuery("SELECT").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	w := httptest.NewRecorder()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/api/v1/stats", nil)
	require.NoError(t, err)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dispatched":2`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
