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
)

const testWebhookToken = "wh_secret"

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *ingest.Queue) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	queue := ingest.NewQueue(client, "test:deliveries")

	cfg := &config.Config{}
	cfg.Webhook.Token = testWebhookToken
	cfg.Server.Address = ":0"

	router := NewRouter(
		nil, // job service unused by the webhook path
		queue,
		database.NewRequestRepository(sqlxDB),
		database.NewAuditRepository(sqlxDB),
		cfg,
		metrics.New(),
		logger.NewNop(),
		nil, nil,
	)
	return router.Engine(), mock, queue
}

func knownRequestRow(snapshotID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "batch_id", "folder_id", "platform", "service", "target",
		"item_count", "date_from", "date_to", "snapshot_id", "status",
		"error_message", "created_at", "started_at", "completed_at",
	}).AddRow(
		uuid.New(), uuid.New(), uuid.New(), "instagram", "posts", "natgeo",
		5, nil, nil, snapshotID, domain.RequestStatusDispatched,
		nil, time.Now(), time.Now(), nil,
	)
}

func postWebhook(t *testing.T, engine *gin.Engine, token, snapshotHeader, body string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "/webhook/results", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if snapshotHeader != "" {
		req.Header.Set("X-Snapshot-Id", snapshotHeader)
	}
	engine.ServeHTTP(w, req)
	return w
}

func TestWebhook_BadTokenIsRejected(t *testing.T) {
	engine, mock, _ := newTestRouter(t)

	w := postWebhook(t, engine, "wrong-token", "snap_1", `[]`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_MissingTokenIsRejected(t *testing.T) {
	engine, mock, _ := newTestRouter(t)

	w := postWebhook(t, engine, "", "snap_1", `[]`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_HeaderCorrelationQueuesArrayBody(t *testing.T) {
	engine, mock, queue := newTestRouter(t)

	mock.ExpectQuery("SELECT").WithArgs("snap_h1").WillReturnRows(knownRequestRow("snap_h1"))

	w := postWebhook(t, engine, testWebhookToken, "snap_h1",
		`[{"post_id": "p1"}, {"post_id": "p2"}]`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	delivery, err := queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, "snap_h1", delivery.SnapshotID)
	assert.Len(t, delivery.Items, 2)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_BodyCorrelationFields(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{
			name: "snapshot_id field",
			body: `{"snapshot_id": "snap_b1", "items": [{"post_id": "p1"}]}`,
		},
		{
			name: "collection_id field",
			body: `{"collection_id": "snap_b1", "data": [{"post_id": "p1"}]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, mock, queue := newTestRouter(t)
			mock.ExpectQuery("SELECT").WithArgs("snap_b1").WillReturnRows(knownRequestRow("snap_b1"))

			w := postWebhook(t, engine, testWebhookToken, "", tc.body)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			delivery, err := queue.Dequeue(context.Background(), time.Second)
			require.NoError(t, err)
			require.NotNil(t, delivery)
			assert.Equal(t, "snap_b1", delivery.SnapshotID)
			assert.Len(t, delivery.Items, 1)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWebhook_UnknownCorrelationIsPreservedAnd400(t *testing.T) {
	engine, mock, queue := newTestRouter(t)

	mock.ExpectQuery("SELECT").WithArgs("snap_ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO webhook_payloads").WillReturnResult(sqlmock.NewResult(0, 1))

	w := postWebhook(t, engine, testWebhookToken, "snap_ghost", `[{"post_id": "p1"}]`)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	n, err := queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_NoCorrelationAtAllIs400(t *testing.T) {
	engine, mock, _ := newTestRouter(t)

	mock.ExpectExec("INSERT INTO webhook_payloads").WillReturnResult(sqlmock.NewResult(0, 1))

	w := postWebhook(t, engine, testWebhookToken, "", `[{"post_id": "p1"}]`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_MalformedBodyIs400(t *testing.T) {
	engine, mock, _ := newTestRouter(t)

	w := postWebhook(t, engine, testWebhookToken, "snap_1", `not json at all`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
