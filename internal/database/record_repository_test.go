package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/domain"
)

func TestRecordRepository_InsertTx(t *testing.T) {
	t.Helper()
	runInsertTxTests(t)
}

func runInsertTxTests(t *testing.T) {
	t.Helper()

	sqlxDB, mock := newMockDB(t)
	repo := database.NewRecordRepository(sqlxDB)
	ctx := context.Background()

	rec := &domain.ScrapedRecord{
		ID:           uuid.New(),
		RequestID:    uuid.New(),
		FolderID:     uuid.New(),
		Platform:     "instagram",
		PostID:       "post-1",
		AuthorHandle: "natgeo",
		Content:      "a caption",
		Likes:        100,
		Comments:     5,
		Shares:       2,
		RawPayload:   json.RawMessage(`{"post_id":"post-1"}`),
	}

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "inserts new record",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO scraped_records").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "conflicting key inserts nothing and surfaces as already exists",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO scraped_records").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrAlreadyExists,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			tx, txErr := sqlxDB.BeginTxx(ctx, nil)
			if txErr != nil {
				t.Fatalf("begin tx: %v", txErr)
			}

			callErr := repo.InsertTx(ctx, tx, rec)
			if !errors.Is(callErr, tc.wantErr) {
				t.Errorf("InsertTx() error = %v, want %v", callErr, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestRecordRepository_UpdateEngagementTx(t *testing.T) {
	t.Helper()
	runUpdateEngagementTxTests(t)
}

func runUpdateEngagementTxTests(t *testing.T) {
	t.Helper()

	sqlxDB, mock := newMockDB(t)
	repo := database.NewRecordRepository(sqlxDB)
	ctx := context.Background()
	recordID := uuid.New()
	eng := domain.Engagement{Likes: 150, Comments: 9, Shares: 4}
	payload := json.RawMessage(`{"post_id":"post-1","likes":150}`)

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "replaces engagement counters",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE scraped_records").
					WithArgs(recordID, eng.Likes, eng.Comments, eng.Shares, []byte(payload)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing record returns not found",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE scraped_records").
					WithArgs(recordID, eng.Likes, eng.Comments, eng.Shares, []byte(payload)).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			tx, txErr := sqlxDB.BeginTxx(ctx, nil)
			if txErr != nil {
				t.Fatalf("begin tx: %v", txErr)
			}

			callErr := repo.UpdateEngagementTx(ctx, tx, recordID, eng, payload)
			if !errors.Is(callErr, tc.wantErr) {
				t.Errorf("UpdateEngagementTx() error = %v, want %v", callErr, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}
