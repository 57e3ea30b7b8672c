package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/domain"
)

func folderColumns() []string {
	return []string{"id", "name", "level", "platform", "service", "parent_id", "created_at"}
}

func folderRow(id uuid.UUID, name string, level domain.FolderLevel, platform, service string, parentID *uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows(folderColumns()).
		AddRow(id, name, level, platform, service, parentID, time.Now())
}

func TestFolderRepository_EnsurePlatformNode(t *testing.T) {
	t.Helper()
	runEnsurePlatformNodeTests(t)
}

func runEnsurePlatformNodeTests(t *testing.T) {
	t.Helper()

	sqlxDB, mock := newMockDB(t)
	repo := database.NewFolderRepository(sqlxDB)
	ctx := context.Background()
	runID := uuid.New()
	platformID := uuid.New()

	testCases := []struct {
		name      string
		setupMock func()
		wantID    uuid.UUID
		wantErr   bool
	}{
		{
			name: "returns existing platform node",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(runID).
					WillReturnRows(folderRow(runID, "2026-08-run", domain.FolderLevelRun, "", "", nil))
				mock.ExpectQuery("SELECT").
					WithArgs(&runID, domain.FolderLevelPlatform, "instagram", "").
					WillReturnRows(folderRow(platformID, "instagram", domain.FolderLevelPlatform, "instagram", "", &runID))
			},
			wantID: platformID,
		},
		{
			name: "creates platform node when absent",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(runID).
					WillReturnRows(folderRow(runID, "2026-08-run", domain.FolderLevelRun, "", "", nil))
				mock.ExpectQuery("SELECT").
					WithArgs(&runID, domain.FolderLevelPlatform, "instagram", "").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("INSERT INTO folders").
					WillReturnRows(folderRow(platformID, "instagram", domain.FolderLevelPlatform, "instagram", "", &runID))
			},
			wantID: platformID,
		},
		{
			name: "lost insert race re-reads the winner",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(runID).
					WillReturnRows(folderRow(runID, "2026-08-run", domain.FolderLevelRun, "", "", nil))
				mock.ExpectQuery("SELECT").
					WithArgs(&runID, domain.FolderLevelPlatform, "instagram", "").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("INSERT INTO folders").
					WillReturnRows(sqlmock.NewRows(folderColumns()))
				mock.ExpectQuery("SELECT").
					WithArgs(&runID, domain.FolderLevelPlatform, "instagram", "").
					WillReturnRows(folderRow(platformID, "instagram", domain.FolderLevelPlatform, "instagram", "", &runID))
			},
			wantID: platformID,
		},
		{
			name: "non-run parent is rejected",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(runID).
					WillReturnRows(folderRow(runID, "posts", domain.FolderLevelService, "instagram", "posts", nil))
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			node, callErr := repo.EnsurePlatformNode(ctx, runID, "instagram")
			if (callErr != nil) != tc.wantErr {
				t.Errorf("EnsurePlatformNode() error = %v, wantErr %v", callErr, tc.wantErr)
			}
			if !tc.wantErr && node.ID != tc.wantID {
				t.Errorf("EnsurePlatformNode() id = %s, want %s", node.ID, tc.wantID)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestFolderRepository_LookupServiceNode(t *testing.T) {
	t.Helper()
	runLookupServiceNodeTests(t)
}

func runLookupServiceNodeTests(t *testing.T) {
	t.Helper()

	sqlxDB, mock := newMockDB(t)
	repo := database.NewFolderRepository(sqlxDB)
	ctx := context.Background()
	runID := uuid.New()
	platformID := uuid.New()
	serviceID := uuid.New()

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "resolves through the index",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(runID, "instagram", "posts").
					WillReturnRows(folderRow(serviceID, "posts", domain.FolderLevelService, "instagram", "posts", &platformID))
			},
		},
		{
			name: "index miss falls back to tree scan and repairs the index",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(runID, "instagram", "posts").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT").
					WithArgs(runID, "instagram", "posts").
					WillReturnRows(folderRow(serviceID, "posts", domain.FolderLevelService, "instagram", "posts", &platformID))
				mock.ExpectExec("INSERT INTO service_folder_index").
					WithArgs(runID, "instagram", "posts", serviceID).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "absent everywhere returns not found",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(runID, "instagram", "posts").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT").
					WithArgs(runID, "instagram", "posts").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			node, callErr := repo.LookupServiceNode(ctx, runID, "instagram", "posts")
			if !errors.Is(callErr, tc.wantErr) {
				t.Errorf("LookupServiceNode() error = %v, want %v", callErr, tc.wantErr)
			}
			if tc.wantErr == nil && node.ID != serviceID {
				t.Errorf("LookupServiceNode() id = %s, want %s", node.ID, serviceID)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestFolderRepository_CreateJobNode(t *testing.T) {
	t.Helper()
	runCreateJobNodeTests(t)
}

func runCreateJobNodeTests(t *testing.T) {
	t.Helper()

	sqlxDB, mock := newMockDB(t)
	repo := database.NewFolderRepository(sqlxDB)
	ctx := context.Background()
	serviceID := uuid.New()
	jobID := uuid.New()

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   bool
	}{
		{
			name: "creates job folder under service node",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(serviceID).
					WillReturnRows(folderRow(serviceID, "posts", domain.FolderLevelService, "instagram", "posts", nil))
				mock.ExpectQuery("INSERT INTO folders").
					WillReturnRows(folderRow(jobID, "natgeo-2026-08-30", domain.FolderLevelJob, "instagram", "posts", &serviceID))
			},
		},
		{
			name: "non-service parent is rejected",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(serviceID).
					WillReturnRows(folderRow(serviceID, "instagram", domain.FolderLevelPlatform, "instagram", "", nil))
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			node, callErr := repo.CreateJobNode(ctx, serviceID, "natgeo-2026-08-30")
			if (callErr != nil) != tc.wantErr {
				t.Errorf("CreateJobNode() error = %v, wantErr %v", callErr, tc.wantErr)
			}
			if !tc.wantErr && node.Level != domain.FolderLevelJob {
				t.Errorf("CreateJobNode() level = %s, want %s", node.Level, domain.FolderLevelJob)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}
