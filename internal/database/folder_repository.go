package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/socialharvest/harvester/internal/domain"
)

// folderSelectList is the column list for SELECT/RETURNING on folders
// (single source for schema changes).
const folderSelectList = `id, name, level, platform, service, parent_id, created_at`

// FolderRepository manages the run -> platform -> service -> job hierarchy and
// its service-folder index in PostgreSQL.
type FolderRepository struct {
	db *sqlx.DB
}

// NewFolderRepository creates a new repository.
func NewFolderRepository(db *sqlx.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

// Ping checks database connectivity.
func (r *FolderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// GetNode retrieves a folder node by id.
func (r *FolderRepository) GetNode(ctx context.Context, id uuid.UUID) (*domain.FolderNode, error) {
	return getNode(ctx, r.db, id)
}

func getNode(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.FolderNode, error) {
	var node domain.FolderNode
	query := `SELECT ` + folderSelectList + ` FROM folders WHERE id = $1`
	err := sqlx.GetContext(ctx, q, &node, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get folder node: %w", err)
	}
	return &node, nil
}

// CreateRunNode creates a top-level run folder.
func (r *FolderRepository) CreateRunNode(ctx context.Context, name string) (*domain.FolderNode, error) {
	var node domain.FolderNode
	query := `
		INSERT INTO folders (id, name, level, platform, service, parent_id)
		VALUES ($1, $2, 'run', '', '', NULL)
		RETURNING ` + folderSelectList
	err := r.db.QueryRowxContext(ctx, query, uuid.New(), name).StructScan(&node)
	if err != nil {
		return nil, fmt.Errorf("create run node: %w", err)
	}
	return &node, nil
}

// EnsurePlatformNode returns the platform folder under the given run, creating
// it if absent. Concurrent callers converge on a single row via the uniqueness
// constraint on (parent_id, level, platform, service) plus a re-read on
// conflict.
func (r *FolderRepository) EnsurePlatformNode(ctx context.Context, runID uuid.UUID, platform string) (*domain.FolderNode, error) {
	run, err := getNode(ctx, r.db, runID)
	if err != nil {
		return nil, err
	}
	if run.Level != domain.FolderLevelRun {
		return nil, fmt.Errorf("folder %s is a %s node, not a run", runID, run.Level)
	}

	return ensureChild(ctx, r.db, run, &domain.FolderNode{
		Name:     platform,
		Level:    domain.FolderLevelPlatform,
		Platform: platform,
	})
}

// EnsureServiceNode returns the service folder under (run, platform), creating
// the platform and service nodes as needed. The ServiceFolderIndex entry is
// written in the same transaction as the service node so the two can never
// diverge.
func (r *FolderRepository) EnsureServiceNode(ctx context.Context, runID uuid.UUID, platform, service string) (*domain.FolderNode, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ensure service node: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	run, err := getNode(ctx, tx, runID)
	if err != nil {
		return nil, err
	}
	if run.Level != domain.FolderLevelRun {
		return nil, fmt.Errorf("folder %s is a %s node, not a run", runID, run.Level)
	}

	platformNode, err := ensureChild(ctx, tx, run, &domain.FolderNode{
		Name:     platform,
		Level:    domain.FolderLevelPlatform,
		Platform: platform,
	})
	if err != nil {
		return nil, err
	}

	serviceNode, err := ensureChild(ctx, tx, platformNode, &domain.FolderNode{
		Name:     service,
		Level:    domain.FolderLevelService,
		Platform: platform,
		Service:  service,
	})
	if err != nil {
		return nil, err
	}

	if err := upsertServiceIndex(ctx, tx, runID, platform, service, serviceNode.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ensure service node: %w", err)
	}
	return serviceNode, nil
}

// CreateJobNode creates a job folder under the given service node. Job nodes
// are never deduplicated; each dispatched unit of work gets its own folder.
func (r *FolderRepository) CreateJobNode(ctx context.Context, serviceNodeID uuid.UUID, name string) (*domain.FolderNode, error) {
	parent, err := getNode(ctx, r.db, serviceNodeID)
	if err != nil {
		return nil, err
	}
	if parent.Level != domain.FolderLevelService {
		return nil, fmt.Errorf("folder %s is a %s node, not a service", serviceNodeID, parent.Level)
	}

	node := &domain.FolderNode{
		ID:       uuid.New(),
		Name:     name,
		Level:    domain.FolderLevelJob,
		Platform: parent.Platform,
		Service:  parent.Service,
		ParentID: &parent.ID,
	}
	if err := node.ValidateChildOf(parent); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO folders (id, name, level, platform, service, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + folderSelectList

	var created domain.FolderNode
	err = r.db.QueryRowxContext(ctx, query,
		node.ID, node.Name, node.Level, node.Platform, node.Service, node.ParentID,
	).StructScan(&created)
	if err != nil {
		return nil, fmt.Errorf("create job node: %w", err)
	}
	return &created, nil
}

// LookupServiceNode resolves (run, platform, service) to the service folder.
// It consults the ServiceFolderIndex first; on a miss it falls back to a tree
// scan and repairs the index, since historical nodes may predate the index.
func (r *FolderRepository) LookupServiceNode(ctx context.Context, runID uuid.UUID, platform, service string) (*domain.FolderNode, error) {
	var node domain.FolderNode
	indexed := `
		SELECT f.id, f.name, f.level, f.platform, f.service, f.parent_id, f.created_at
		FROM service_folder_index i
		JOIN folders f ON f.id = i.folder_id
		WHERE i.run_id = $1 AND i.platform = $2 AND i.service = $3`

	err := r.db.GetContext(ctx, &node, indexed, runID, platform, service)
	if err == nil {
		return &node, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup service index: %w", err)
	}

	// Index miss: walk the tree and repair the index.
	scan := `
		SELECT s.id, s.name, s.level, s.platform, s.service, s.parent_id, s.created_at
		FROM folders s
		JOIN folders p ON s.parent_id = p.id
		WHERE p.parent_id = $1
		  AND p.level = 'platform'
		  AND s.level = 'service'
		  AND s.platform = $2
		  AND s.service = $3`

	err = r.db.GetContext(ctx, &node, scan, runID, platform, service)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan folder tree: %w", err)
	}

	if repairErr := upsertServiceIndex(ctx, r.db, runID, platform, service, node.ID); repairErr != nil {
		return nil, fmt.Errorf("repair service index: %w", repairErr)
	}
	return &node, nil
}

// ensureChild returns the child of parent with the given level and codes,
// inserting it when absent. A concurrent insert is absorbed by ON CONFLICT DO
// NOTHING rather than raised, so a lost race never aborts an enclosing
// transaction; zero rows back means re-read the winner's row.
func ensureChild(ctx context.Context, q sqlx.ExtContext, parent, child *domain.FolderNode) (*domain.FolderNode, error) {
	child.ParentID = &parent.ID
	if err := child.ValidateChildOf(parent); err != nil {
		return nil, err
	}

	existing, err := findChild(ctx, q, child)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	insert := `
		INSERT INTO folders (id, name, level, platform, service, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (parent_id, level, platform, service)
			WHERE level IN ('platform', 'service') DO NOTHING
		RETURNING ` + folderSelectList

	var created domain.FolderNode
	err = sqlx.GetContext(ctx, q, &created, insert,
		uuid.New(), child.Name, child.Level, child.Platform, child.Service, child.ParentID,
	)
	if err == nil {
		return &created, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; the winner's row is now visible.
		return findChild(ctx, q, child)
	}
	return nil, fmt.Errorf("insert folder node: %w", err)
}

func findChild(ctx context.Context, q sqlx.QueryerContext, child *domain.FolderNode) (*domain.FolderNode, error) {
	query := `
		SELECT ` + folderSelectList + `
		FROM folders
		WHERE parent_id = $1 AND level = $2 AND platform = $3 AND service = $4`

	var node domain.FolderNode
	err := sqlx.GetContext(ctx, q, &node, query, child.ParentID, child.Level, child.Platform, child.Service)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find folder node: %w", err)
	}
	return &node, nil
}

func upsertServiceIndex(ctx context.Context, q sqlx.ExtContext, runID uuid.UUID, platform, service string, folderID uuid.UUID) error {
	query := `
		INSERT INTO service_folder_index (run_id, platform, service, folder_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, platform, service) DO UPDATE SET folder_id = EXCLUDED.folder_id`

	if _, err := q.ExecContext(ctx, query, runID, platform, service, folderID); err != nil {
		return fmt.Errorf("upsert service folder index: %w", err)
	}
	return nil
}
