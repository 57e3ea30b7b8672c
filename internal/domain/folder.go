package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FolderLevel identifies the depth of a node in the result hierarchy.
type FolderLevel string

const (
	FolderLevelRun      FolderLevel = "run"
	FolderLevelPlatform FolderLevel = "platform"
	FolderLevelService  FolderLevel = "service"
	FolderLevelJob      FolderLevel = "job"
)

// childLevel maps each level to the one directly below it.
var childLevel = map[FolderLevel]FolderLevel{
	FolderLevelRun:      FolderLevelPlatform,
	FolderLevelPlatform: FolderLevelService,
	FolderLevelService:  FolderLevelJob,
}

// IsValid reports whether l is a recognised folder level.
func (l FolderLevel) IsValid() bool {
	switch l {
	case FolderLevelRun, FolderLevelPlatform, FolderLevelService, FolderLevelJob:
		return true
	}
	return false
}

// Child returns the level directly below l. ok is false for the job level,
// which has no children.
func (l FolderLevel) Child() (FolderLevel, bool) {
	next, ok := childLevel[l]
	return next, ok
}

// FolderNode is one entry in the run -> platform -> service -> job hierarchy.
// Platform and Service are empty above the level that introduces them and are
// inherited unchanged down the chain.
type FolderNode struct {
	ID        uuid.UUID   `db:"id"         json:"id"`
	Name      string      `db:"name"       json:"name"`
	Level     FolderLevel `db:"level"      json:"level"`
	Platform  string      `db:"platform"   json:"platform,omitempty"`
	Service   string      `db:"service"    json:"service,omitempty"`
	ParentID  *uuid.UUID  `db:"parent_id"  json:"parent_id,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// ValidateChildOf checks that n can sit directly under parent: the level must
// be exactly one step down and platform/service codes must be inherited
// unchanged once set.
func (n *FolderNode) ValidateChildOf(parent *FolderNode) error {
	want, ok := parent.Level.Child()
	if !ok {
		return fmt.Errorf("folder level %q cannot have children", parent.Level)
	}
	if n.Level != want {
		return fmt.Errorf("folder level %q cannot sit under %q", n.Level, parent.Level)
	}
	if parent.Platform != "" && n.Platform != parent.Platform {
		return fmt.Errorf("platform %q does not match parent platform %q", n.Platform, parent.Platform)
	}
	if parent.Service != "" && n.Service != parent.Service {
		return fmt.Errorf("service %q does not match parent service %q", n.Service, parent.Service)
	}
	return nil
}

// ServiceFolderIndex maps (run, platform, service) to the service-level folder
// so the ingestion path never has to walk the tree.
type ServiceFolderIndex struct {
	RunID     uuid.UUID `db:"run_id"     json:"run_id"`
	Platform  string    `db:"platform"   json:"platform"`
	Service   string    `db:"service"    json:"service"`
	FolderID  uuid.UUID `db:"folder_id"  json:"folder_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
