// Package storage defines the backend-agnostic surface every SKCD storage
// engine implements: the object-graph store, file store, blackboard,
// scoring aggregator, and tag store (C5–C9), plus the transaction façade
// (C10) that every mutating call routes through. Two concrete
// implementations exist: internal/storage/sqlite (embedded) and
// internal/storage/postgres (networked); internal/storage/factory picks
// between them from a connection descriptor.
package storage

import (
	"context"

	"github.com/sk8/skcd/internal/types"
)

// Backend identifies which engine a case handle is backed by.
type Backend int

const (
	BackendEmbedded Backend = iota + 1
	BackendNetworked
)

// SchemaVersion is a (major, minor) pair, e.g. CURRENT = (9, 7).
type SchemaVersion struct {
	Major int
	Minor int
}

// Compare returns -1, 0, 1 as v is less than, equal to, or greater than o.
func (v SchemaVersion) Compare(o SchemaVersion) int {
	if v.Major != o.Major {
		if v.Major < o.Major {
			return -1
		}
		return 1
	}
	if v.Minor != o.Minor {
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	}
	return 0
}

func (v SchemaVersion) String() string {
	return sprintVersion(v.Major, v.Minor)
}

// CURRENT is the schema version this module implements (§4.1).
var CURRENT = SchemaVersion{Major: 9, Minor: 7}

// Case is a single open case-handle: one logical case, one connection pool,
// one lock manager, one has-children bitset, one event bus, and one backend
// (embedded or networked). It is the thing that owns all §9 "global mutable
// state" per-case rather than as process-wide singletons.
type Case interface {
	Backend() Backend

	// Begin opens a transaction per §4.10: acquires the write lock (no-op on
	// networked), borrows a pooled connection, and returns a handle that
	// every store operation below must be called through.
	Begin(ctx context.Context) (Tx, error)

	ObjectStore
	DataSourceStore
	FileStore
	Blackboard
	ScoringAggregator
	TagStore

	// Close tears the case down: closes the pool and releases the lock file.
	// An embedded case's has-children populate worker is not waited for.
	Close() error
}

// VersionReporter is an optional capability both backends implement,
// reporting the case's currently-stored schema version for operational
// tooling such as cmd/skcd-migrate.
type VersionReporter interface {
	SchemaVersion(ctx context.Context) (SchemaVersion, error)
}

// Tx is the transaction façade (C10). Every store method above that mutates
// data takes a Tx; read-only accessors may be called with a nil Tx, in which
// case the backend uses an ad-hoc connection outside any transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// ThreadID is the opaque identifier of the owning goroutine/thread,
	// recorded for the façade's diagnostic "who holds the lock" set.
	ThreadID() int64
}

// ObjectStore is C5.
type ObjectStore interface {
	AddObject(ctx context.Context, tx Tx, parentObjID int64, objType types.ObjectType) (int64, error)
	GetContentByID(ctx context.Context, tx Tx, objID int64) (*types.Object, error)
	GetChildrenInfo(ctx context.Context, tx Tx, parentObjID int64) ([]types.Object, error)
	GetParentInfo(ctx context.Context, tx Tx, objID int64) (*types.Object, error)
	HasChildren(ctx context.Context, objID int64) (bool, error)

	// RootDirectoryID implements §4.3's root-directory cache contract:
	// resolves the root virtual-directory obj_id for a (dataSourceObjID,
	// fileSystemObjID) pair, memoising the answer.
	RootDirectoryID(ctx context.Context, tx Tx, dataSourceObjID, fileSystemObjID int64) (int64, error)
}

// DataSourceStore roots a case's object forest: data sources and the
// image/volume-system/volume/pool/file-system chain beneath them (§3, §6.4's
// "pool / volume / VS / FS / image-info / image-name inserts"). Every
// operation here creates the object's tsk_objects row and its type-specific
// info-table row together, and AddDataSource additionally reloads the
// has-children bitset synchronously (§4.3).
type DataSourceStore interface {
	AddDataSource(ctx context.Context, tx Tx, ds *types.DataSource) (int64, error)
	AddImage(ctx context.Context, tx Tx, dataSourceObjID int64, img *types.Image) (int64, error)
	AddVolumeSystem(ctx context.Context, tx Tx, parentObjID int64, vs *types.VolumeSystem) (int64, error)
	AddVolume(ctx context.Context, tx Tx, parentObjID int64, v *types.Volume) (int64, error)
	AddPool(ctx context.Context, tx Tx, parentObjID int64, p *types.Pool) (int64, error)
	AddFileSystem(ctx context.Context, tx Tx, parentObjID, dataSourceObjID int64, fs *types.FileSystem) (int64, error)

	// DeleteDataSource implements §3's lifecycle rule: cascades the delete
	// along par_obj_id through the data source's whole subtree, plus any
	// OS-account that becomes orphaned as a result (testable property #1).
	DeleteDataSource(ctx context.Context, tx Tx, dataSourceObjID int64) error
}

// FileStore is C6.
type FileStore interface {
	InsertFile(ctx context.Context, tx Tx, f *types.File) error
	InsertLocalPath(ctx context.Context, tx Tx, p *types.LocalPath) error
	InsertLayoutRange(ctx context.Context, tx Tx, r *types.LayoutRange) error

	// UpdateDerivedFile implements update_derived_file (§4.4): preserves
	// identity (obj_id) and replaces type, flags, size, times, and MIME
	// type; newLocalPath replaces the overlay tsk_files_path row in place
	// (empty string leaves the existing path column untouched).
	UpdateDerivedFile(ctx context.Context, tx Tx, f *types.File, newLocalPath string) error
	GetFileByID(ctx context.Context, tx Tx, objID int64) (*types.File, error)
	GetFilesByParent(ctx context.Context, tx Tx, parentPath string, dataSourceObjID int64) ([]*types.File, error)

	// InsertCarvedFile inserts a carved file, transparently rotating the
	// $CarvedFiles subfolder per §4.4 when the current one is full. rootID
	// identifies the nearest file-system/volume/image ancestor that the
	// $CarvedFiles directory hangs off of.
	InsertCarvedFile(ctx context.Context, tx Tx, rootID int64, f *types.File, ranges []types.LayoutRange) error
}

// Blackboard is C7.
type Blackboard interface {
	AddDataArtifact(ctx context.Context, tx Tx, obj *types.Artifact) (int64, error)
	AddAnalysisResult(ctx context.Context, tx Tx, obj *types.Artifact, result *types.AnalysisResult) (int64, error)
	AddAttributes(ctx context.Context, tx Tx, attrs []types.Attribute) error
	GetArtifactsByType(ctx context.Context, tx Tx, artifactTypeID int64, dataSourceObjID *int64) ([]*types.Artifact, error)
	GetAttributesByArtifact(ctx context.Context, tx Tx, artifactID int64) ([]types.Attribute, error)

	// DeleteAnalysisResult implements §4.6/§4.10 item 3's deletion path:
	// removes the result's tsk_analysis_results row, its blackboard_artifacts
	// and tsk_objects rows, then re-scores the object it was about
	// (testable property #4, scenario S3) and buffers the deleted-result
	// event for commit-time firing.
	DeleteAnalysisResult(ctx context.Context, tx Tx, artifactObjID, objID, dataSourceObjID int64) error
}

// ScoringAggregator is C8.
type ScoringAggregator interface {
	UpdateAggregateScoreAfterDeletion(ctx context.Context, tx Tx, objID, dataSourceObjID int64) error
	GetAggregateScore(ctx context.Context, tx Tx, objID int64) (*types.AggregateScore, error)
}

// TagStore is C9.
type TagStore interface {
	AddTagName(ctx context.Context, tx Tx, name *types.TagName) (int64, error)
	TagContent(ctx context.Context, tx Tx, tag *types.Tag) (int64, error)
	TagArtifact(ctx context.Context, tx Tx, tag *types.Tag) (int64, error)
	GetAllContentTags(ctx context.Context, tx Tx) ([]types.Tag, error)
	GetContentTagsByDataSource(ctx context.Context, tx Tx, dataSourceObjID int64) ([]types.Tag, error)
}

func sprintVersion(major, minor int) string {
	if minor == 0 {
		return itoa(major)
	}
	return itoa(major) + "." + itoa(minor)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
