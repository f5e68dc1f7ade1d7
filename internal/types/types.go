// Package types defines the SKCD data model: the tagged-variant content
// model described in §9 of the design notes, modeling what the native
// Content/AbstractFile/FsContent/... inheritance hierarchy represents on
// disk, discriminated by tsk_objects.type and tsk_files.type.
package types

import "time"

// ObjectType discriminates rows in tsk_objects. It is the tagged-variant
// replacement for the native Content hierarchy.
type ObjectType int

const (
	ObjectTypeImage ObjectType = iota + 1
	ObjectTypeVolumeSystem
	ObjectTypeVolume
	ObjectTypePool
	ObjectTypeFileSystem
	ObjectTypeAbstractFile
	ObjectTypeArtifact
	ObjectTypeReport
	ObjectTypeOsAccount
	ObjectTypeHostAddress
	ObjectTypeUnsupported
)

// Object is a row of tsk_objects, the parent/child spine (the forest) that
// every other entity hangs off of.
type Object struct {
	ObjID    int64
	ParObjID *int64 // nil only for data-source roots and reports
	Type     ObjectType
}

// FileKind discriminates the abstract-file subvariants that the native
// FsContent/File/Directory/LayoutFile/DerivedFile/LocalFile hierarchy used to
// carry as separate Java classes.
type FileKind int

const (
	FileKindFileSystemFile FileKind = iota + 1
	FileKindVirtualDirectory
	FileKindLocalDirectory
	FileKindLocalFile
	FileKindDerivedFile
	FileKindCarved
	FileKindUnallocatedBlocks
	FileKindLayoutFile
	FileKindSlack
)

// KnownStatus classifies a file's hash-lookup disposition.
type KnownStatus int

const (
	KnownStatusUnknown KnownStatus = iota
	KnownStatusKnown
	KnownStatusKnownBad
)

// CollectedStatus tracks whether file content bytes were actually acquired.
type CollectedStatus int

const (
	CollectedStatusUnknown CollectedStatus = iota
	CollectedStatusNotCollected
	CollectedStatusCollected
)

// DirType and MetaType mirror the four parallel enums inherited from the
// native layer (TSK_FS_NAME_TYPE_ENUM / TSK_FS_META_TYPE_ENUM); their integer
// encoding is part of the on-disk contract and must not be renumbered.
type DirType int32

// MetaType int32
type MetaType int32

// DirFlag and MetaFlag are bitmask enums, also bit-exact with the native
// layer.
type DirFlag int32
type MetaFlag int32

// File is a tsk_files row. Every File has a matching Object of type
// ObjectTypeAbstractFile (testable property #2).
type File struct {
	ObjID           int64
	FsObjID         *int64 // nil unless this is a file-system file
	DataSourceObjID int64
	ParentPath      string // trailing '/'; root is "/"
	Name            string
	Extension       string // lower-cased suffix after the final '.', or ""

	Kind       FileKind
	DirType    DirType
	MetaType   MetaType
	DirFlags   DirFlag
	MetaFlags  MetaFlag
	HasPath    bool

	Size int64 // clamped to >= 0

	Ctime int64 // created
	Crtime int64 // changed (metadata change time)
	Atime int64 // accessed
	Mtime int64 // modified

	MD5    string // lower-case hex, empty if unset
	SHA1   string
	SHA256 string

	Known KnownStatus

	MimeType *string

	OwnerUID      string // sentinel "-" when unknown
	OsAccountObjID *int64

	Collected CollectedStatus
}

// LocalPath is a tsk_files_path row: the overlay for files whose bytes live
// outside the database (derived, local, some carved files).
type LocalPath struct {
	ObjID        int64
	Path         string
	EncodingType int
}

// LayoutRange is a tsk_file_layout row: one byte range of a carved,
// unallocated, or layout file, in sequence order.
type LayoutRange struct {
	ObjID      int64
	ByteStart  int64
	ByteLen    int64
	Sequence   int64
}

// DataSource is a parentless object: a parsed image or a logical-files root.
type DataSource struct {
	ObjID                   int64
	DeviceID                string // ASCII-printable, unique across cases
	TimeZone                string
	AcquisitionDetails      string
	AcquisitionToolName     *string
	AcquisitionToolVersion  *string
	AcquisitionToolSettings *string // JSON; may contain IMAGE_PASSWORD_KEY
	AddedAt                 time.Time
	HostObjID               *int64
}

// Image is a tsk_image_info row: the root of a parsed disk image's object
// tree, hung directly off its DataSource.
type Image struct {
	ObjID       int64
	Type        int
	SectorSize  int
	TimeZone    string
	Size        int64
	MD5         string
	SHA1        string
	SHA256      string
	DisplayName string
	Path        string // tsk_image_names, one row per image (sequence 0)
}

// VolumeSystem is a tsk_vs_info row: a partition table parsed from an image
// or pool.
type VolumeSystem struct {
	ObjID     int64
	Type      int
	ImgOffset int64
	BlockSize int
}

// Volume is a tsk_vs_parts row: one partition of a volume system.
type Volume struct {
	ObjID  int64
	Addr   int64
	Start  int64
	Length int64
	Desc   string
	Flags  int
}

// Pool is a tsk_pool_info row: a multi-device storage pool (e.g. APFS,
// LVM) sitting between a volume and the file systems it contains.
type Pool struct {
	ObjID    int64
	PoolType int
}

// FileSystem is a tsk_fs_info row: a parsed file system hanging off an
// image, volume, or pool, the anchor that file rows reference via
// File.FsObjID.
type FileSystem struct {
	ObjID           int64
	DataSourceObjID int64
	ImgOffset       int64
	Type            int
	BlockSize       int
	BlockCount      int64
	RootInum        int64
	FirstInum       int64
	LastInum        int64
}

// Examiner is a tsk_examiners row: the host operating-system account name
// under which writes are performed (§4.7), resolved once at case-open and
// attached to every tag insert.
type Examiner struct {
	ExaminerID int64
	LoginName  string
	FullName   string
}

// ArtifactCategory is derived from the artifact's type.
type ArtifactCategory int

const (
	ArtifactCategoryDataArtifact ArtifactCategory = iota + 1
	ArtifactCategoryAnalysisResult
)

// ReviewStatus tracks analyst disposition of an artifact.
type ReviewStatus int

const (
	ReviewStatusUndecided ReviewStatus = iota
	ReviewStatusApproved
	ReviewStatusRejected
)

// ArtifactType is a row of blackboard_artifact_types, populated at case-open
// by an external collaborator (§4.5); the core only owns the schema and the
// per-type dispatch.
type ArtifactType struct {
	ArtifactTypeID int64
	TypeName       string
	DisplayName    string
	Category       ArtifactCategory
}

// Artifact is a blackboard_artifacts row.
type Artifact struct {
	ArtifactID      int64
	ObjID           int64 // the file/object the artifact is about
	ArtifactObjID   int64 // its own tsk_objects row id
	DataSourceObjID int64
	ArtifactTypeID  int64
	ReviewStatus    ReviewStatus
}

// ValueType discriminates which of an Attribute's five value columns holds
// the payload.
type ValueType int

const (
	ValueTypeText ValueType = iota + 1 // also used for JSON
	ValueTypeByte
	ValueTypeInt32
	ValueTypeInt64 // also used for date-time
	ValueTypeDouble
)

// Attribute is a blackboard_attributes row, keyed by (ArtifactID,
// AttributeTypeID, ValueType). Exactly one value field is populated.
type Attribute struct {
	ArtifactID      int64
	AttributeTypeID int64
	ValueType       ValueType

	ValueText   string
	ValueByte   []byte
	ValueInt32  int32
	ValueInt64  int64
	ValueDouble float64

	// Source is a comma-separated list of contributing source-module
	// identifiers; see §4.7 for the merge-on-conflict rule.
	Source string
}

// Significance and Priority classify an analysis result's conclusion.
type Significance int

const (
	SignificanceUnknown Significance = iota
	SignificanceNone
	SignificanceLikelyNone
	SignificanceLikelyNotable
	SignificanceNotable
)

// Rank orders significances from least to most severe; higher wins
// aggregation ties per §4.6/testable property #4.
func (s Significance) Rank() int { return int(s) }

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityOverride
)

// AnalysisResult extends an Artifact of category AnalysisResult one-to-one.
type AnalysisResult struct {
	ArtifactObjID   int64
	Conclusion      string
	Significance    Significance
	Priority        Priority
	Configuration   string
	Justification   string
	IgnoreScore     bool
}

// IsBare reports whether the result is a "bare" analysis result per §4.5:
// unknown significance, normal priority, and no text fields set — such a
// result need not have a tsk_analysis_results row at all.
func (r AnalysisResult) IsBare() bool {
	return r.Significance == SignificanceUnknown &&
		r.Priority == PriorityNormal &&
		r.Conclusion == "" && r.Configuration == "" && r.Justification == ""
}

// AggregateScore is one tsk_aggregate_score row: the highest-significance
// analysis-result significance observed so far for an object.
type AggregateScore struct {
	ObjID           int64
	DataSourceObjID int64
	Significance    Significance
	Priority        Priority
}

// TagName is a tag_names row: a display name with color and optional
// membership in a tag set.
type TagName struct {
	TagNameID   int64
	DisplayName string
	Color       string
	Known       KnownStatus
	TagSetID    *int64
	Rank        int
}

// Tag is a content_tags or blackboard_artifact_tags row.
type Tag struct {
	TagID      int64
	TagNameID  int64
	ObjID      int64 // the tagged content's obj_id, or an artifact tag's artifact_id
	ExaminerID *int64
	// LoginName is the resolved tsk_examiners.login_name for ExaminerID,
	// populated by the tag-reading accessors (§4.7); empty if ExaminerID
	// is nil or the examiner row no longer exists.
	LoginName       string
	Comment         string
	BeginByteOffset *int64
	EndByteOffset   *int64
}

// ClampSize enforces §4.4's non-negative invariant on file sizes.
func ClampSize(size int64) int64 {
	if size < 0 {
		return 0
	}
	return size
}
