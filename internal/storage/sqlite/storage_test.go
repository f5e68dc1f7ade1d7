package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(context.Background(), Config{Path: filepath.Join(dir, "case.skcd")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newDataSource inserts a parentless object to stand in for a data source
// root, returning its obj_id.
func newDataSource(t *testing.T, ctx context.Context, s *Store, tx storage.Tx) int64 {
	t.Helper()
	id, err := s.AddObject(ctx, tx, 0, types.ObjectTypeImage)
	require.NoError(t, err)
	return id
}

func TestAddObjectAndGetChildrenInfo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	root := newDataSource(t, ctx, s, tx)
	child, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)

	children, err := s.GetChildrenInfo(ctx, tx, root)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, child, children[0].ObjID)

	parent, err := s.GetParentInfo(ctx, tx, child)
	require.NoError(t, err)
	require.NotNil(t, parent)
	require.Equal(t, root, parent.ObjID)

	require.NoError(t, tx.Commit(ctx))

	has, err := s.HasChildren(ctx, root)
	require.NoError(t, err)
	require.True(t, has)

	has, err = s.HasChildren(ctx, child)
	require.NoError(t, err)
	require.False(t, has)
}

// TestInsertFileMatchesObject covers testable property #2: every File has a
// matching Object of type ObjectTypeAbstractFile.
func TestInsertFileMatchesObject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)

	objID, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)

	f := &types.File{
		ObjID:           objID,
		DataSourceObjID: root,
		ParentPath:      "/",
		Name:            "report.PDF",
		Extension:       types.ExtractExtension("report.PDF"),
		Kind:            types.FileKindFileSystemFile,
		Size:            -5, // must clamp
	}
	require.NoError(t, s.InsertFile(ctx, tx, f))
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetFileByID(ctx, nil, objID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Size)
	require.Equal(t, "-", got.OwnerUID)

	obj, err := s.GetContentByID(ctx, nil, objID)
	require.NoError(t, err)
	require.Equal(t, types.ObjectTypeAbstractFile, obj.Type)
}

// TestAggregateScoreMonotone covers testable property #4 / scenario S3: the
// aggregate score tracks the highest-significance analysis result seen, and
// recomputes correctly after a deletion.
func TestAggregateScoreMonotone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)
	target, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	addResult := func(sig types.Significance) {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		art := &types.Artifact{ObjID: target, DataSourceObjID: root, ArtifactTypeID: 1}
		_, err = s.AddAnalysisResult(ctx, tx, art, &types.AnalysisResult{Significance: sig})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
	}

	addResult(types.SignificanceLikelyNotable)
	score, err := s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceLikelyNotable, score.Significance)

	// A lower-significance result must not regress the aggregate.
	addResult(types.SignificanceNone)
	score, err = s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceLikelyNotable, score.Significance)

	// A higher-significance result raises it.
	addResult(types.SignificanceNotable)
	score, err = s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceNotable, score.Significance)

	// Deletion path: only the two lesser results survive, recompute to
	// LikelyNotable (the new max).
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.execContext(ctx, s.conn(tx), `
		DELETE FROM tsk_analysis_results WHERE significance = ?`, int(types.SignificanceNotable))
	require.NoError(t, err)
	require.NoError(t, s.UpdateAggregateScoreAfterDeletion(ctx, tx, target, root))
	require.NoError(t, tx.Commit(ctx))

	score, err = s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceLikelyNotable, score.Significance)
}

// TestAddAttributesMergesSource covers testable property #5 / scenario S4.
func TestAddAttributesMergesSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)
	target, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)
	art := &types.Artifact{ObjID: target, DataSourceObjID: root, ArtifactTypeID: 1}
	artifactID, err := s.AddDataArtifact(ctx, tx, art)
	require.NoError(t, err)

	attr := types.Attribute{ArtifactID: artifactID, AttributeTypeID: 1, ValueType: types.ValueTypeText, ValueText: "hi", Source: "ModA"}
	require.NoError(t, s.AddAttributes(ctx, tx, []types.Attribute{attr}))

	attr.Source = "ModB"
	attr.ValueText = "overwritten, irrelevant on merge"
	require.NoError(t, s.AddAttributes(ctx, tx, []types.Attribute{attr}))

	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetAttributesByArtifact(ctx, nil, artifactID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ModA,ModB", got[0].Source)
	require.Equal(t, "hi", got[0].ValueText) // first-write value retained, not overwritten
}

// TestAddAnalysisResultOmitsBareRow covers testable property #3.
func TestAddAnalysisResultOmitsBareRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)
	target, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)

	art := &types.Artifact{ObjID: target, DataSourceObjID: root, ArtifactTypeID: 1}
	_, err = s.AddAnalysisResult(ctx, tx, art, &types.AnalysisResult{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tsk_analysis_results WHERE artifact_obj_id = ?`, art.ArtifactObjID)
	require.NoError(t, row.Scan(&count))
	require.Zero(t, count)
}

// TestCarvedFileFolderRotation covers testable property #7 / scenario S5: a
// root's $CarvedFiles subfolder rotates once it reaches carvedSubfolderCap.
func TestCarvedFileFolderRotation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)
	require.NoError(t, tx.Commit(ctx))

	insertOne := func() string {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		f := &types.File{DataSourceObjID: root, Name: "carved.bin"}
		require.NoError(t, s.InsertCarvedFile(ctx, tx, root, f, nil))
		parentPath := f.ParentPath
		require.NoError(t, tx.Commit(ctx))
		return parentPath
	}

	first := insertOne()
	require.Equal(t, carvedFilesDirName+"/1/", first)

	s.carved.mu.Lock()
	s.carved.byRoot[root].count = carvedSubfolderCap
	s.carved.mu.Unlock()

	rotated := insertOne()
	require.Equal(t, carvedFilesDirName+"/2/", rotated)
}

// TestTagContentAndQueryByDataSource covers the content-tag lifecycle and
// the data-source-scoped union query.
func TestTagContentAndQueryByDataSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)
	objID, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)
	f := &types.File{ObjID: objID, DataSourceObjID: root, ParentPath: "/", Name: "x", Kind: types.FileKindFileSystemFile}
	require.NoError(t, s.InsertFile(ctx, tx, f))

	tagName := &types.TagName{DisplayName: "Notable"}
	_, err = s.AddTagName(ctx, tx, tagName)
	require.NoError(t, err)

	tag := &types.Tag{ObjID: objID, TagNameID: tagName.TagNameID}
	_, err = s.TagContent(ctx, tx, tag)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tags, err := s.GetContentTagsByDataSource(ctx, nil, root)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, objID, tags[0].ObjID)

	all, err := s.GetAllContentTags(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

// TestSchemaVersionReportsCurrent covers the VersionReporter capability.
func TestSchemaVersionReportsCurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.CURRENT, v)
}

// TestSchemaVersionOnReadOnlyHandle covers the read-only inspect path
// cmd/skcd-migrate uses: opening an already-provisioned case read-only must
// not attempt the CREATE TABLE IF NOT EXISTS a read-only connection rejects.
func TestSchemaVersionOnReadOnlyHandle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "case.skcd")

	s, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ro, err := New(ctx, Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	v, err := ro.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.CURRENT, v)
}

// TestAddDataSourceRootsImageAndFileSystem covers scenario S2: inserting an
// image and a file system at a given offset, then tagging a file under it
// and getting back the current examiner's login name.
func TestAddDataSourceRootsImageAndFileSystem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	ds := &types.DataSource{DeviceID: "dev-1", TimeZone: "UTC", AddedAt: time.Now()}
	dsObjID, err := s.AddDataSource(ctx, tx, ds)
	require.NoError(t, err)

	img := &types.Image{SectorSize: 512, Size: 10_240_000, Path: "/tmp/a.dd", DisplayName: "a.dd"}
	_, err = s.AddImage(ctx, tx, dsObjID, img)
	require.NoError(t, err)

	fs := &types.FileSystem{ImgOffset: 32256}
	fsObjID, err := s.AddFileSystem(ctx, tx, dsObjID, dsObjID, fs)
	require.NoError(t, err)

	rootID, err := s.RootDirectoryID(ctx, tx, dsObjID, fsObjID)
	require.NoError(t, err)

	fileObjID, err := s.AddObject(ctx, tx, rootID, types.ObjectTypeAbstractFile)
	require.NoError(t, err)
	f := &types.File{ObjID: fileObjID, FsObjID: &fsObjID, DataSourceObjID: dsObjID, ParentPath: "/", Name: "doc.txt", Kind: types.FileKindFileSystemFile}
	require.NoError(t, s.InsertFile(ctx, tx, f))

	tagName := &types.TagName{DisplayName: "Reviewed"}
	_, err = s.AddTagName(ctx, tx, tagName)
	require.NoError(t, err)
	tag := &types.Tag{ObjID: fileObjID, TagNameID: tagName.TagNameID}
	_, err = s.TagContent(ctx, tx, tag)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tags, err := s.GetContentTagsByDataSource(ctx, nil, dsObjID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, currentOSUsername(), tags[0].LoginName)

	has, err := s.HasChildren(ctx, dsObjID)
	require.NoError(t, err)
	require.True(t, has)
}

// TestDeleteAnalysisResultRecomputesAggregate covers scenario S3 through the
// real deletion entrypoint: inserting two results then deleting the higher
// one reverts the aggregate to the surviving result's significance.
func TestDeleteAnalysisResultRecomputesAggregate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)
	target, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)

	art1 := &types.Artifact{ObjID: target, DataSourceObjID: root, ArtifactTypeID: 1}
	_, err = s.AddAnalysisResult(ctx, tx, art1, &types.AnalysisResult{Significance: types.SignificanceLikelyNotable})
	require.NoError(t, err)

	art2 := &types.Artifact{ObjID: target, DataSourceObjID: root, ArtifactTypeID: 1}
	_, err = s.AddAnalysisResult(ctx, tx, art2, &types.AnalysisResult{Significance: types.SignificanceNotable})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	score, err := s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceNotable, score.Significance)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DeleteAnalysisResult(ctx, tx, art2.ArtifactObjID, target, root))
	require.NoError(t, tx.Commit(ctx))

	score, err = s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceLikelyNotable, score.Significance)
}

// TestAddAttributesKeepsDistinctValuesSeparate covers testable property #5's
// other half: two attributes sharing (artifact_id, attribute_type_id,
// value_type) but carrying different values must remain separate rows
// rather than collapsing, since the merge key includes the value (§4.7).
func TestAddAttributesKeepsDistinctValuesSeparate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	root := newDataSource(t, ctx, s, tx)
	target, err := s.AddObject(ctx, tx, root, types.ObjectTypeAbstractFile)
	require.NoError(t, err)
	art := &types.Artifact{ObjID: target, DataSourceObjID: root, ArtifactTypeID: 1}
	artifactID, err := s.AddDataArtifact(ctx, tx, art)
	require.NoError(t, err)

	a1 := types.Attribute{ArtifactID: artifactID, AttributeTypeID: 1, ValueType: types.ValueTypeText, ValueText: "foo", Source: "ModA"}
	a2 := types.Attribute{ArtifactID: artifactID, AttributeTypeID: 1, ValueType: types.ValueTypeText, ValueText: "bar", Source: "ModA"}
	require.NoError(t, s.AddAttributes(ctx, tx, []types.Attribute{a1, a2}))
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetAttributesByArtifact(ctx, nil, artifactID)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

// TestDeleteDataSourceCascadesSubtree covers testable property #1's second
// clause: deleting a data source removes its whole object subtree.
func TestDeleteDataSourceCascadesSubtree(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ds := &types.DataSource{DeviceID: "dev-2", AddedAt: time.Now()}
	dsObjID, err := s.AddDataSource(ctx, tx, ds)
	require.NoError(t, err)

	childObjID, err := s.AddObject(ctx, tx, dsObjID, types.ObjectTypeAbstractFile)
	require.NoError(t, err)
	f := &types.File{ObjID: childObjID, DataSourceObjID: dsObjID, ParentPath: "/", Name: "x", Kind: types.FileKindFileSystemFile}
	require.NoError(t, s.InsertFile(ctx, tx, f))
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DeleteDataSource(ctx, tx, dsObjID))
	require.NoError(t, tx.Commit(ctx))

	_, err = s.GetContentByID(ctx, nil, dsObjID)
	require.Error(t, err)
	_, err = s.GetContentByID(ctx, nil, childObjID)
	require.Error(t, err)
}

// TestSequentialBeginsEachGetFreshThreadID covers §4.10's per-transaction
// thread-id bookkeeping: each Begin/Rollback cycle frees its slot so the next
// Begin does not collide with it.
func TestSequentialBeginsEachGetFreshThreadID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	id1 := tx.ThreadID()
	require.NoError(t, tx.Rollback(ctx))

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	id2 := tx2.ThreadID()
	require.NotEqual(t, id1, id2)
	require.NoError(t, tx2.Rollback(ctx))
}
