package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// newTestStore starts a disposable PostgreSQL container and opens a case
// against it, per SPEC_FULL.md §10's plan for networked-backend integration
// coverage. Skipped in -short runs since it needs a Docker daemon.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in -short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("skcd_test"),
		tcpostgres.WithUsername("skcd"),
		tcpostgres.WithPassword("skcd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres testcontainer unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	desc := storage.ConnDescriptor{
		Host:     host,
		Port:     port.Port(),
		User:     "skcd",
		Password: "skcd",
		Database: "skcd_test",
	}

	s, err := New(ctx, Config{Desc: desc})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

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

	require.NoError(t, tx.Commit(ctx))

	has, err := s.HasChildren(ctx, root)
	require.NoError(t, err)
	require.True(t, has)
}

// TestAggregateScoreMonotoneUnderTableLock covers testable property #4 /
// scenario S3, and exercises the §4.6 SHARE ROW EXCLUSIVE locking path that
// only the networked backend takes.
func TestAggregateScoreMonotoneUnderTableLock(t *testing.T) {
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
	addResult(types.SignificanceNone) // must not regress the aggregate

	score, err := s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceLikelyNotable, score.Significance)

	addResult(types.SignificanceNotable)
	score, err = s.GetAggregateScore(ctx, nil, target)
	require.NoError(t, err)
	require.Equal(t, types.SignificanceNotable, score.Significance)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.execContext(ctx, s.conn(tx), `DELETE FROM tsk_analysis_results WHERE significance = $1`, int(types.SignificanceNotable))
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
	require.NoError(t, s.AddAttributes(ctx, tx, []types.Attribute{attr}))
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetAttributesByArtifact(ctx, nil, artifactID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ModA,ModB", got[0].Source)
}

// TestCarvedFileFolderRotation covers testable property #7 / scenario S5
// using pgTx.reopen's commit-and-reopen-on-the-same-handle mechanics.
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

// TestTagContentAndQueryByDataSource covers the content-tag lifecycle and the
// data-source-scoped UNION query.
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

	tagName := &types.TagName{DisplayName: fmt.Sprintf("Notable-%d", objID)}
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
}

// TestAddDataSourceRootsImageAndFileSystem covers scenario S2 on the
// networked backend.
func TestAddDataSourceRootsImageAndFileSystem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	ds := &types.DataSource{DeviceID: fmt.Sprintf("dev-%d", time.Now().UnixNano()), TimeZone: "UTC", AddedAt: time.Now()}
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

	tagName := &types.TagName{DisplayName: fmt.Sprintf("Reviewed-%d", fileObjID)}
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
}

// TestDeleteAnalysisResultRecomputesAggregate covers scenario S3 through the
// real deletion entrypoint on the networked backend.
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

// TestDeleteDataSourceCascadesSubtree covers testable property #1's second
// clause on the networked backend.
func TestDeleteDataSourceCascadesSubtree(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ds := &types.DataSource{DeviceID: fmt.Sprintf("dev-%d", time.Now().UnixNano()), AddedAt: time.Now()}
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

// TestSchemaVersionReportsCurrent covers the VersionReporter capability on
// the provisioned-fresh networked schema.
func TestSchemaVersionReportsCurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.CURRENT, v)
}

// TestConcurrentTransactionsDoNotSelfDeadlock exercises the networked
// backend's lack of a process-wide write lock (§5): two transactions may be
// open at once, unlike the embedded backend.
func TestConcurrentTransactionsDoNotSelfDeadlock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx1.Rollback(ctx))
	require.NoError(t, tx2.Rollback(ctx))
}
