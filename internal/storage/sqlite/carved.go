package sqlite

import (
	"context"
	"strconv"
	"sync"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

const (
	carvedFilesDirName  = "$CarvedFiles"
	carvedSubfolderCap  = 2000
)

// carvedDirState is the per-root bookkeeping named in §9's shared-resources
// list ("the carved-files directory map, guarded"): the $CarvedFiles
// directory's obj_id, the currently-open numbered subfolder, and an
// approximate child count. The counter is not protected across concurrent
// writers targeting the same root; §4.4 documents this as a soft limit.
type carvedDirState struct {
	carvedFilesObjID int64
	subfolderObjID   int64
	subfolderNum     int
	count            int
}

type carvedFilesTracker struct {
	mu     sync.Mutex
	byRoot map[int64]*carvedDirState
}

func newCarvedFilesTracker() *carvedFilesTracker {
	return &carvedFilesTracker{byRoot: make(map[int64]*carvedDirState)}
}

// InsertCarvedFile implements the carved-file folder rotation dance (§4.4,
// testable property #7, scenario S5): the first carved child of a root
// creates the $CarvedFiles directory and its first numbered subfolder; once
// a subfolder reaches carvedSubfolderCap children, the current transaction
// commits, the next subfolder is created, and the insert transaction
// reopens before the carved file itself is inserted.
func (s *Store) InsertCarvedFile(ctx context.Context, tx storage.Tx, rootID int64, f *types.File, ranges []types.LayoutRange) error {
	s.carved.mu.Lock()
	state, err := s.carvedStateLocked(ctx, tx, rootID, f.DataSourceObjID)
	if err != nil {
		s.carved.mu.Unlock()
		return err
	}

	if state.count >= carvedSubfolderCap {
		if t, ok := tx.(*sqliteTx); ok && t != nil {
			if err := t.reopen(ctx); err != nil {
				s.carved.mu.Unlock()
				return err
			}
		}
		newNum := state.subfolderNum + 1
		subObjID, err := s.createCarvedSubfolder(ctx, tx, state.carvedFilesObjID, f.DataSourceObjID, newNum)
		if err != nil {
			s.carved.mu.Unlock()
			return err
		}
		state.subfolderObjID = subObjID
		state.subfolderNum = newNum
		state.count = 0
	}
	subfolderObjID := state.subfolderObjID
	state.count++
	s.carved.mu.Unlock()

	objID, err := s.AddObject(ctx, tx, subfolderObjID, types.ObjectTypeAbstractFile)
	if err != nil {
		return err
	}
	f.ObjID = objID
	f.ParentPath = carvedFilesDirName + "/" + strconv.Itoa(state.subfolderNum) + "/"
	f.Kind = types.FileKindCarved

	if err := s.InsertFile(ctx, tx, f); err != nil {
		return err
	}
	for i := range ranges {
		ranges[i].ObjID = objID
		if err := s.InsertLayoutRange(ctx, tx, &ranges[i]); err != nil {
			return err
		}
	}
	return nil
}

// carvedStateLocked returns the tracked state for rootID, discovering an
// existing $CarvedFiles directory/subfolder from the database on first use
// or creating one from scratch. Callers must hold s.carved.mu.
func (s *Store) carvedStateLocked(ctx context.Context, tx storage.Tx, rootID, dataSourceObjID int64) (*carvedDirState, error) {
	if st, ok := s.carved.byRoot[rootID]; ok {
		return st, nil
	}

	carvedDirID, existing, err := s.findChildByName(ctx, tx, rootID, carvedFilesDirName)
	if err != nil {
		return nil, err
	}
	if !existing {
		carvedDirID, err = s.createVirtualDir(ctx, tx, rootID, dataSourceObjID, carvedFilesDirName, "/")
		if err != nil {
			return nil, err
		}
	}

	subID, subExisting, err := s.findHighestNumberedChild(ctx, tx, carvedDirID)
	if err != nil {
		return nil, err
	}
	num := 1
	count := 0
	if subExisting {
		num = subID.num
		count = subID.childCount
	} else {
		created, err := s.createCarvedSubfolder(ctx, tx, carvedDirID, dataSourceObjID, 1)
		if err != nil {
			return nil, err
		}
		subID.objID = created
	}

	st := &carvedDirState{
		carvedFilesObjID: carvedDirID,
		subfolderObjID:   subID.objID,
		subfolderNum:     num,
		count:            count,
	}
	s.carved.byRoot[rootID] = st
	return st, nil
}

func (s *Store) createVirtualDir(ctx context.Context, tx storage.Tx, parentObjID, dataSourceObjID int64, name, parentPath string) (int64, error) {
	objID, err := s.AddObject(ctx, tx, parentObjID, types.ObjectTypeAbstractFile)
	if err != nil {
		return 0, err
	}
	dir := &types.File{
		ObjID:           objID,
		DataSourceObjID: dataSourceObjID,
		ParentPath:      parentPath,
		Name:            name,
		Kind:            types.FileKindVirtualDirectory,
		HasPath:         false,
		Collected:       types.CollectedStatusNotCollected,
	}
	if err := s.InsertFile(ctx, tx, dir); err != nil {
		return 0, err
	}
	return objID, nil
}

func (s *Store) createCarvedSubfolder(ctx context.Context, tx storage.Tx, carvedDirObjID, dataSourceObjID int64, num int) (int64, error) {
	return s.createVirtualDir(ctx, tx, carvedDirObjID, dataSourceObjID, strconv.Itoa(num), carvedFilesDirName+"/")
}

func (s *Store) findChildByName(ctx context.Context, tx storage.Tx, parentObjID int64, name string) (int64, bool, error) {
	exec := s.conn(tx)
	var objID int64
	err := exec.QueryRowContext(ctx, `
		SELECT f.obj_id FROM tsk_files f
		JOIN tsk_objects o ON o.obj_id = f.obj_id
		WHERE o.par_obj_id = ? AND f.name = ?`, parentObjID, name).Scan(&objID)
	if err != nil {
		return 0, false, nil
	}
	return objID, true, nil
}

type subfolderInfo struct {
	objID      int64
	num        int
	childCount int
}

// findHighestNumberedChild finds the highest-numbered existing subfolder of
// carvedDirObjID and its current child count.
func (s *Store) findHighestNumberedChild(ctx context.Context, tx storage.Tx, carvedDirObjID int64) (subfolderInfo, bool, error) {
	exec := s.conn(tx)
	rows, err := exec.QueryContext(ctx, `
		SELECT f.obj_id, f.name FROM tsk_files f
		JOIN tsk_objects o ON o.obj_id = f.obj_id
		WHERE o.par_obj_id = ?`, carvedDirObjID)
	if err != nil {
		return subfolderInfo{}, false, storage.WrapDBError(err, "sqlite: find carved subfolders")
	}
	defer func() { _ = rows.Close() }()

	best := subfolderInfo{}
	found := false
	for rows.Next() {
		var objID int64
		var name string
		if err := rows.Scan(&objID, &name); err != nil {
			continue
		}
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if !found || n > best.num {
			best = subfolderInfo{objID: objID, num: n}
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return subfolderInfo{}, false, err
	}
	if !found {
		return subfolderInfo{}, false, nil
	}

	var count int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM tsk_objects WHERE par_obj_id = ?`, best.objID).Scan(&count); err != nil {
		return subfolderInfo{}, false, storage.WrapDBError(err, "sqlite: count carved subfolder children")
	}
	best.childCount = count
	return best, true, nil
}
