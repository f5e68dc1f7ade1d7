package postgres

import (
	"context"
	"strconv"
	"sync"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

const (
	carvedFilesDirName = "$CarvedFiles"
	carvedSubfolderCap = 2000
)

// carvedDirState mirrors the embedded backend's per-root bookkeeping; under
// the networked backend several processes may race to fill the same
// subfolder, so the cap is soft here too (§4.4 documents this as a known
// approximation on both backends).
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

// InsertCarvedFile mirrors the embedded backend's carved-file folder
// rotation (§4.4, testable property #7, scenario S5), using pgTx.reopen to
// commit-and-reopen the insert transaction around the new subfolder's own
// transaction.
func (s *Store) InsertCarvedFile(ctx context.Context, tx storage.Tx, rootID int64, f *types.File, ranges []types.LayoutRange) error {
	s.carved.mu.Lock()
	state, err := s.carvedStateLocked(ctx, tx, rootID, f.DataSourceObjID)
	if err != nil {
		s.carved.mu.Unlock()
		return err
	}

	if state.count >= carvedSubfolderCap {
		if t, ok := tx.(*pgTx); ok && t != nil {
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
		WHERE o.par_obj_id = $1 AND f.name = $2`, parentObjID, name).Scan(&objID)
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

func (s *Store) findHighestNumberedChild(ctx context.Context, tx storage.Tx, carvedDirObjID int64) (subfolderInfo, bool, error) {
	exec := s.conn(tx)
	rows, err := exec.QueryContext(ctx, `
		SELECT f.obj_id, f.name FROM tsk_files f
		JOIN tsk_objects o ON o.obj_id = f.obj_id
		WHERE o.par_obj_id = $1`, carvedDirObjID)
	if err != nil {
		return subfolderInfo{}, false, storage.WrapDBError(err, "postgres: find carved subfolders")
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
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM tsk_objects WHERE par_obj_id = $1`, best.objID).Scan(&count); err != nil {
		return subfolderInfo{}, false, storage.WrapDBError(err, "postgres: count carved subfolder children")
	}
	best.childCount = count
	return best, true, nil
}
