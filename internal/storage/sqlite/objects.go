package sqlite

import (
	"context"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// AddObject implements C5's add_object: inserts one tsk_objects row and
// returns the generated obj_id. parentObjID == 0 encodes "no parent".
func (s *Store) AddObject(ctx context.Context, tx storage.Tx, parentObjID int64, objType types.ObjectType) (int64, error) {
	exec := s.conn(tx)

	var parArg any
	if parentObjID != 0 {
		parArg = parentObjID
	}

	res, err := s.execContext(ctx, exec, `INSERT INTO tsk_objects (par_obj_id, type) VALUES (?, ?)`, parArg, int(objType))
	if err != nil {
		return 0, err
	}
	objID, err := res.LastInsertId()
	if err != nil {
		return 0, storage.WrapDBError(err, "sqlite: read last insert id")
	}

	if parentObjID != 0 {
		s.hc.set(parentObjID)
	}
	return objID, nil
}

// GetContentByID implements get_content_by_id. Results are memoised in the
// per-case frequently-used-content cache (§3, §9): data sources, file
// systems, volumes, and virtual-directory roots are looked up repeatedly
// while walking a case, and the cache is invalidated only at Close.
func (s *Store) GetContentByID(ctx context.Context, tx storage.Tx, objID int64) (*types.Object, error) {
	s.frequentMu.Lock()
	if obj, ok := s.frequentCache[objID]; ok {
		s.frequentMu.Unlock()
		cp := *obj
		return &cp, nil
	}
	s.frequentMu.Unlock()

	exec := s.conn(tx)
	var parArg any
	var typ int
	row := exec.QueryRowContext(ctx, `SELECT par_obj_id, type FROM tsk_objects WHERE obj_id = ?`, objID)
	var par *int64
	if err := row.Scan(&parArg, &typ); err != nil {
		return nil, storage.WrapDBErrorf(err, "sqlite: get content by id %d", objID)
	}
	if v, ok := parArg.(int64); ok {
		par = &v
	}
	obj := &types.Object{ObjID: objID, ParObjID: par, Type: types.ObjectType(typ)}

	s.frequentMu.Lock()
	s.frequentCache[objID] = obj
	s.frequentMu.Unlock()

	cp := *obj
	return &cp, nil
}

// rootParentTypes are the object types whose children are, per §4.3's
// invariant, themselves root directories.
var rootParentTypes = []types.ObjectType{
	types.ObjectTypeImage, types.ObjectTypeVolumeSystem, types.ObjectTypeVolume, types.ObjectTypeFileSystem,
}

// RootDirectoryID implements §4.3's root-directory cache contract: resolves
// and memoises, per (dataSourceObjID, fileSystemObjID), which obj_id is the
// root virtual directory. Two caches back it per §9: rootExact (a strict
// map, checked first) and rootDirLRU (the 200,000-entry/5-minute bounded
// cache); a miss in both falls through to the database and populates both.
func (s *Store) RootDirectoryID(ctx context.Context, tx storage.Tx, dataSourceObjID, fileSystemObjID int64) (int64, error) {
	key := rootKey{dataSourceObjID: dataSourceObjID, fileSystemObjID: fileSystemObjID}

	s.rootExactMu.Lock()
	if id, ok := s.rootExact[key]; ok {
		s.rootExactMu.Unlock()
		return id, nil
	}
	s.rootExactMu.Unlock()

	if id, ok := s.rootDirLRU.Get(key); ok {
		s.rootExactMu.Lock()
		s.rootExact[key] = id
		s.rootExactMu.Unlock()
		return id, nil
	}

	exec := s.conn(tx)
	var objID int64
	err := exec.QueryRowContext(ctx, `
		SELECT f.obj_id
		FROM tsk_files f
		JOIN tsk_objects o ON o.obj_id = f.obj_id
		JOIN tsk_objects po ON po.obj_id = o.par_obj_id
		WHERE f.data_source_obj_id = ? AND f.fs_obj_id = ?
			AND po.type IN (?, ?, ?, ?)
		ORDER BY f.obj_id LIMIT 1`,
		dataSourceObjID, fileSystemObjID,
		int(rootParentTypes[0]), int(rootParentTypes[1]), int(rootParentTypes[2]), int(rootParentTypes[3]),
	).Scan(&objID)
	if err != nil {
		return 0, storage.WrapDBErrorf(err, "sqlite: resolve root directory for file system %d", fileSystemObjID)
	}

	s.setRootDirectoryID(key, objID)
	return objID, nil
}

// setRootDirectoryID populates both root-directory caches; called here and
// by AddFileSystem at creation time so a lookup immediately after adding a
// file system never has to hit the database.
func (s *Store) setRootDirectoryID(key rootKey, objID int64) {
	s.rootExactMu.Lock()
	s.rootExact[key] = objID
	s.rootExactMu.Unlock()
	s.rootDirLRU.Add(key, objID)
}

// GetChildrenInfo implements get_children_info.
func (s *Store) GetChildrenInfo(ctx context.Context, tx storage.Tx, parentObjID int64) ([]types.Object, error) {
	exec := s.conn(tx)
	rows, err := exec.QueryContext(ctx, `SELECT obj_id, type FROM tsk_objects WHERE par_obj_id = ?`, parentObjID)
	if err != nil {
		return nil, storage.WrapDBError(err, "sqlite: get children info")
	}
	defer func() { _ = rows.Close() }()

	var out []types.Object
	for rows.Next() {
		var objID int64
		var typ int
		if err := rows.Scan(&objID, &typ); err != nil {
			return nil, storage.WrapDBError(err, "sqlite: scan child")
		}
		p := parentObjID
		out = append(out, types.Object{ObjID: objID, ParObjID: &p, Type: types.ObjectType(typ)})
	}
	return out, rows.Err()
}

// GetParentInfo implements get_parent_info.
func (s *Store) GetParentInfo(ctx context.Context, tx storage.Tx, objID int64) (*types.Object, error) {
	obj, err := s.GetContentByID(ctx, tx, objID)
	if err != nil {
		return nil, err
	}
	if obj.ParObjID == nil {
		return nil, nil
	}
	return s.GetContentByID(ctx, tx, *obj.ParObjID)
}

// HasChildren reports the has-children bitset's answer for objID (§4.3).
func (s *Store) HasChildren(ctx context.Context, objID int64) (bool, error) {
	return s.hc.has(ctx, objID)
}
