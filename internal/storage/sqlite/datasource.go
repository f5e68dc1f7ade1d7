package sqlite

import (
	"context"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// AddDataSource implements §3's data-source rooting operation: a parentless
// tsk_objects row plus its data_source_info row. Per §4.3, adding a data
// source reloads the has-children bitset synchronously rather than waiting
// for the next incremental set() (testable property #8).
func (s *Store) AddDataSource(ctx context.Context, tx storage.Tx, ds *types.DataSource) (int64, error) {
	objID, err := s.AddObject(ctx, tx, 0, types.ObjectTypeImage)
	if err != nil {
		return 0, err
	}

	exec := s.conn(tx)
	_, err = s.execContext(ctx, exec, `
		INSERT INTO data_source_info (
			obj_id, device_id, time_zone, acquisition_details,
			acquisition_tool_name, acquisition_tool_version, acquisition_tool_settings,
			added_date_time, host_obj_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		objID, ds.DeviceID, ds.TimeZone, ds.AcquisitionDetails,
		ds.AcquisitionToolName, ds.AcquisitionToolVersion, ds.AcquisitionToolSettings,
		ds.AddedAt.Unix(), ds.HostObjID,
	)
	if err != nil {
		return 0, err
	}
	ds.ObjID = objID

	if err := s.hc.reloadSync(ctx); err != nil {
		return 0, err
	}
	return objID, nil
}

// AddImage implements the image-info/image-name insert (§6.4). Per TSK's
// object model an image IS its data source's root content object rather
// than a separate child of it, so the tsk_image_info/tsk_image_names rows
// are attached directly to dataSourceObjID (the obj_id AddDataSource
// returned) instead of minting a new tsk_objects row.
func (s *Store) AddImage(ctx context.Context, tx storage.Tx, dataSourceObjID int64, img *types.Image) (int64, error) {
	exec := s.conn(tx)
	_, err := s.execContext(ctx, exec, `
		INSERT INTO tsk_image_info (obj_id, type, ssize, tzone, size, md5, sha1, sha256, display_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dataSourceObjID, img.Type, img.SectorSize, img.TimeZone, img.Size,
		nullIfEmpty(img.MD5), nullIfEmpty(img.SHA1), nullIfEmpty(img.SHA256), img.DisplayName)
	if err != nil {
		return 0, err
	}

	if _, err := s.execContext(ctx, exec,
		`INSERT INTO tsk_image_names (obj_id, name, sequence) VALUES (?, ?, 0)`,
		dataSourceObjID, img.Path); err != nil {
		return 0, err
	}

	img.ObjID = dataSourceObjID
	return dataSourceObjID, nil
}

// AddVolumeSystem implements the VS insert (§6.4): a tsk_vs_info row hung off
// an image or pool.
func (s *Store) AddVolumeSystem(ctx context.Context, tx storage.Tx, parentObjID int64, vs *types.VolumeSystem) (int64, error) {
	objID, err := s.AddObject(ctx, tx, parentObjID, types.ObjectTypeVolumeSystem)
	if err != nil {
		return 0, err
	}

	exec := s.conn(tx)
	if _, err := s.execContext(ctx, exec, `
		INSERT INTO tsk_vs_info (obj_id, vs_type, img_offset, block_size) VALUES (?, ?, ?, ?)`,
		objID, vs.Type, vs.ImgOffset, vs.BlockSize); err != nil {
		return 0, err
	}

	vs.ObjID = objID
	return objID, nil
}

// AddVolume implements the volume insert (§6.4): a tsk_vs_parts row hung off
// its volume system.
func (s *Store) AddVolume(ctx context.Context, tx storage.Tx, parentObjID int64, v *types.Volume) (int64, error) {
	objID, err := s.AddObject(ctx, tx, parentObjID, types.ObjectTypeVolume)
	if err != nil {
		return 0, err
	}

	exec := s.conn(tx)
	if _, err := s.execContext(ctx, exec, `
		INSERT INTO tsk_vs_parts (obj_id, addr, start, length, descr, flags) VALUES (?, ?, ?, ?, ?, ?)`,
		objID, v.Addr, v.Start, v.Length, v.Desc, v.Flags); err != nil {
		return 0, err
	}

	v.ObjID = objID
	return objID, nil
}

// AddPool implements the pool insert (§6.4): a tsk_pool_info row hung off a
// volume.
func (s *Store) AddPool(ctx context.Context, tx storage.Tx, parentObjID int64, p *types.Pool) (int64, error) {
	objID, err := s.AddObject(ctx, tx, parentObjID, types.ObjectTypePool)
	if err != nil {
		return 0, err
	}

	exec := s.conn(tx)
	if _, err := s.execContext(ctx, exec,
		`INSERT INTO tsk_pool_info (obj_id, pool_type) VALUES (?, ?)`,
		objID, p.PoolType); err != nil {
		return 0, err
	}

	p.ObjID = objID
	return objID, nil
}

// AddFileSystem implements the FS insert (§6.4): a tsk_fs_info row hung off
// an image, volume, or pool, plus the root virtual directory that anchors
// every file the file system contains (§4.3's root-directory invariant: its
// parent is the file system itself, satisfying "parent is of type ... file
// system"). The new root is seeded into both root-directory caches so the
// very first RootDirectoryID call after this never touches the database.
func (s *Store) AddFileSystem(ctx context.Context, tx storage.Tx, parentObjID, dataSourceObjID int64, fs *types.FileSystem) (int64, error) {
	objID, err := s.AddObject(ctx, tx, parentObjID, types.ObjectTypeFileSystem)
	if err != nil {
		return 0, err
	}

	exec := s.conn(tx)
	if _, err := s.execContext(ctx, exec, `
		INSERT INTO tsk_fs_info (obj_id, data_source_obj_id, img_offset, fs_type, block_size, block_count, root_inum, first_inum, last_inum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		objID, dataSourceObjID, fs.ImgOffset, fs.Type, fs.BlockSize, fs.BlockCount, fs.RootInum, fs.FirstInum, fs.LastInum); err != nil {
		return 0, err
	}
	fs.ObjID = objID
	fs.DataSourceObjID = dataSourceObjID

	rootID, err := s.createVirtualDir(ctx, tx, objID, dataSourceObjID, "", "/")
	if err != nil {
		return 0, err
	}
	// createVirtualDir doesn't know which file system it's rooting; stamp
	// fs_obj_id here so RootDirectoryID's lookup (keyed by fs_obj_id) finds it.
	if _, err := s.execContext(ctx, exec, `UPDATE tsk_files SET fs_obj_id = ? WHERE obj_id = ?`, objID, rootID); err != nil {
		return 0, err
	}
	s.setRootDirectoryID(rootKey{dataSourceObjID: dataSourceObjID, fileSystemObjID: objID}, rootID)

	return objID, nil
}

// DeleteDataSource implements §3's cascade-delete lifecycle rule (testable
// property #1): every tsk_objects row transitively parented by the data
// source is removed, walking children-first so foreign keys never dangle,
// followed by any OS-account instance the data source held and any account
// left with no remaining instance anywhere.
func (s *Store) DeleteDataSource(ctx context.Context, tx storage.Tx, dataSourceObjID int64) error {
	exec := s.conn(tx)

	subtree, err := s.collectSubtree(ctx, exec, dataSourceObjID)
	if err != nil {
		return err
	}

	orphanCandidates, err := s.osAccountsForDataSource(ctx, exec, dataSourceObjID)
	if err != nil {
		return err
	}

	if _, err := s.execContext(ctx, exec,
		`DELETE FROM tsk_os_account_instances WHERE data_source_obj_id = ?`, dataSourceObjID); err != nil {
		return err
	}

	// Children-first so FK references (e.g. tsk_files.obj_id -> tsk_objects)
	// never dangle mid-delete.
	for i := len(subtree) - 1; i >= 0; i-- {
		if err := s.deleteObjectRow(ctx, exec, subtree[i]); err != nil {
			return err
		}
	}

	for _, acctObjID := range orphanCandidates {
		orphaned, err := s.osAccountOrphaned(ctx, exec, acctObjID)
		if err != nil {
			return err
		}
		if orphaned {
			if _, err := s.execContext(ctx, exec,
				`DELETE FROM tsk_os_accounts WHERE os_account_obj_id = ?`, acctObjID); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectSubtree breadth-first walks par_obj_id from rootObjID (inclusive),
// returning every obj_id in traversal order (parents before children).
func (s *Store) collectSubtree(ctx context.Context, exec dbExecutor, rootObjID int64) ([]int64, error) {
	out := []int64{rootObjID}
	frontier := []int64{rootObjID}
	for len(frontier) > 0 {
		var next []int64
		for _, parID := range frontier {
			rows, err := exec.QueryContext(ctx, `SELECT obj_id FROM tsk_objects WHERE par_obj_id = ?`, parID)
			if err != nil {
				return nil, storage.WrapDBError(err, "sqlite: collect data source subtree")
			}
			for rows.Next() {
				var childID int64
				if err := rows.Scan(&childID); err != nil {
					_ = rows.Close()
					return nil, storage.WrapDBError(err, "sqlite: scan subtree child")
				}
				out = append(out, childID)
				next = append(next, childID)
			}
			if err := rows.Err(); err != nil {
				_ = rows.Close()
				return nil, err
			}
			_ = rows.Close()
		}
		frontier = next
	}
	return out, nil
}

// deleteObjectRow removes every row that can reference objID before the
// tsk_objects row itself, covering every table a node in the object forest
// might own.
func (s *Store) deleteObjectRow(ctx context.Context, exec dbExecutor, objID int64) error {
	stmts := []string{
		`DELETE FROM tsk_files_path WHERE obj_id = ?`,
		`DELETE FROM tsk_file_layout WHERE obj_id = ?`,
		`DELETE FROM content_tags WHERE obj_id = ?`,
		`DELETE FROM tsk_aggregate_score WHERE obj_id = ?`,
		`DELETE FROM tsk_files WHERE obj_id = ?`,
		`DELETE FROM tsk_image_info WHERE obj_id = ?`,
		`DELETE FROM tsk_image_names WHERE obj_id = ?`,
		`DELETE FROM tsk_vs_info WHERE obj_id = ?`,
		`DELETE FROM tsk_vs_parts WHERE obj_id = ?`,
		`DELETE FROM tsk_pool_info WHERE obj_id = ?`,
		`DELETE FROM tsk_fs_info WHERE obj_id = ?`,
		`DELETE FROM data_source_info WHERE obj_id = ?`,
		`DELETE FROM blackboard_attributes WHERE artifact_id IN (SELECT artifact_id FROM blackboard_artifacts WHERE artifact_obj_id = ?)`,
		`DELETE FROM blackboard_artifact_tags WHERE artifact_id IN (SELECT artifact_id FROM blackboard_artifacts WHERE artifact_obj_id = ?)`,
		`DELETE FROM tsk_analysis_results WHERE artifact_obj_id = ?`,
		`DELETE FROM tsk_data_artifacts WHERE artifact_obj_id = ?`,
		`DELETE FROM blackboard_artifacts WHERE artifact_obj_id = ?`,
		`DELETE FROM tsk_events WHERE event_description_id IN (SELECT event_description_id FROM tsk_event_descriptions WHERE content_obj_id = ?)`,
		`DELETE FROM tsk_event_descriptions WHERE content_obj_id = ?`,
		`DELETE FROM tsk_objects WHERE obj_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := s.execContext(ctx, exec, stmt, objID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) osAccountsForDataSource(ctx context.Context, exec dbExecutor, dataSourceObjID int64) ([]int64, error) {
	rows, err := exec.QueryContext(ctx,
		`SELECT DISTINCT os_account_obj_id FROM tsk_os_account_instances WHERE data_source_obj_id = ?`, dataSourceObjID)
	if err != nil {
		return nil, storage.WrapDBError(err, "sqlite: list data source os accounts")
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storage.WrapDBError(err, "sqlite: scan os account")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) osAccountOrphaned(ctx context.Context, exec dbExecutor, osAccountObjID int64) (bool, error) {
	var count int
	err := exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tsk_os_account_instances WHERE os_account_obj_id = ?`, osAccountObjID).Scan(&count)
	if err != nil {
		return false, storage.WrapDBError(err, "sqlite: count os account instances")
	}
	return count == 0, nil
}
