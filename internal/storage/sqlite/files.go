package sqlite

import (
	"context"
	"sync"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// InsertFile implements INSERT_FILE (§4.4): obj_id, data_source_obj_id,
// name, type, has_path, directory/meta type+flags, and collected are always
// supplied; fs_obj_id only for file-system files; size is clamped; the
// caller is expected to have already computed parent_path and extension via
// types.ParentPath/types.ExtractExtension.
func (s *Store) InsertFile(ctx context.Context, tx storage.Tx, f *types.File) error {
	exec := s.conn(tx)
	f.Size = types.ClampSize(f.Size)
	f.OwnerUID = types.NormalizeOwnerUID(f.OwnerUID)

	_, err := s.execContext(ctx, exec, `
		INSERT INTO tsk_files (
			obj_id, fs_obj_id, data_source_obj_id, parent_path, name, extension,
			type, dir_type, meta_type, dir_flags, meta_flags, has_path, size,
			ctime, crtime, atime, mtime, md5, sha1, sha256, known, mime_type,
			owner_uid, os_account_obj_id, collected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ObjID, f.FsObjID, f.DataSourceObjID, f.ParentPath, f.Name, f.Extension,
		int(f.Kind), int(f.DirType), int(f.MetaType), int(f.DirFlags), int(f.MetaFlags), f.HasPath, f.Size,
		f.Ctime, f.Crtime, f.Atime, f.Mtime, nullIfEmpty(f.MD5), nullIfEmpty(f.SHA1), nullIfEmpty(f.SHA256), int(f.Known), f.MimeType,
		f.OwnerUID, f.OsAccountObjID, int(f.Collected),
	)
	if err != nil {
		return err
	}

	if shouldEmitTimelineEvents(f.Kind) && !timelineEventsDisabled.Load() {
		if err := s.addEventsForNewFile(ctx, tx, f); err != nil {
			return err
		}
	}
	return nil
}

// timelineEventsDisabled is the process-wide flag named in §4.4.
var timelineEventsDisabled atomicBool

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) Load() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

func (a *atomicBool) Store(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.v = v
}

// SetTimelineEventsDisabled toggles the process-wide flag clients may set to
// suppress timeline event derivation on file insert (§4.4).
func SetTimelineEventsDisabled(disabled bool) {
	timelineEventsDisabled.Store(disabled)
}

func shouldEmitTimelineEvents(kind types.FileKind) bool {
	switch kind {
	case types.FileKindVirtualDirectory, types.FileKindLocalDirectory, types.FileKindLayoutFile:
		return false
	default:
		return true
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertLocalPath implements the tsk_files_path overlay insert.
func (s *Store) InsertLocalPath(ctx context.Context, tx storage.Tx, p *types.LocalPath) error {
	exec := s.conn(tx)
	_, err := s.execContext(ctx, exec,
		`INSERT INTO tsk_files_path (obj_id, path, encoding_type) VALUES (?, ?, ?)`,
		p.ObjID, p.Path, p.EncodingType)
	return err
}

// InsertLayoutRange implements a tsk_file_layout row insert.
func (s *Store) InsertLayoutRange(ctx context.Context, tx storage.Tx, r *types.LayoutRange) error {
	exec := s.conn(tx)
	_, err := s.execContext(ctx, exec,
		`INSERT INTO tsk_file_layout (obj_id, byte_start, byte_len, sequence) VALUES (?, ?, ?, ?)`,
		r.ObjID, r.ByteStart, r.ByteLen, r.Sequence)
	return err
}

// UpdateDerivedFile implements update_derived_file (§4.4): preserves
// identity, replaces type/flags/size/times/mime; newLocalPath replaces the
// overlay tsk_files_path row in place, left untouched when newLocalPath is
// empty.
func (s *Store) UpdateDerivedFile(ctx context.Context, tx storage.Tx, f *types.File, newLocalPath string) error {
	exec := s.conn(tx)
	f.Size = types.ClampSize(f.Size)

	_, err := s.execContext(ctx, exec, `
		UPDATE tsk_files SET type = ?, dir_type = ?, meta_type = ?, dir_flags = ?,
			meta_flags = ?, size = ?, ctime = ?, crtime = ?, atime = ?, mtime = ?,
			mime_type = ?
		WHERE obj_id = ?`,
		int(f.Kind), int(f.DirType), int(f.MetaType), int(f.DirFlags), int(f.MetaFlags),
		f.Size, f.Ctime, f.Crtime, f.Atime, f.Mtime, f.MimeType, f.ObjID)
	if err != nil {
		return err
	}

	if newLocalPath == "" {
		return nil
	}
	_, err = s.execContext(ctx, exec, `UPDATE tsk_files_path SET path = ? WHERE obj_id = ?`, newLocalPath, f.ObjID)
	return err
}

// GetFileByID returns the tsk_files row for objID.
func (s *Store) GetFileByID(ctx context.Context, tx storage.Tx, objID int64) (*types.File, error) {
	exec := s.conn(tx)
	row := exec.QueryRowContext(ctx, `
		SELECT obj_id, fs_obj_id, data_source_obj_id, parent_path, name, extension,
			type, dir_type, meta_type, dir_flags, meta_flags, size,
			ctime, crtime, atime, mtime, COALESCE(md5,''), COALESCE(sha1,''), COALESCE(sha256,''),
			known, mime_type, owner_uid, os_account_obj_id, collected
		FROM tsk_files WHERE obj_id = ?`, objID)

	var f types.File
	var kind, dirType, metaType, dirFlags, metaFlags, known, collected int
	if err := row.Scan(&f.ObjID, &f.FsObjID, &f.DataSourceObjID, &f.ParentPath, &f.Name, &f.Extension,
		&kind, &dirType, &metaType, &dirFlags, &metaFlags, &f.Size,
		&f.Ctime, &f.Crtime, &f.Atime, &f.Mtime, &f.MD5, &f.SHA1, &f.SHA256,
		&known, &f.MimeType, &f.OwnerUID, &f.OsAccountObjID, &collected,
	); err != nil {
		return nil, storage.WrapDBErrorf(err, "sqlite: get file by id %d", objID)
	}
	f.Kind = types.FileKind(kind)
	f.DirType = types.DirType(dirType)
	f.MetaType = types.MetaType(metaType)
	f.DirFlags = types.DirFlag(dirFlags)
	f.MetaFlags = types.MetaFlag(metaFlags)
	f.Known = types.KnownStatus(known)
	f.Collected = types.CollectedStatus(collected)
	return &f, nil
}

// GetFilesByParent is the dynamic-filter accessor adapted from the teacher's
// ready.go query-builder pattern (§12).
func (s *Store) GetFilesByParent(ctx context.Context, tx storage.Tx, parentPath string, dataSourceObjID int64) ([]*types.File, error) {
	exec := s.conn(tx)
	rows, err := exec.QueryContext(ctx, `
		SELECT obj_id FROM tsk_files WHERE parent_path = ? AND data_source_obj_id = ?`,
		parentPath, dataSourceObjID)
	if err != nil {
		return nil, storage.WrapDBError(err, "sqlite: get files by parent")
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storage.WrapDBError(err, "sqlite: scan file id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.File, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFileByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
