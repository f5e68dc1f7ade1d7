package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/sk8/skcd/internal/storage"
)

// ensureSchema implements C4's contract: read the stored version, compare to
// storage.CURRENT, and run the ordered migration chain under a transaction
// if the database is behind. Executes exactly once per case-open.
func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "sqlite.ensureSchema")
	defer span.End()

	if err := s.createInfoTablesIfMissing(ctx); err != nil {
		return err
	}

	stored, err := s.readStoredVersion(ctx)
	if err != nil {
		return err
	}

	cmp := stored.Compare(storage.CURRENT)
	if cmp == 0 {
		return nil
	}
	if stored.Major > storage.CURRENT.Major {
		return storage.ErrSchemaUnsupported
	}

	if err := s.backupBeforeMigration(stored); err != nil {
		return fmt.Errorf("sqlite: schema backup: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapDBError(err, "sqlite: begin migration tx")
	}
	if err := ensureBaselineSchema(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	current := stored
	for _, m := range embeddedMigrations {
		if current.Compare(storage.CURRENT) >= 0 {
			break
		}
		next, err := m.Func(ctx, tx, current)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: migration %s: %w", m.Name, err)
		}
		current = next
		if err := writeStoredVersion(ctx, tx, current); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SchemaVersion reports the case's currently-stored schema version, for
// operational tooling (cmd/skcd-migrate) to inspect before deciding whether
// to run an upgrade. On a read-only handle the info tables are never
// created (a read-only SQLite connection cannot take the write lock DDL
// needs): a case opened before they existed reports the legacy version
// instead of erroring.
func (s *Store) SchemaVersion(ctx context.Context) (storage.SchemaVersion, error) {
	if s.readOnly {
		exists, err := s.infoTableExists(ctx)
		if err != nil {
			return storage.SchemaVersion{}, err
		}
		if !exists {
			return storage.SchemaVersion{Major: 2, Minor: 0}, nil // legacy, pre-extended-info
		}
		return s.readStoredVersion(ctx)
	}
	if err := s.createInfoTablesIfMissing(ctx); err != nil {
		return storage.SchemaVersion{}, err
	}
	return s.readStoredVersion(ctx)
}

func (s *Store) infoTableExists(ctx context.Context) (bool, error) {
	var name string
	row := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'tsk_db_info_extended'`)
	err := row.Scan(&name)
	switch {
	case err == nil:
		return true, nil
	case err == sql.ErrNoRows:
		return false, nil
	default:
		return false, storage.WrapDBError(err, "sqlite: check info table existence")
	}
}

func (s *Store) createInfoTablesIfMissing(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tsk_db_info (
			name TEXT, value TEXT
		);
		CREATE TABLE IF NOT EXISTS tsk_db_info_extended (
			name TEXT PRIMARY KEY, value TEXT
		);
	`)
	return storage.WrapDBError(err, "sqlite: create info tables")
}

func (s *Store) readStoredVersion(ctx context.Context) (storage.SchemaVersion, error) {
	var major, minor int
	row := s.db.QueryRowContext(ctx, `SELECT value FROM tsk_db_info_extended WHERE name = 'SCHEMA_MAJOR_VERSION'`)
	if err := row.Scan(&major); err != nil {
		if err == sql.ErrNoRows {
			return storage.SchemaVersion{Major: 2, Minor: 0}, nil // legacy, pre-extended-info
		}
		return storage.SchemaVersion{}, storage.ErrSchemaCorrupt
	}
	row = s.db.QueryRowContext(ctx, `SELECT value FROM tsk_db_info_extended WHERE name = 'SCHEMA_MINOR_VERSION'`)
	if err := row.Scan(&minor); err != nil && err != sql.ErrNoRows {
		return storage.SchemaVersion{}, storage.ErrSchemaCorrupt
	}
	return storage.SchemaVersion{Major: major, Minor: minor}, nil
}

func writeStoredVersion(ctx context.Context, exec dbExecutor, v storage.SchemaVersion) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO tsk_db_info_extended (name, value) VALUES ('SCHEMA_MAJOR_VERSION', ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, v.Major)
	if err != nil {
		return storage.WrapDBError(err, "sqlite: write schema major version")
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO tsk_db_info_extended (name, value) VALUES ('SCHEMA_MINOR_VERSION', ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, v.Minor)
	return storage.WrapDBError(err, "sqlite: write schema minor version")
}

// ensureBaselineSchema creates the schema-2 baseline tables (the object
// graph, file table and overlays, and the blackboard's artifact/attribute
// tables) that the migration chain in migrations.go assumes already exist.
// A brand-new case has none of these; an upgraded case already has them, so
// every statement is IF NOT EXISTS and safe to run unconditionally.
func ensureBaselineSchema(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tsk_objects (
			obj_id INTEGER PRIMARY KEY,
			par_obj_id INTEGER,
			type INTEGER NOT NULL,
			FOREIGN KEY(par_obj_id) REFERENCES tsk_objects(obj_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tsk_objects_par ON tsk_objects(par_obj_id);

		CREATE TABLE IF NOT EXISTS tsk_files (
			obj_id INTEGER PRIMARY KEY,
			fs_obj_id INTEGER,
			data_source_obj_id INTEGER NOT NULL,
			parent_path TEXT NOT NULL,
			name TEXT NOT NULL,
			extension TEXT,
			type INTEGER NOT NULL,
			dir_type INTEGER,
			meta_type INTEGER,
			dir_flags INTEGER,
			meta_flags INTEGER,
			has_path INTEGER DEFAULT 0,
			size INTEGER DEFAULT 0,
			ctime INTEGER,
			crtime INTEGER,
			atime INTEGER,
			mtime INTEGER,
			md5 TEXT,
			known INTEGER DEFAULT 0,
			mime_type TEXT,
			owner_uid TEXT,
			os_account_obj_id INTEGER,
			FOREIGN KEY(obj_id) REFERENCES tsk_objects(obj_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tsk_files_parent ON tsk_files(parent_path, data_source_obj_id);

		CREATE TABLE IF NOT EXISTS tsk_files_path (
			obj_id INTEGER PRIMARY KEY,
			path TEXT,
			encoding_type INTEGER,
			FOREIGN KEY(obj_id) REFERENCES tsk_objects(obj_id)
		);

		CREATE TABLE IF NOT EXISTS tsk_file_layout (
			obj_id INTEGER NOT NULL,
			byte_start INTEGER NOT NULL,
			byte_len INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			FOREIGN KEY(obj_id) REFERENCES tsk_objects(obj_id)
		);

		CREATE TABLE IF NOT EXISTS blackboard_artifact_types (
			artifact_type_id INTEGER PRIMARY KEY,
			type_name TEXT UNIQUE NOT NULL,
			display_name TEXT,
			category_type INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS blackboard_artifacts (
			artifact_id INTEGER PRIMARY KEY,
			obj_id INTEGER NOT NULL,
			artifact_obj_id INTEGER,
			data_source_obj_id INTEGER,
			artifact_type_id INTEGER NOT NULL,
			review_status_id INTEGER DEFAULT 0,
			FOREIGN KEY(obj_id) REFERENCES tsk_objects(obj_id),
			FOREIGN KEY(artifact_type_id) REFERENCES blackboard_artifact_types(artifact_type_id)
		);
		CREATE INDEX IF NOT EXISTS idx_blackboard_artifacts_type ON blackboard_artifacts(artifact_type_id, data_source_obj_id);

		CREATE TABLE IF NOT EXISTS blackboard_attributes (
			artifact_id INTEGER NOT NULL,
			attribute_type_id INTEGER NOT NULL,
			value_type INTEGER,
			value_text TEXT,
			value_byte BLOB,
			value_int32 INTEGER,
			value_int64 INTEGER,
			value_double REAL,
			source TEXT,
			FOREIGN KEY(artifact_id) REFERENCES blackboard_artifacts(artifact_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_blackboard_attributes_key
			ON blackboard_attributes(artifact_id, attribute_type_id, value_type);
	`)
	return storage.WrapDBError(err, "sqlite: create baseline schema")
}

// backupBeforeMigration copies the database file to <path>.schemaVer<stored>.backup
// before the first migration runs, per §4.1.
func (s *Store) backupBeforeMigration(stored storage.SchemaVersion) error {
	src, err := os.Open(s.dbPath) // #nosec G304 - case's own configured path
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh database, nothing to back up
		}
		return err
	}
	defer func() { _ = src.Close() }()

	backupPath := fmt.Sprintf("%s.schemaVer%s.backup", s.dbPath, stored.String())
	dst, err := os.OpenFile(backupPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}
