package postgres

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/sk8/skcd/internal/storage"
)

// ensureSchema creates the case database's tables directly at
// storage.CURRENT if they do not already exist. Unlike the embedded
// backend, networked cases are provisioned fresh per deployment rather than
// upgraded from a years-old schema-2 file (§9's design note); there is
// therefore no incremental migration chain here, only an idempotent
// create-if-missing of the current schema using PostgreSQL's native types
// (BIGSERIAL identity columns, BYTEA blobs) in place of SQLite's untyped
// INTEGER/BLOB affinities.
func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.ensureSchema")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tsk_db_info (
			name TEXT, value TEXT
		);
		CREATE TABLE IF NOT EXISTS tsk_db_info_extended (
			name TEXT PRIMARY KEY, value TEXT
		);

		CREATE TABLE IF NOT EXISTS tsk_objects (
			obj_id BIGSERIAL PRIMARY KEY,
			par_obj_id BIGINT REFERENCES tsk_objects(obj_id),
			type INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tsk_objects_par ON tsk_objects(par_obj_id);

		CREATE TABLE IF NOT EXISTS tsk_files (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			fs_obj_id BIGINT,
			data_source_obj_id BIGINT NOT NULL,
			parent_path TEXT NOT NULL,
			name TEXT NOT NULL,
			extension TEXT,
			type INTEGER NOT NULL,
			dir_type INTEGER,
			meta_type INTEGER,
			dir_flags INTEGER,
			meta_flags INTEGER,
			has_path BOOLEAN DEFAULT FALSE,
			size BIGINT DEFAULT 0,
			ctime BIGINT,
			crtime BIGINT,
			atime BIGINT,
			mtime BIGINT,
			md5 TEXT,
			sha1 TEXT,
			sha256 TEXT,
			known INTEGER DEFAULT 0,
			mime_type TEXT,
			owner_uid TEXT,
			os_account_obj_id BIGINT,
			collected INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tsk_files_parent ON tsk_files(parent_path, data_source_obj_id);

		CREATE TABLE IF NOT EXISTS tsk_files_path (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			path TEXT,
			encoding_type INTEGER
		);

		CREATE TABLE IF NOT EXISTS tsk_file_layout (
			obj_id BIGINT NOT NULL REFERENCES tsk_objects(obj_id),
			byte_start BIGINT NOT NULL,
			byte_len BIGINT NOT NULL,
			sequence BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS blackboard_artifact_types (
			artifact_type_id BIGINT PRIMARY KEY,
			type_name TEXT UNIQUE NOT NULL,
			display_name TEXT,
			category_type INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS blackboard_artifacts (
			artifact_id BIGSERIAL PRIMARY KEY,
			obj_id BIGINT NOT NULL REFERENCES tsk_objects(obj_id),
			artifact_obj_id BIGINT,
			data_source_obj_id BIGINT,
			artifact_type_id BIGINT NOT NULL,
			review_status_id INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_blackboard_artifacts_type ON blackboard_artifacts(artifact_type_id, data_source_obj_id);

		CREATE TABLE IF NOT EXISTS blackboard_attributes (
			artifact_id BIGINT NOT NULL REFERENCES blackboard_artifacts(artifact_id),
			attribute_type_id BIGINT NOT NULL,
			value_type INTEGER,
			value_text TEXT,
			value_byte BYTEA,
			value_int32 INTEGER,
			value_int64 BIGINT,
			value_double DOUBLE PRECISION,
			source TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_blackboard_attributes_key
			ON blackboard_attributes(artifact_id, attribute_type_id, value_type, value_text, value_byte, value_int32, value_int64, value_double);

		CREATE TABLE IF NOT EXISTS tsk_analysis_results (
			artifact_obj_id BIGINT PRIMARY KEY,
			conclusion TEXT, significance INTEGER, priority INTEGER,
			configuration TEXT, justification TEXT, ignore_score BOOLEAN DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS tsk_aggregate_score (
			obj_id BIGINT PRIMARY KEY,
			data_source_obj_id BIGINT NOT NULL,
			significance INTEGER NOT NULL,
			priority INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tsk_data_artifacts (
			artifact_obj_id BIGINT PRIMARY KEY,
			os_account_obj_id BIGINT
		);

		CREATE TABLE IF NOT EXISTS tag_names (
			tag_name_id BIGSERIAL PRIMARY KEY,
			display_name TEXT UNIQUE NOT NULL,
			description TEXT, color TEXT, known_status INTEGER,
			tag_set_id BIGINT, rank INTEGER
		);

		CREATE TABLE IF NOT EXISTS content_tags (
			tag_id BIGSERIAL PRIMARY KEY,
			obj_id BIGINT NOT NULL,
			tag_name_id BIGINT NOT NULL REFERENCES tag_names(tag_name_id),
			comment TEXT, begin_byte_offset BIGINT, end_byte_offset BIGINT, examiner_id BIGINT
		);

		CREATE TABLE IF NOT EXISTS blackboard_artifact_tags (
			tag_id BIGSERIAL PRIMARY KEY,
			artifact_id BIGINT NOT NULL,
			tag_name_id BIGINT NOT NULL REFERENCES tag_names(tag_name_id),
			comment TEXT, examiner_id BIGINT
		);

		CREATE TABLE IF NOT EXISTS tsk_os_account_instances (
			id BIGSERIAL PRIMARY KEY,
			os_account_obj_id BIGINT,
			data_source_obj_id BIGINT,
			instance_type INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_os_account_instances ON tsk_os_account_instances(os_account_obj_id, data_source_obj_id);

		CREATE TABLE IF NOT EXISTS tsk_os_account_realms (
			id BIGSERIAL PRIMARY KEY,
			realm_name TEXT, realm_addr TEXT, scope_host_id BIGINT, scope_confidence INTEGER, db_status INTEGER
		);
		CREATE TABLE IF NOT EXISTS tsk_os_accounts (
			os_account_obj_id BIGINT PRIMARY KEY,
			login_name TEXT, addr TEXT, realm_id BIGINT, full_name TEXT, status INTEGER, db_status INTEGER
		);

		CREATE TABLE IF NOT EXISTS tsk_examiners (
			examiner_id BIGSERIAL PRIMARY KEY,
			login_name TEXT UNIQUE, full_name TEXT
		);

		CREATE TABLE IF NOT EXISTS tsk_hosts (id BIGSERIAL PRIMARY KEY, name TEXT UNIQUE, db_status INTEGER);
		CREATE TABLE IF NOT EXISTS tsk_persons (id BIGSERIAL PRIMARY KEY, name TEXT);

		CREATE TABLE IF NOT EXISTS tsk_tag_sets (tag_set_id BIGSERIAL PRIMARY KEY, name TEXT UNIQUE);

		CREATE TABLE IF NOT EXISTS data_source_info (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			device_id TEXT NOT NULL, time_zone TEXT,
			acquisition_details TEXT, acquisition_tool_settings TEXT,
			acquisition_tool_name TEXT, acquisition_tool_version TEXT, added_date_time BIGINT,
			host_obj_id BIGINT
		);

		CREATE TABLE IF NOT EXISTS tsk_image_info (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			type INTEGER, ssize INTEGER, tzone TEXT, size BIGINT,
			md5 TEXT, sha1 TEXT, sha256 TEXT, display_name TEXT
		);
		CREATE TABLE IF NOT EXISTS tsk_image_names (
			obj_id BIGINT NOT NULL REFERENCES tsk_objects(obj_id),
			name TEXT, sequence INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS tsk_vs_info (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			vs_type INTEGER, img_offset BIGINT, block_size INTEGER
		);
		CREATE TABLE IF NOT EXISTS tsk_vs_parts (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			addr INTEGER, start BIGINT, length BIGINT, descr TEXT, flags INTEGER
		);
		CREATE TABLE IF NOT EXISTS tsk_pool_info (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			pool_type INTEGER
		);
		CREATE TABLE IF NOT EXISTS tsk_fs_info (
			obj_id BIGINT PRIMARY KEY REFERENCES tsk_objects(obj_id),
			data_source_obj_id BIGINT,
			img_offset BIGINT, fs_type INTEGER, block_size INTEGER, block_count BIGINT,
			root_inum BIGINT, first_inum BIGINT, last_inum BIGINT
		);

		CREATE TABLE IF NOT EXISTS tsk_event_types (
			event_type_id BIGSERIAL PRIMARY KEY, display_name TEXT, super_type_id BIGINT
		);
		CREATE TABLE IF NOT EXISTS tsk_event_descriptions (
			event_description_id BIGSERIAL PRIMARY KEY,
			full_description TEXT, data_source_obj_id BIGINT, content_obj_id BIGINT, artifact_id BIGINT
		);
		CREATE TABLE IF NOT EXISTS tsk_events (
			event_id BIGSERIAL PRIMARY KEY,
			event_description_id BIGINT, time BIGINT, event_type_id BIGINT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_unique ON tsk_events(event_description_id, time, event_type_id);
	`)
	if err != nil {
		return storage.WrapDBError(err, "postgres: ensure schema")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tsk_db_info_extended (name, value) VALUES ('SCHEMA_MAJOR_VERSION', $1)
		ON CONFLICT(name) DO NOTHING`, storage.CURRENT.Major)
	if err != nil {
		return storage.WrapDBError(err, "postgres: write schema major version")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tsk_db_info_extended (name, value) VALUES ('SCHEMA_MINOR_VERSION', $1)
		ON CONFLICT(name) DO NOTHING`, storage.CURRENT.Minor)
	return storage.WrapDBError(err, "postgres: write schema minor version")
}

// SchemaVersion reports the case's currently-stored schema version, for
// operational tooling (cmd/skcd-migrate) to inspect. Provisioned-fresh
// networked cases are always at storage.CURRENT once ensureSchema has run;
// this reads the stored values back rather than assuming it. A missing
// version row reads as 0; a database without tsk_db_info_extended returns
// an error.
func (s *Store) SchemaVersion(ctx context.Context) (storage.SchemaVersion, error) {
	var major, minor sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM tsk_db_info_extended WHERE name = 'SCHEMA_MAJOR_VERSION'`).Scan(&major); err != nil && err != sql.ErrNoRows {
		return storage.SchemaVersion{}, storage.WrapDBError(err, "postgres: read schema major version")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM tsk_db_info_extended WHERE name = 'SCHEMA_MINOR_VERSION'`).Scan(&minor); err != nil && err != sql.ErrNoRows {
		return storage.SchemaVersion{}, storage.WrapDBError(err, "postgres: read schema minor version")
	}
	v := storage.SchemaVersion{}
	if major.Valid {
		v.Major, _ = strconv.Atoi(major.String)
	}
	if minor.Valid {
		v.Minor, _ = strconv.Atoi(minor.String)
	}
	return v, nil
}
