package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sk8/skcd/internal/storage"
)

// migration mirrors the teacher's Migration{Name, Func} shape, generalized
// to carry the resulting version and to run against a *sql.Tx, per §4.1's
// "(stored_version, connection) -> new_version" contract. Every Func must be
// idempotent: called with a stored version already at or past its target it
// returns that version unchanged.
type migration struct {
	Name string
	From storage.SchemaVersion
	To   storage.SchemaVersion
	Func func(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error)
}

// embeddedMigrations is the ordered chain from legacy schema 2 to CURRENT
// (9, 7), per §4.1's table. Every step only adds tables/columns/indices or
// does create-copy-rename; none drop user-visible data.
var embeddedMigrations = buildMigrationChain()

func buildMigrationChain() []migration {
	v := func(major, minor int) storage.SchemaVersion { return storage.SchemaVersion{Major: major, Minor: minor} }
	steps := []migration{
		{Name: "2_to_3", From: v(2, 0), To: v(3, 0), Func: migrate2to3},
		{Name: "3_to_4", From: v(3, 0), To: v(4, 0), Func: migrate3to4},
		{Name: "4_to_5", From: v(4, 0), To: v(5, 0), Func: migrate4to5},
		{Name: "5_to_6", From: v(5, 0), To: v(6, 0), Func: migrate5to6},
		{Name: "6_to_7", From: v(6, 0), To: v(7, 0), Func: migrate6to7},
		{Name: "7_to_7.1", From: v(7, 0), To: v(7, 1), Func: migrate7to71},
		{Name: "7.1_to_7.2", From: v(7, 1), To: v(7, 2), Func: migrate71to72},
		{Name: "7.2_to_8.0", From: v(7, 2), To: v(8, 0), Func: migrate72to80},
		{Name: "8.0_to_8.1", From: v(8, 0), To: v(8, 1), Func: migrate80to81},
		{Name: "8.1_to_8.2", From: v(8, 1), To: v(8, 2), Func: migrate81to82},
		{Name: "8.2_to_8.3", From: v(8, 2), To: v(8, 3), Func: migrate82to83},
		{Name: "8.3_to_8.4", From: v(8, 3), To: v(8, 4), Func: migrate83to84},
		{Name: "8.4_to_8.5", From: v(8, 4), To: v(8, 5), Func: migrate84to85},
		{Name: "8.5_to_8.6", From: v(8, 5), To: v(8, 6), Func: migrate85to86},
		{Name: "8.6_to_9.0", From: v(8, 6), To: v(9, 0), Func: migrate86to90},
		{Name: "9.0_to_9.1", From: v(9, 0), To: v(9, 1), Func: migrate90to91},
		{Name: "9.1_to_9.2", From: v(9, 1), To: v(9, 2), Func: migrate91to92},
		{Name: "9.2_to_9.3", From: v(9, 2), To: v(9, 3), Func: migrate92to93},
		{Name: "9.3_to_9.4", From: v(9, 3), To: v(9, 4), Func: migrate93to94},
		{Name: "9.4_to_9.5", From: v(9, 4), To: v(9, 5), Func: migrate94to95},
		{Name: "9.5_to_9.6", From: v(9, 5), To: v(9, 6), Func: migrate95to96},
		{Name: "9.6_to_9.7", From: v(9, 6), To: v(9, 7), Func: migrate96to97},
	}
	return steps
}

// idempotentGuard wraps a step's body so that if stored is already at or
// past `to`, it returns stored unchanged rather than re-running DDL.
func idempotentGuard(to storage.SchemaVersion, stored storage.SchemaVersion, body func() error) (storage.SchemaVersion, error) {
	if stored.Compare(to) >= 0 {
		return stored, nil
	}
	if err := body(); err != nil {
		return stored, err
	}
	return to, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func addColumnIfNotExists(ctx context.Context, tx *sql.Tx, table, column, ddl string) error {
	exists, err := columnExists(ctx, tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.ExecContext(ctx, "ALTER TABLE "+quoteIdent(table)+" ADD COLUMN "+ddl)
	return err
}

func quoteIdent(ident string) string {
	return "\"" + strings.ReplaceAll(ident, "\"", "\"\"") + "\""
}

func exec(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrate2to3(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 3}
	return idempotentGuard(to, stored, func() error {
		return exec(ctx, tx,
			`CREATE TABLE IF NOT EXISTS tag_names (
				tag_name_id INTEGER PRIMARY KEY, display_name TEXT UNIQUE NOT NULL,
				description TEXT, color TEXT, known_status INTEGER, tag_set_id INTEGER, rank INTEGER)`,
			`CREATE TABLE IF NOT EXISTS content_tags (
				tag_id INTEGER PRIMARY KEY, obj_id INTEGER NOT NULL, tag_name_id INTEGER NOT NULL,
				comment TEXT, begin_byte_offset INTEGER, end_byte_offset INTEGER, examiner_id INTEGER)`,
			`CREATE TABLE IF NOT EXISTS blackboard_artifact_tags (
				tag_id INTEGER PRIMARY KEY, artifact_id INTEGER NOT NULL, tag_name_id INTEGER NOT NULL,
				comment TEXT, examiner_id INTEGER)`,
			`CREATE TABLE IF NOT EXISTS reports (
				obj_id INTEGER PRIMARY KEY, path TEXT, crtime INTEGER, src_module_name TEXT, report_name TEXT)`,
		)
	})
}

func migrate3to4(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 4}
	return idempotentGuard(to, stored, func() error {
		if err := exec(ctx, tx,
			`CREATE TABLE IF NOT EXISTS data_source_info (
				obj_id INTEGER PRIMARY KEY, device_id TEXT NOT NULL, time_zone TEXT,
				acquisition_details TEXT, acquisition_tool_settings TEXT,
				acquisition_tool_name TEXT, acquisition_tool_version TEXT, added_date_time INTEGER)`,
		); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "tsk_files", "mime_type", "mime_type TEXT"); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "tsk_files", "data_source_obj_id", "data_source_obj_id INTEGER"); err != nil {
			return err
		}
		return addColumnIfNotExists(ctx, tx, "blackboard_attributes", "value_type", "value_type INTEGER")
	})
}

func migrate4to5(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 5}
	return idempotentGuard(to, stored, func() error {
		if err := exec(ctx, tx,
			`CREATE TABLE IF NOT EXISTS review_statuses (review_status_id INTEGER PRIMARY KEY, display_name TEXT)`,
			`CREATE TABLE IF NOT EXISTS file_encoding_types (encoding_type_id INTEGER PRIMARY KEY, name TEXT)`,
		); err != nil {
			return err
		}
		return addColumnIfNotExists(ctx, tx, "tsk_files_path", "encoding_type", "encoding_type INTEGER DEFAULT 0")
	})
}

func migrate5to6(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 6}
	// Bug-fix re-run of the 4->5 review-status column, guarded by IF NOT
	// EXISTS probes, for installations that missed it.
	return idempotentGuard(to, stored, func() error {
		return addColumnIfNotExists(ctx, tx, "blackboard_artifacts", "review_status_id", "review_status_id INTEGER DEFAULT 0")
	})
}

func migrate6to7(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 7}
	return idempotentGuard(to, stored, func() error {
		if err := addColumnIfNotExists(ctx, tx, "tsk_files", "extension", "extension TEXT"); err != nil {
			return err
		}
		if err := exec(ctx, tx, `CREATE INDEX IF NOT EXISTS idx_tsk_files_extension ON tsk_files(extension)`); err != nil {
			return err
		}
		return addColumnIfNotExists(ctx, tx, "blackboard_artifacts", "artifact_obj_id", "artifact_obj_id INTEGER")
	})
}

func migrate7to71(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 7, Minor: 1}
	return idempotentGuard(to, stored, func() error {
		return addColumnIfNotExists(ctx, tx, "tsk_db_info", "schema_minor_ver", "schema_minor_ver INTEGER")
	})
}

func migrate71to72(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 7, Minor: 2}
	return idempotentGuard(to, stored, func() error {
		if err := addColumnIfNotExists(ctx, tx, "blackboard_artifacts", "data_source_obj_id", "data_source_obj_id INTEGER"); err != nil {
			return err
		}
		if err := exec(ctx, tx,
			`UPDATE blackboard_artifacts SET data_source_obj_id = obj_id WHERE data_source_obj_id IS NULL`,
			`CREATE TABLE IF NOT EXISTS tsk_os_account_realms (id INTEGER PRIMARY KEY, realm_name TEXT, realm_addr TEXT, scope_host_id INTEGER, scope_confidence INTEGER, db_status INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_os_accounts (os_account_obj_id INTEGER PRIMARY KEY, login_name TEXT, addr TEXT, realm_id INTEGER, full_name TEXT, status INTEGER, db_status INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_os_account_instances (id INTEGER PRIMARY KEY, os_account_obj_id INTEGER, data_source_obj_id INTEGER, instance_type INTEGER)`,
			`CREATE INDEX IF NOT EXISTS idx_os_account_instances ON tsk_os_account_instances(os_account_obj_id, data_source_obj_id)`,
		); err != nil {
			return err
		}
		return nil
	})
}

func migrate72to80(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 8, Minor: 0}
	return idempotentGuard(to, stored, func() error {
		// report_id -> object-id: create-copy-rename, since SQLite cannot
		// retype a column in place.
		exists, err := columnExists(ctx, tx, "reports", "report_id")
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		return exec(ctx, tx,
			`CREATE TABLE reports_new (obj_id INTEGER PRIMARY KEY, path TEXT, crtime INTEGER, src_module_name TEXT, report_name TEXT)`,
			`INSERT INTO reports_new (obj_id, path, crtime, src_module_name, report_name) SELECT obj_id, path, crtime, src_module_name, report_name FROM reports`,
			`DROP TABLE reports`,
			`ALTER TABLE reports_new RENAME TO reports`,
		)
	})
}

func migrate80to81(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 8, Minor: 1}
	return idempotentGuard(to, stored, func() error {
		if err := exec(ctx, tx, `CREATE TABLE IF NOT EXISTS tsk_examiners (examiner_id INTEGER PRIMARY KEY, login_name TEXT UNIQUE, full_name TEXT)`); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "content_tags", "examiner_id", "examiner_id INTEGER"); err != nil {
			return err
		}
		return addColumnIfNotExists(ctx, tx, "blackboard_artifact_tags", "examiner_id", "examiner_id INTEGER")
	})
}

func migrate81to82(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 8, Minor: 2}
	return idempotentGuard(to, stored, func() error {
		if err := exec(ctx, tx, `CREATE TABLE IF NOT EXISTS tsk_image_info (obj_id INTEGER PRIMARY KEY, type INTEGER, ssize INTEGER, tzone TEXT, size INTEGER, md5 TEXT, sha1 TEXT, sha256 TEXT, display_name TEXT)`); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "tsk_image_info", "sha1", "sha1 TEXT"); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "tsk_image_info", "sha256", "sha256 TEXT"); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "data_source_info", "acquisition_details", "acquisition_details TEXT"); err != nil {
			return err
		}
		return exec(ctx, tx,
			`CREATE TABLE IF NOT EXISTS tsk_event_types (event_type_id INTEGER PRIMARY KEY, display_name TEXT, super_type_id INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_event_descriptions (event_description_id INTEGER PRIMARY KEY, full_description TEXT, data_source_obj_id INTEGER, file_obj_id INTEGER, artifact_id INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_events (event_id INTEGER PRIMARY KEY, event_description_id INTEGER, time INTEGER, event_type_id INTEGER)`,
		)
	})
}

func migrate82to83(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 8, Minor: 3}
	return idempotentGuard(to, stored, func() error {
		// Add uniqueness constraint on events and fix mis-named rows in
		// tsk_db_info_extended left over from earlier installations.
		if err := exec(ctx, tx,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_unique ON tsk_events(event_description_id, time, event_type_id)`,
			`UPDATE tsk_db_info_extended SET name = 'SCHEMA_MAJOR_VERSION' WHERE name = 'SCHEMA_MAJOR_VER'`,
			`UPDATE tsk_db_info_extended SET name = 'SCHEMA_MINOR_VERSION' WHERE name = 'SCHEMA_MINOR_VER'`,
		); err != nil {
			return err
		}
		return nil
	})
}

func migrate83to84(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 8, Minor: 4}
	return idempotentGuard(to, stored, func() error {
		exists, err := columnExists(ctx, tx, "tsk_event_descriptions", "file_obj_id")
		if err != nil {
			return err
		}
		if exists {
			if err := exec(ctx, tx,
				`CREATE TABLE tsk_event_descriptions_new (event_description_id INTEGER PRIMARY KEY, full_description TEXT, data_source_obj_id INTEGER, content_obj_id INTEGER, artifact_id INTEGER)`,
				`INSERT INTO tsk_event_descriptions_new (event_description_id, full_description, data_source_obj_id, content_obj_id, artifact_id)
				 SELECT event_description_id, full_description, data_source_obj_id, file_obj_id, artifact_id FROM tsk_event_descriptions`,
				`DROP TABLE tsk_event_descriptions`,
				`ALTER TABLE tsk_event_descriptions_new RENAME TO tsk_event_descriptions`,
			); err != nil {
				return err
			}
		}
		return exec(ctx, tx,
			`CREATE TABLE IF NOT EXISTS tsk_pool_info (obj_id INTEGER PRIMARY KEY, pool_type INTEGER)`,
		)
	})
}

func migrate84to85(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 8, Minor: 5}
	return idempotentGuard(to, stored, func() error {
		if err := exec(ctx, tx, `CREATE TABLE IF NOT EXISTS tsk_tag_sets (tag_set_id INTEGER PRIMARY KEY, name TEXT UNIQUE)`); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "tag_names", "tag_set_id", "tag_set_id INTEGER"); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "tag_names", "rank", "rank INTEGER DEFAULT 0"); err != nil {
			return err
		}
		// Installations without tsk_fs_info get the table, with this
		// column, from migrate96to97.
		hasFsInfo, err := columnExists(ctx, tx, "tsk_fs_info", "obj_id")
		if err != nil {
			return err
		}
		if !hasFsInfo {
			return nil
		}
		return addColumnIfNotExists(ctx, tx, "tsk_fs_info", "data_source_obj_id", "data_source_obj_id INTEGER")
	})
}

func migrate85to86(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 8, Minor: 6}
	return idempotentGuard(to, stored, func() error {
		return addColumnIfNotExists(ctx, tx, "tsk_files", "sha256", "sha256 TEXT")
	})
}

func migrate86to90(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 0}
	return idempotentGuard(to, stored, func() error {
		return exec(ctx, tx,
			`CREATE TABLE IF NOT EXISTS tsk_analysis_results (
				artifact_obj_id INTEGER PRIMARY KEY, conclusion TEXT, significance INTEGER,
				priority INTEGER, configuration TEXT, justification TEXT, ignore_score INTEGER DEFAULT 0)`,
			`CREATE TABLE IF NOT EXISTS tsk_aggregate_score (
				obj_id INTEGER PRIMARY KEY, data_source_obj_id INTEGER NOT NULL,
				significance INTEGER NOT NULL, priority INTEGER NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS tsk_file_attributes (
				id INTEGER PRIMARY KEY, obj_id INTEGER NOT NULL, attribute_type_id INTEGER NOT NULL,
				value_type INTEGER NOT NULL, value_text TEXT, value_byte BLOB, value_int32 INTEGER,
				value_int64 INTEGER, value_double REAL)`,
			`CREATE TABLE IF NOT EXISTS tsk_hosts (id INTEGER PRIMARY KEY, name TEXT UNIQUE, db_status INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_persons (id INTEGER PRIMARY KEY, name TEXT)`,
			`CREATE TABLE IF NOT EXISTS tsk_data_artifacts (artifact_obj_id INTEGER PRIMARY KEY, os_account_obj_id INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_host_addresses (id INTEGER PRIMARY KEY, address_type INTEGER, address TEXT UNIQUE)`,
			`CREATE TABLE IF NOT EXISTS tsk_host_address_dns_ip_map (id INTEGER PRIMARY KEY, dns_address_id INTEGER, ip_address_id INTEGER, time INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_host_address_usage (id INTEGER PRIMARY KEY, addr_obj_id INTEGER, obj_id INTEGER)`,
			`INSERT OR IGNORE INTO tsk_hosts (name, db_status) SELECT DISTINCT device_id, 0 FROM data_source_info`,
		)
	})
}

func migrate90to91(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 1}
	return idempotentGuard(to, stored, func() error {
		exists, err := columnExists(ctx, tx, "tsk_analysis_results", "method_category")
		if err != nil {
			return err
		}
		if exists {
			if err := exec(ctx, tx,
				`CREATE TABLE tsk_analysis_results_new (artifact_obj_id INTEGER PRIMARY KEY, conclusion TEXT, significance INTEGER, priority INTEGER, configuration TEXT, justification TEXT, ignore_score INTEGER DEFAULT 0)`,
				`INSERT INTO tsk_analysis_results_new (artifact_obj_id, conclusion, significance, priority, configuration, justification, ignore_score)
				 SELECT artifact_obj_id, conclusion, significance, method_category, configuration, justification, ignore_score FROM tsk_analysis_results`,
				`DROP TABLE tsk_analysis_results`,
				`ALTER TABLE tsk_analysis_results_new RENAME TO tsk_analysis_results`,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func migrate91to92(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 2}
	return idempotentGuard(to, stored, func() error {
		return exec(ctx, tx,
			`DROP INDEX IF EXISTS idx_os_account_instances`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_os_account_instances ON tsk_os_account_instances(os_account_obj_id, data_source_obj_id, instance_type)`,
		)
	})
}

func migrate92to93(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 3}
	return idempotentGuard(to, stored, func() error {
		return addColumnIfNotExists(ctx, tx, "tsk_files", "sha1", "sha1 TEXT")
	})
}

func migrate93to94(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 4}
	return idempotentGuard(to, stored, func() error {
		if err := exec(ctx, tx, `CREATE TABLE IF NOT EXISTS tsk_files_collected (collected_id INTEGER PRIMARY KEY, display_name TEXT)`); err != nil {
			return err
		}
		return addColumnIfNotExists(ctx, tx, "tsk_files", "collected", "collected INTEGER DEFAULT 0")
	})
}

func migrate94to95(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 5}
	return idempotentGuard(to, stored, func() error {
		return exec(ctx, tx,
			`CREATE INDEX IF NOT EXISTS idx_os_account_login ON tsk_os_accounts(login_name)`,
			`CREATE INDEX IF NOT EXISTS idx_os_account_addr ON tsk_os_accounts(addr)`,
			`CREATE INDEX IF NOT EXISTS idx_os_account_realm_name ON tsk_os_account_realms(realm_name)`,
			`CREATE INDEX IF NOT EXISTS idx_os_account_realm_addr ON tsk_os_account_realms(realm_addr)`,
		)
	})
}

func migrate95to96(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 6}
	return idempotentGuard(to, stored, func() error {
		// The embedded backend lacks partial-index support pre-3.x, so this
		// is a full index rather than the networked backend's WHERE-filtered
		// one (§4.1, 9.5 -> 9.6).
		return exec(ctx, tx,
			`CREATE INDEX IF NOT EXISTS idx_files_ds_md5_size ON tsk_files(data_source_obj_id, md5, size)`,
		)
	})
}

// migrate96to97 rounds out the image/volume-system/volume/file-system chain
// (§3, §6.4): tsk_vs_info, tsk_vs_parts, and tsk_image_names did not exist
// before, and tsk_fs_info (whose data_source_obj_id column migrate84to85
// already assumed) is created here for installations that never got it.
// data_source_info gains host_obj_id for §3's data-source->host reference.
// The attribute source-merge key widens from (artifact_id, attribute_type_id,
// value_type) to include every value column, since two distinct values under
// the same type are separate rows, not a collision (§4.7).
func migrate96to97(ctx context.Context, tx *sql.Tx, stored storage.SchemaVersion) (storage.SchemaVersion, error) {
	to := storage.SchemaVersion{Major: 9, Minor: 7}
	return idempotentGuard(to, stored, func() error {
		if err := exec(ctx, tx,
			`CREATE TABLE IF NOT EXISTS tsk_fs_info (
				obj_id INTEGER PRIMARY KEY, img_offset INTEGER, fs_type INTEGER,
				block_size INTEGER, block_count INTEGER, root_inum INTEGER,
				first_inum INTEGER, last_inum INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_vs_info (
				obj_id INTEGER PRIMARY KEY, vs_type INTEGER, img_offset INTEGER, block_size INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_vs_parts (
				obj_id INTEGER PRIMARY KEY, addr INTEGER, start INTEGER, length INTEGER, descr TEXT, flags INTEGER)`,
			`CREATE TABLE IF NOT EXISTS tsk_image_names (
				obj_id INTEGER NOT NULL, name TEXT, sequence INTEGER NOT NULL DEFAULT 0)`,
		); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "tsk_fs_info", "data_source_obj_id", "data_source_obj_id INTEGER"); err != nil {
			return err
		}
		if err := addColumnIfNotExists(ctx, tx, "data_source_info", "host_obj_id", "host_obj_id INTEGER"); err != nil {
			return err
		}
		return exec(ctx, tx,
			`DROP INDEX IF EXISTS idx_blackboard_attributes_key`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_blackboard_attributes_key
				ON blackboard_attributes(artifact_id, attribute_type_id, value_type, value_text, value_byte, value_int32, value_int64, value_double)`,
		)
	})
}
