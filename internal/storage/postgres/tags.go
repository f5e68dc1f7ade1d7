package postgres

import (
	"context"
	"database/sql"

	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// AddTagName implements add_tag_name: get-or-create by display name, using
// BIGSERIAL + RETURNING for the generated id.
func (s *Store) AddTagName(ctx context.Context, tx storage.Tx, name *types.TagName) (int64, error) {
	exec := s.conn(tx)

	var existing int64
	err := exec.QueryRowContext(ctx, `SELECT tag_name_id FROM tag_names WHERE display_name = $1`, name.DisplayName).Scan(&existing)
	if err == nil {
		name.TagNameID = existing
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return 0, storage.WrapDBError(err, "postgres: look up tag name")
	}

	var id int64
	err = exec.QueryRowContext(ctx, `
		INSERT INTO tag_names (display_name, color, known_status, tag_set_id, rank) VALUES ($1, $2, $3, $4, $5)
		RETURNING tag_name_id`,
		name.DisplayName, name.Color, int(name.Known), name.TagSetID, name.Rank).Scan(&id)
	if err != nil {
		return 0, storage.WrapDBError(err, "postgres: insert tag name")
	}
	name.TagNameID = id
	return id, nil
}

// TagContent implements tag_content.
func (s *Store) TagContent(ctx context.Context, tx storage.Tx, tag *types.Tag) (int64, error) {
	s.fillExaminer(tag)
	exec := s.conn(tx)
	var id int64
	err := exec.QueryRowContext(ctx, `
		INSERT INTO content_tags (obj_id, tag_name_id, comment, begin_byte_offset, end_byte_offset, examiner_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING tag_id`,
		tag.ObjID, tag.TagNameID, tag.Comment, tag.BeginByteOffset, tag.EndByteOffset, tag.ExaminerID).Scan(&id)
	if err != nil {
		return 0, storage.WrapDBError(err, "postgres: insert content tag")
	}
	tag.TagID = id
	return id, nil
}

// TagArtifact implements tag_artifact.
func (s *Store) TagArtifact(ctx context.Context, tx storage.Tx, tag *types.Tag) (int64, error) {
	s.fillExaminer(tag)
	exec := s.conn(tx)
	var id int64
	err := exec.QueryRowContext(ctx, `
		INSERT INTO blackboard_artifact_tags (artifact_id, tag_name_id, comment, examiner_id)
		VALUES ($1, $2, $3, $4) RETURNING tag_id`,
		tag.ObjID, tag.TagNameID, tag.Comment, tag.ExaminerID).Scan(&id)
	if err != nil {
		return 0, storage.WrapDBError(err, "postgres: insert artifact tag")
	}
	tag.TagID = id
	return id, nil
}

// GetAllContentTags implements get_all_content_tags.
func (s *Store) GetAllContentTags(ctx context.Context, tx storage.Tx) ([]types.Tag, error) {
	exec := s.conn(tx)
	rows, err := exec.QueryContext(ctx, `
		SELECT ct.tag_id, ct.obj_id, ct.tag_name_id, COALESCE(ct.comment,''), ct.begin_byte_offset, ct.end_byte_offset,
			ct.examiner_id, COALESCE(e.login_name, '')
		FROM content_tags ct
		LEFT JOIN tsk_examiners e ON e.examiner_id = ct.examiner_id`)
	if err != nil {
		return nil, storage.WrapDBError(err, "postgres: get all content tags")
	}
	return scanTags(rows)
}

// GetContentTagsByDataSource implements get_content_tags_by_data_source
// (§4.7) via the same file/account UNION the embedded backend uses, with the
// examiner's login_name resolved alongside via the same left join as
// GetAllContentTags.
func (s *Store) GetContentTagsByDataSource(ctx context.Context, tx storage.Tx, dataSourceObjID int64) ([]types.Tag, error) {
	exec := s.conn(tx)
	rows, err := exec.QueryContext(ctx, `
		SELECT ct.tag_id, ct.obj_id, ct.tag_name_id, COALESCE(ct.comment,''), ct.begin_byte_offset, ct.end_byte_offset,
			ct.examiner_id, COALESCE(e.login_name, '')
		FROM content_tags ct
		JOIN tsk_files f ON f.obj_id = ct.obj_id
		LEFT JOIN tsk_examiners e ON e.examiner_id = ct.examiner_id
		WHERE f.data_source_obj_id = $1
		UNION
		SELECT ct.tag_id, ct.obj_id, ct.tag_name_id, COALESCE(ct.comment,''), ct.begin_byte_offset, ct.end_byte_offset,
			ct.examiner_id, COALESCE(e.login_name, '')
		FROM content_tags ct
		JOIN tsk_os_account_instances oi ON oi.os_account_obj_id = ct.obj_id
		LEFT JOIN tsk_examiners e ON e.examiner_id = ct.examiner_id
		WHERE oi.data_source_obj_id = $2`, dataSourceObjID, dataSourceObjID)
	if err != nil {
		return nil, storage.WrapDBError(err, "postgres: get content tags by data source")
	}
	return scanTags(rows)
}

// fillExaminer defaults an unset examiner id to the case's resolved current
// examiner (§4.7); an explicit caller-supplied id is left untouched.
func (s *Store) fillExaminer(tag *types.Tag) {
	if tag.ExaminerID == nil && s.examinerID != 0 {
		id := s.examinerID
		tag.ExaminerID = &id
	}
}

func scanTags(rows *sql.Rows) ([]types.Tag, error) {
	defer func() { _ = rows.Close() }()
	var out []types.Tag
	for rows.Next() {
		var t types.Tag
		if err := rows.Scan(&t.TagID, &t.ObjID, &t.TagNameID, &t.Comment, &t.BeginByteOffset, &t.EndByteOffset, &t.ExaminerID, &t.LoginName); err != nil {
			return nil, storage.WrapDBError(err, "postgres: scan tag")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
