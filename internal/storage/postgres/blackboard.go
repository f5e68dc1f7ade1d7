package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sk8/skcd/internal/eventbus"
	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// insertArtifactRow creates the artifact's own tsk_objects row and its
// blackboard_artifacts row; artifact_id comes from BIGSERIAL + RETURNING
// rather than the embedded backend's client-side counter (§4.5), since the
// networked backend has no single process to own a monotonic sequence.
func (s *Store) insertArtifactRow(ctx context.Context, tx storage.Tx, obj *types.Artifact) (artifactID, artifactObjID int64, err error) {
	exec := s.conn(tx)

	artifactObjID, err = s.AddObject(ctx, tx, obj.ObjID, types.ObjectTypeArtifact)
	if err != nil {
		return 0, 0, err
	}

	err = exec.QueryRowContext(ctx, `
		INSERT INTO blackboard_artifacts (obj_id, artifact_obj_id, data_source_obj_id, artifact_type_id, review_status_id)
		VALUES ($1, $2, $3, $4, $5) RETURNING artifact_id`,
		obj.ObjID, artifactObjID, obj.DataSourceObjID, obj.ArtifactTypeID, int(obj.ReviewStatus)).Scan(&artifactID)
	if err != nil {
		return 0, 0, storage.WrapDBError(err, "postgres: insert artifact")
	}

	obj.ArtifactID = artifactID
	obj.ArtifactObjID = artifactObjID
	return artifactID, artifactObjID, nil
}

// AddDataArtifact implements §4.5's data-artifact creation.
func (s *Store) AddDataArtifact(ctx context.Context, tx storage.Tx, obj *types.Artifact) (int64, error) {
	artifactID, artifactObjID, err := s.insertArtifactRow(ctx, tx, obj)
	if err != nil {
		return 0, err
	}

	exec := s.conn(tx)
	_, err = s.execContext(ctx, exec,
		`INSERT INTO tsk_data_artifacts (artifact_obj_id, os_account_obj_id) VALUES ($1, NULL)`,
		artifactObjID)
	if err != nil {
		return 0, err
	}
	return artifactID, nil
}

// AddAnalysisResult implements §4.5's analysis-result creation, including the
// bare-result omission (types.AnalysisResult.IsBare) and the §4.6 scoring
// aggregator invocation under the networked backend's explicit table lock.
func (s *Store) AddAnalysisResult(ctx context.Context, tx storage.Tx, obj *types.Artifact, result *types.AnalysisResult) (int64, error) {
	artifactID, artifactObjID, err := s.insertArtifactRow(ctx, tx, obj)
	if err != nil {
		return 0, err
	}
	result.ArtifactObjID = artifactObjID

	if !result.IsBare() {
		exec := s.conn(tx)
		_, err = s.execContext(ctx, exec, `
			INSERT INTO tsk_analysis_results (artifact_obj_id, conclusion, significance, priority, configuration, justification, ignore_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			artifactObjID, result.Conclusion, int(result.Significance), int(result.Priority),
			result.Configuration, result.Justification, result.IgnoreScore)
		if err != nil {
			return 0, err
		}
	}

	if err := s.upsertAggregateScore(ctx, tx, obj.ObjID, obj.DataSourceObjID, result.Significance, result.Priority); err != nil {
		return 0, err
	}
	return artifactID, nil
}

// valueMatchClause returns the extra SQL predicate (using the next
// available $N placeholder) and bind arg that pin an attribute lookup down
// to its exact value, per §4.7's merge key (artifact_id, attribute_type_id,
// value_type, value): byte-compared for ValueTypeByte, column-compared
// otherwise, since exactly one of the five value columns is populated for a
// given value_type.
func valueMatchClause(a types.Attribute, nextArg int) (string, []any) {
	switch a.ValueType {
	case types.ValueTypeByte:
		return fmt.Sprintf(" AND value_byte = $%d", nextArg), []any{a.ValueByte}
	case types.ValueTypeInt32:
		return fmt.Sprintf(" AND value_int32 = $%d", nextArg), []any{a.ValueInt32}
	case types.ValueTypeInt64:
		return fmt.Sprintf(" AND value_int64 = $%d", nextArg), []any{a.ValueInt64}
	case types.ValueTypeDouble:
		return fmt.Sprintf(" AND value_double = $%d", nextArg), []any{a.ValueDouble}
	default:
		return fmt.Sprintf(" AND value_text = $%d", nextArg), []any{a.ValueText}
	}
}

// AddAttributes implements §4.5's value-type dispatch insert and §4.7's
// source merge: an attribute already present for (artifact_id,
// attribute_type_id, value_type, value) has its source list extended rather
// than duplicated (testable property #5, scenario S4); two distinct values
// under the same type are kept as separate rows.
func (s *Store) AddAttributes(ctx context.Context, tx storage.Tx, attrs []types.Attribute) error {
	exec := s.conn(tx)
	for _, a := range attrs {
		valueClause, valueArgs := valueMatchClause(a, 4)

		var existingSource sql.NullString
		selectArgs := append([]any{a.ArtifactID, a.AttributeTypeID, int(a.ValueType)}, valueArgs...)
		err := exec.QueryRowContext(ctx, `
			SELECT source FROM blackboard_attributes
			WHERE artifact_id = $1 AND attribute_type_id = $2 AND value_type = $3`+valueClause,
			selectArgs...).Scan(&existingSource)

		switch {
		case err == nil:
			merged := types.MergeSource(existingSource.String, a.Source)
			valueClause2, _ := valueMatchClause(a, 5)
			updateArgs := append([]any{merged, a.ArtifactID, a.AttributeTypeID, int(a.ValueType)}, valueArgs...)
			if _, err := s.execContext(ctx, exec, `
				UPDATE blackboard_attributes SET source = $1
				WHERE artifact_id = $2 AND attribute_type_id = $3 AND value_type = $4`+valueClause2,
				updateArgs...); err != nil {
				return err
			}
		case err == sql.ErrNoRows:
			var valText any
			var valByte any
			var valInt32 any
			var valInt64 any
			var valDouble any
			switch a.ValueType {
			case types.ValueTypeText:
				valText = a.ValueText
			case types.ValueTypeByte:
				valByte = a.ValueByte
			case types.ValueTypeInt32:
				valInt32 = a.ValueInt32
			case types.ValueTypeInt64:
				valInt64 = a.ValueInt64
			case types.ValueTypeDouble:
				valDouble = a.ValueDouble
			}
			if _, err := s.execContext(ctx, exec, `
				INSERT INTO blackboard_attributes
					(artifact_id, attribute_type_id, value_type, value_text, value_byte, value_int32, value_int64, value_double, source)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				a.ArtifactID, a.AttributeTypeID, int(a.ValueType), valText, valByte, valInt32, valInt64, valDouble, a.Source); err != nil {
				return err
			}
		default:
			return storage.WrapDBError(err, "postgres: check existing attribute")
		}
	}
	return nil
}

// DeleteAnalysisResult implements §4.6/§4.10 item 3's deletion path
// (testable property #4, scenario S3): the result's tsk_analysis_results
// row, its blackboard_artifacts row, and its own tsk_objects row are
// removed, the scored object's aggregate is recomputed from the surviving
// results, and the deleted-result event is buffered for commit-time firing.
func (s *Store) DeleteAnalysisResult(ctx context.Context, tx storage.Tx, artifactObjID, objID, dataSourceObjID int64) error {
	exec := s.conn(tx)

	if _, err := s.execContext(ctx, exec,
		`DELETE FROM tsk_analysis_results WHERE artifact_obj_id = $1`, artifactObjID); err != nil {
		return err
	}
	if _, err := s.execContext(ctx, exec,
		`DELETE FROM blackboard_artifacts WHERE artifact_obj_id = $1`, artifactObjID); err != nil {
		return err
	}
	if _, err := s.execContext(ctx, exec,
		`DELETE FROM tsk_objects WHERE obj_id = $1`, artifactObjID); err != nil {
		return err
	}

	if err := s.UpdateAggregateScoreAfterDeletion(ctx, tx, objID, dataSourceObjID); err != nil {
		return err
	}

	if t, ok := tx.(*pgTx); ok && t != nil {
		t.recordEvent(eventbus.Event{
			Type:            eventbus.EventAnalysisResultDeleted,
			ObjID:           objID,
			DataSourceObjID: dataSourceObjID,
		})
	}
	return nil
}

// GetArtifactsByType implements get_artifacts_by_type.
func (s *Store) GetArtifactsByType(ctx context.Context, tx storage.Tx, artifactTypeID int64, dataSourceObjID *int64) ([]*types.Artifact, error) {
	exec := s.conn(tx)
	query := `SELECT artifact_id, obj_id, artifact_obj_id, data_source_obj_id, artifact_type_id, review_status_id
		FROM blackboard_artifacts WHERE artifact_type_id = $1`
	args := []any{artifactTypeID}
	if dataSourceObjID != nil {
		query += ` AND data_source_obj_id = $2`
		args = append(args, *dataSourceObjID)
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.WrapDBError(err, "postgres: get artifacts by type")
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Artifact
	for rows.Next() {
		var a types.Artifact
		var reviewStatus int
		if err := rows.Scan(&a.ArtifactID, &a.ObjID, &a.ArtifactObjID, &a.DataSourceObjID, &a.ArtifactTypeID, &reviewStatus); err != nil {
			return nil, storage.WrapDBError(err, "postgres: scan artifact")
		}
		a.ReviewStatus = types.ReviewStatus(reviewStatus)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// GetAttributesByArtifact implements get_attributes_by_artifact.
func (s *Store) GetAttributesByArtifact(ctx context.Context, tx storage.Tx, artifactID int64) ([]types.Attribute, error) {
	exec := s.conn(tx)
	rows, err := exec.QueryContext(ctx, `
		SELECT attribute_type_id, value_type, COALESCE(value_text,''), value_byte,
			COALESCE(value_int32,0), COALESCE(value_int64,0), COALESCE(value_double,0), COALESCE(source,'')
		FROM blackboard_attributes WHERE artifact_id = $1`, artifactID)
	if err != nil {
		return nil, storage.WrapDBError(err, "postgres: get attributes by artifact")
	}
	defer func() { _ = rows.Close() }()

	var out []types.Attribute
	for rows.Next() {
		a := types.Attribute{ArtifactID: artifactID}
		var valueType int
		if err := rows.Scan(&a.AttributeTypeID, &valueType, &a.ValueText, &a.ValueByte,
			&a.ValueInt32, &a.ValueInt64, &a.ValueDouble, &a.Source); err != nil {
			return nil, storage.WrapDBError(err, "postgres: scan attribute")
		}
		a.ValueType = types.ValueType(valueType)
		out = append(out, a)
	}
	return out, rows.Err()
}
