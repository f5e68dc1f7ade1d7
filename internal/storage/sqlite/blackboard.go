package sqlite

import (
	"context"
	"database/sql"
	"math"

	"github.com/sk8/skcd/internal/eventbus"
	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// initArtifactCounter implements §4.5's artifact-id allocation rule for the
// embedded backend: a monotonic client-side counter seeded from
// max(artifact_id)+1, or math.MinInt64 if the table is empty.
func (s *Store) initArtifactCounter(ctx context.Context) error {
	var maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(artifact_id) FROM blackboard_artifacts`).Scan(&maxID)
	if err != nil {
		return storage.WrapDBError(err, "sqlite: init artifact counter")
	}
	s.artifactCounterMu.Lock()
	defer s.artifactCounterMu.Unlock()
	if maxID.Valid {
		s.nextArtifactID = maxID.Int64 + 1
	} else {
		s.nextArtifactID = math.MinInt64
	}
	return nil
}

func (s *Store) allocArtifactID() int64 {
	s.artifactCounterMu.Lock()
	defer s.artifactCounterMu.Unlock()
	id := s.nextArtifactID
	s.nextArtifactID++
	return id
}

// insertArtifactRow creates the artifact's own tsk_objects row and its
// blackboard_artifacts row, common to both data artifacts and analysis
// results (§4.5 items (i) and (ii)).
func (s *Store) insertArtifactRow(ctx context.Context, tx storage.Tx, obj *types.Artifact) (artifactID, artifactObjID int64, err error) {
	exec := s.conn(tx)

	artifactObjID, err = s.AddObject(ctx, tx, obj.ObjID, types.ObjectTypeArtifact)
	if err != nil {
		return 0, 0, err
	}

	artifactID = s.allocArtifactID()
	_, err = s.execContext(ctx, exec, `
		INSERT INTO blackboard_artifacts (artifact_id, obj_id, artifact_obj_id, data_source_obj_id, artifact_type_id, review_status_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		artifactID, obj.ObjID, artifactObjID, obj.DataSourceObjID, obj.ArtifactTypeID, int(obj.ReviewStatus))
	if err != nil {
		return 0, 0, err
	}

	obj.ArtifactID = artifactID
	obj.ArtifactObjID = artifactObjID
	return artifactID, artifactObjID, nil
}

// AddDataArtifact implements §4.5's data-artifact creation: the object and
// blackboard_artifacts rows, plus the tsk_data_artifacts side-table row.
func (s *Store) AddDataArtifact(ctx context.Context, tx storage.Tx, obj *types.Artifact) (int64, error) {
	artifactID, artifactObjID, err := s.insertArtifactRow(ctx, tx, obj)
	if err != nil {
		return 0, err
	}

	exec := s.conn(tx)
	_, err = s.execContext(ctx, exec,
		`INSERT INTO tsk_data_artifacts (artifact_obj_id, os_account_obj_id) VALUES (?, NULL)`,
		artifactObjID)
	if err != nil {
		return 0, err
	}
	return artifactID, nil
}

// AddAnalysisResult implements §4.5's analysis-result creation: the object
// and blackboard_artifacts rows, the tsk_analysis_results row (omitted for a
// bare result per types.AnalysisResult.IsBare), and the §4.6 scoring
// aggregator invocation.
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
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
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

// valueMatchClause returns the extra SQL predicate and bind args that pin an
// attribute lookup down to its exact value, per §4.7's merge key
// (artifact_id, attribute_type_id, value_type, value): byte-compared for
// ValueTypeByte, column-compared otherwise, since exactly one of the five
// value columns is populated for a given value_type.
func valueMatchClause(a types.Attribute) (string, []any) {
	switch a.ValueType {
	case types.ValueTypeByte:
		return " AND value_byte = ?", []any{a.ValueByte}
	case types.ValueTypeInt32:
		return " AND value_int32 = ?", []any{a.ValueInt32}
	case types.ValueTypeInt64:
		return " AND value_int64 = ?", []any{a.ValueInt64}
	case types.ValueTypeDouble:
		return " AND value_double = ?", []any{a.ValueDouble}
	default:
		return " AND value_text = ?", []any{a.ValueText}
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
		valueClause, valueArgs := valueMatchClause(a)

		var existingSource sql.NullString
		selectArgs := append([]any{a.ArtifactID, a.AttributeTypeID, int(a.ValueType)}, valueArgs...)
		err := exec.QueryRowContext(ctx, `
			SELECT source FROM blackboard_attributes
			WHERE artifact_id = ? AND attribute_type_id = ? AND value_type = ?`+valueClause,
			selectArgs...).Scan(&existingSource)

		switch {
		case err == nil:
			merged := types.MergeSource(existingSource.String, a.Source)
			updateArgs := append([]any{merged, a.ArtifactID, a.AttributeTypeID, int(a.ValueType)}, valueArgs...)
			if _, err := s.execContext(ctx, exec, `
				UPDATE blackboard_attributes SET source = ?
				WHERE artifact_id = ? AND attribute_type_id = ? AND value_type = ?`+valueClause,
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
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ArtifactID, a.AttributeTypeID, int(a.ValueType), valText, valByte, valInt32, valInt64, valDouble, a.Source); err != nil {
				return err
			}
		default:
			return storage.WrapDBError(err, "sqlite: check existing attribute")
		}
	}
	return nil
}

// DeleteAnalysisResult implements §4.6/§4.10 item 3's deletion path
// (testable property #4, scenario S3): the result's tsk_analysis_results row,
// its blackboard_artifacts row, and its own tsk_objects row are removed, the
// scored object's aggregate is recomputed from the surviving results, and the
// deleted-result event is buffered for commit-time firing.
func (s *Store) DeleteAnalysisResult(ctx context.Context, tx storage.Tx, artifactObjID, objID, dataSourceObjID int64) error {
	exec := s.conn(tx)

	if _, err := s.execContext(ctx, exec,
		`DELETE FROM tsk_analysis_results WHERE artifact_obj_id = ?`, artifactObjID); err != nil {
		return err
	}
	if _, err := s.execContext(ctx, exec,
		`DELETE FROM blackboard_artifacts WHERE artifact_obj_id = ?`, artifactObjID); err != nil {
		return err
	}
	if _, err := s.execContext(ctx, exec,
		`DELETE FROM tsk_objects WHERE obj_id = ?`, artifactObjID); err != nil {
		return err
	}

	if err := s.UpdateAggregateScoreAfterDeletion(ctx, tx, objID, dataSourceObjID); err != nil {
		return err
	}

	if t, ok := tx.(*sqliteTx); ok && t != nil {
		t.recordEvent(eventbus.Event{
			Type:            eventbus.EventAnalysisResultDeleted,
			ObjID:           objID,
			DataSourceObjID: dataSourceObjID,
		})
	}
	return nil
}

// GetArtifactsByType implements get_artifacts_by_type, optionally scoped to
// a data source.
func (s *Store) GetArtifactsByType(ctx context.Context, tx storage.Tx, artifactTypeID int64, dataSourceObjID *int64) ([]*types.Artifact, error) {
	exec := s.conn(tx)
	query := `SELECT artifact_id, obj_id, artifact_obj_id, data_source_obj_id, artifact_type_id, review_status_id
		FROM blackboard_artifacts WHERE artifact_type_id = ?`
	args := []any{artifactTypeID}
	if dataSourceObjID != nil {
		query += ` AND data_source_obj_id = ?`
		args = append(args, *dataSourceObjID)
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.WrapDBError(err, "sqlite: get artifacts by type")
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Artifact
	for rows.Next() {
		var a types.Artifact
		var reviewStatus int
		if err := rows.Scan(&a.ArtifactID, &a.ObjID, &a.ArtifactObjID, &a.DataSourceObjID, &a.ArtifactTypeID, &reviewStatus); err != nil {
			return nil, storage.WrapDBError(err, "sqlite: scan artifact")
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
		FROM blackboard_attributes WHERE artifact_id = ?`, artifactID)
	if err != nil {
		return nil, storage.WrapDBError(err, "sqlite: get attributes by artifact")
	}
	defer func() { _ = rows.Close() }()

	var out []types.Attribute
	for rows.Next() {
		a := types.Attribute{ArtifactID: artifactID}
		var valueType int
		if err := rows.Scan(&a.AttributeTypeID, &valueType, &a.ValueText, &a.ValueByte,
			&a.ValueInt32, &a.ValueInt64, &a.ValueDouble, &a.Source); err != nil {
			return nil, storage.WrapDBError(err, "sqlite: scan attribute")
		}
		a.ValueType = types.ValueType(valueType)
		out = append(out, a)
	}
	return out, rows.Err()
}
