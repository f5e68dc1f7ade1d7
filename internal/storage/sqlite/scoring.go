package sqlite

import (
	"context"
	"database/sql"

	"github.com/sk8/skcd/internal/eventbus"
	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// upsertAggregateScore implements §4.6's contract: tsk_aggregate_score[objID]
// holds the maximum (by significance, then priority) observed so far. On the
// embedded backend the process-wide write lock already serializes writers,
// so no extra table lock is taken here (contrast the networked backend's
// explicit SHARE ROW EXCLUSIVE lock).
func (s *Store) upsertAggregateScore(ctx context.Context, tx storage.Tx, objID, dataSourceObjID int64, sig types.Significance, pri types.Priority) error {
	exec := s.conn(tx)

	var curSig, curPri int
	err := exec.QueryRowContext(ctx, `SELECT significance, priority FROM tsk_aggregate_score WHERE obj_id = ?`, objID).
		Scan(&curSig, &curPri)

	newSig := sig
	newPri := pri
	switch {
	case err == nil:
		existing := types.Significance(curSig)
		if existing.Rank() > newSig.Rank() {
			newSig = existing
			newPri = types.Priority(curPri)
		}
		if newSig == sig && newPri < pri {
			newPri = pri
		}
		if _, err := s.execContext(ctx, exec,
			`UPDATE tsk_aggregate_score SET significance = ?, priority = ? WHERE obj_id = ?`,
			int(newSig), int(newPri), objID); err != nil {
			return err
		}
	case err == sql.ErrNoRows:
		if _, err := s.execContext(ctx, exec, `
			INSERT INTO tsk_aggregate_score (obj_id, data_source_obj_id, significance, priority)
			VALUES (?, ?, ?, ?)`, objID, dataSourceObjID, int(newSig), int(newPri)); err != nil {
			return err
		}
	default:
		return storage.WrapDBError(err, "sqlite: read aggregate score")
	}

	if t, ok := tx.(*sqliteTx); ok && t != nil {
		t.recordScoreChange(objID, eventbus.Event{
			Type:            eventbus.EventScoreChanged,
			ObjID:           objID,
			DataSourceObjID: dataSourceObjID,
			Payload:         types.AggregateScore{ObjID: objID, DataSourceObjID: dataSourceObjID, Significance: newSig, Priority: newPri},
		})
	}
	return nil
}

// UpdateAggregateScoreAfterDeletion implements §4.6's deletion path: re-read
// surviving analysis results for (objID, dataSourceObjID) and replace the
// aggregate with their maximum, or remove the row entirely if none survive
// (testable property #4, scenario S3).
func (s *Store) UpdateAggregateScoreAfterDeletion(ctx context.Context, tx storage.Tx, objID, dataSourceObjID int64) error {
	exec := s.conn(tx)

	rows, err := exec.QueryContext(ctx, `
		SELECT r.significance, r.priority
		FROM tsk_analysis_results r
		JOIN blackboard_artifacts a ON a.artifact_obj_id = r.artifact_obj_id
		WHERE a.obj_id = ?`, objID)
	if err != nil {
		return storage.WrapDBError(err, "sqlite: read surviving results")
	}
	defer func() { _ = rows.Close() }()

	best := types.SignificanceUnknown
	bestPri := types.PriorityNormal
	found := false
	for rows.Next() {
		var sig, pri int
		if err := rows.Scan(&sig, &pri); err != nil {
			return storage.WrapDBError(err, "sqlite: scan surviving result")
		}
		s := types.Significance(sig)
		if !found || s.Rank() > best.Rank() {
			best = s
			bestPri = types.Priority(pri)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !found {
		if _, err := s.execContext(ctx, exec, `DELETE FROM tsk_aggregate_score WHERE obj_id = ?`, objID); err != nil {
			return err
		}
	} else {
		if _, err := s.execContext(ctx, exec, `
			INSERT INTO tsk_aggregate_score (obj_id, data_source_obj_id, significance, priority)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(obj_id) DO UPDATE SET significance = excluded.significance, priority = excluded.priority`,
			objID, dataSourceObjID, int(best), int(bestPri)); err != nil {
			return err
		}
	}

	if t, ok := tx.(*sqliteTx); ok && t != nil {
		t.recordScoreChange(objID, eventbus.Event{
			Type:            eventbus.EventScoreChanged,
			ObjID:           objID,
			DataSourceObjID: dataSourceObjID,
			Payload:         types.AggregateScore{ObjID: objID, DataSourceObjID: dataSourceObjID, Significance: best, Priority: bestPri},
		})
	}
	return nil
}

// GetAggregateScore implements get_aggregate_score.
func (s *Store) GetAggregateScore(ctx context.Context, tx storage.Tx, objID int64) (*types.AggregateScore, error) {
	exec := s.conn(tx)
	var score types.AggregateScore
	score.ObjID = objID
	var sig, pri int
	err := exec.QueryRowContext(ctx, `SELECT data_source_obj_id, significance, priority FROM tsk_aggregate_score WHERE obj_id = ?`, objID).
		Scan(&score.DataSourceObjID, &sig, &pri)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapDBErrorf(err, "sqlite: get aggregate score for %d", objID)
	}
	score.Significance = types.Significance(sig)
	score.Priority = types.Priority(pri)
	return &score, nil
}
