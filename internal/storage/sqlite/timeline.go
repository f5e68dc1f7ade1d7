package sqlite

import (
	"context"
	"database/sql"

	"github.com/sk8/skcd/internal/eventbus"
	"github.com/sk8/skcd/internal/storage"
	"github.com/sk8/skcd/internal/types"
)

// timelineEventKind names the four MAC(B) timestamp slots a file row carries;
// each becomes its own tsk_event_types row, get-or-created by display name.
type timelineEventKind struct {
	displayName string
	time        func(*types.File) int64
}

var timelineEventKinds = []timelineEventKind{
	{"File Modified", func(f *types.File) int64 { return f.Mtime }},
	{"File Accessed", func(f *types.File) int64 { return f.Atime }},
	{"File Changed", func(f *types.File) int64 { return f.Crtime }},
	{"File Created", func(f *types.File) int64 { return f.Ctime }},
}

// addEventsForNewFile is the timeline subsystem's collaborator contract
// (§4.4, add_events_for_new_file(file, connection)): one tsk_events row per
// non-zero MAC(B) timestamp the file carries, each hung off a shared
// event_description row for the file. EventTimelineEventAdded is buffered
// onto the owning transaction for commit-time firing.
func (s *Store) addEventsForNewFile(ctx context.Context, tx storage.Tx, f *types.File) error {
	exec := s.conn(tx)

	var descriptionID int64
	descriptionSet := false
	for _, kind := range timelineEventKinds {
		t := kind.time(f)
		if t == 0 {
			continue
		}
		if !descriptionSet {
			id, err := s.getOrCreateEventDescription(ctx, exec, f)
			if err != nil {
				return err
			}
			descriptionID = id
			descriptionSet = true
		}
		typeID, err := s.getOrCreateEventType(ctx, exec, kind.displayName)
		if err != nil {
			return err
		}
		if _, err := s.execContext(ctx, exec, `
			INSERT OR IGNORE INTO tsk_events (event_description_id, time, event_type_id) VALUES (?, ?, ?)`,
			descriptionID, t, typeID); err != nil {
			return err
		}
	}

	if descriptionSet {
		if t, ok := tx.(*sqliteTx); ok && t != nil {
			t.recordEvent(eventbus.Event{
				Type:            eventbus.EventTimelineEventAdded,
				ObjID:           f.ObjID,
				DataSourceObjID: f.DataSourceObjID,
			})
		}
	}
	return nil
}

func (s *Store) getOrCreateEventDescription(ctx context.Context, exec dbExecutor, f *types.File) (int64, error) {
	res, err := s.execContext(ctx, exec, `
		INSERT INTO tsk_event_descriptions (full_description, data_source_obj_id, content_obj_id, artifact_id)
		VALUES (?, ?, ?, NULL)`,
		f.ParentPath+f.Name, f.DataSourceObjID, f.ObjID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) getOrCreateEventType(ctx context.Context, exec dbExecutor, displayName string) (int64, error) {
	var id int64
	err := exec.QueryRowContext(ctx, `SELECT event_type_id FROM tsk_event_types WHERE display_name = ?`, displayName).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, storage.WrapDBError(err, "sqlite: look up event type")
	}
	res, err := s.execContext(ctx, exec, `INSERT INTO tsk_event_types (display_name, super_type_id) VALUES (?, NULL)`, displayName)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
