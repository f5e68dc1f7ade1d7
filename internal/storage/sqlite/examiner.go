package sqlite

import (
	"context"
	"database/sql"
	"os/user"

	"github.com/sk8/skcd/internal/storage"
)

// resolveExaminer implements §4.7's "tags are inserted with an examiner id
// resolved from the host operating-system account name at case-open":
// get-or-create the current OS user's tsk_examiners row and remember its id
// on the Store for every subsequent tag insert.
func (s *Store) resolveExaminer(ctx context.Context) error {
	loginName := currentOSUsername()

	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT examiner_id FROM tsk_examiners WHERE login_name = ?`, loginName).Scan(&id)
	if err == nil {
		s.examinerID = id
		return nil
	}
	if err != sql.ErrNoRows {
		return storage.WrapDBError(err, "sqlite: look up examiner")
	}

	res, err := s.execContext(ctx, s.db, `INSERT INTO tsk_examiners (login_name, full_name) VALUES (?, ?)`, loginName, loginName)
	if err != nil {
		return err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return storage.WrapDBError(err, "sqlite: read tsk_examiners last insert id")
	}
	s.examinerID = id
	return nil
}

// currentOSUsername resolves the host account name, falling back to
// "unknown" when the platform offers no current-user lookup (containers
// without /etc/passwd entries, some sandboxes).
func currentOSUsername() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "unknown"
	}
	return u.Username
}
