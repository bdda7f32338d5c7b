package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Archive is the retention store for terminal tasks: a sqlite copy of the
// task record and its full transition history, queryable after the ledger
// directory is pruned. Ledger directories themselves are never rewritten.
type Archive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	parent_id   TEXT,
	owner       TEXT NOT NULL,
	status      TEXT NOT NULL,
	objective   TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	archived_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transitions (
	task_id     TEXT NOT NULL,
	ts          TIMESTAMP NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	evidence    TEXT,
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_transitions_task ON transitions(task_id);
`

// OpenArchive opens (and if needed initializes) the archive database.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// ArchiveTask copies a terminal task and its transition history into the
// archive. Non-terminal tasks are rejected; re-archiving is idempotent.
func (a *Archive) ArchiveTask(t *Task, history []Transition) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("archive task %s: status %s is not terminal", t.ID, t.Status)
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("archive task %s: %w", t.ID, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO tasks (id, parent_id, owner, status, objective, created_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ParentID, t.Owner, string(t.Status), t.Objective, t.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already archived
	}

	for _, tr := range history {
		if _, err := tx.Exec(
			`INSERT INTO transitions (task_id, ts, from_status, to_status, evidence) VALUES (?, ?, ?, ?, ?)`,
			t.ID, tr.Ts.UTC(), string(tr.From), string(tr.To), tr.Evidence,
		); err != nil {
			return fmt.Errorf("archive transitions for %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// ArchivedTask is one row of the archive listing.
type ArchivedTask struct {
	ID         string
	ParentID   string
	Owner      string
	Status     Status
	Objective  string
	ArchivedAt time.Time
}

// List returns archived tasks, most recently archived first.
func (a *Archive) List(limit int) ([]ArchivedTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		`SELECT id, COALESCE(parent_id, ''), owner, status, objective, archived_at
		 FROM tasks ORDER BY archived_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	defer rows.Close()

	var result []ArchivedTask
	for rows.Next() {
		var at ArchivedTask
		var status string
		if err := rows.Scan(&at.ID, &at.ParentID, &at.Owner, &status, &at.Objective, &at.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		at.Status = Status(status)
		result = append(result, at)
	}
	return result, rows.Err()
}

// History returns the archived transition history of one task.
func (a *Archive) History(taskID string) ([]Transition, error) {
	rows, err := a.db.Query(
		`SELECT ts, from_status, to_status, COALESCE(evidence, '')
		 FROM transitions WHERE task_id = ? ORDER BY ts`, taskID)
	if err != nil {
		return nil, fmt.Errorf("archive history: %w", err)
	}
	defer rows.Close()

	var result []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		if err := rows.Scan(&tr.Ts, &from, &to, &tr.Evidence); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		tr.From = Status(from)
		tr.To = Status(to)
		result = append(result, tr)
	}
	return result, rows.Err()
}
