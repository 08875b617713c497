package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/szandany/policyguard/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	owner      TEXT NOT NULL,
	project    TEXT NOT NULL DEFAULT '',
	branch     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	decision   TEXT NOT NULL,
	input      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_log_created ON decision_log(created_at);
CREATE INDEX IF NOT EXISTS idx_decision_log_project ON decision_log(project);
`

// sqliteStore implements Store on a local SQLite database.
type sqliteStore struct {
	db *sql.DB
}

// Open creates or opens the decision log at path. WAL mode keeps
// concurrent readers from blocking the writer.
func Open(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable wal: %v", ErrStore, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: busy timeout: %v", ErrStore, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: schema: %v", ErrStore, err)
	}
	return &sqliteStore{db: db}, nil
}

// Append writes one record in a single transaction.
func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	decision, err := json.Marshal(r.Decision)
	if err != nil {
		return fmt.Errorf("%w: marshal decision: %v", ErrStore, err)
	}
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("%w: marshal input: %v", ErrStore, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_log (id, created_at, owner, project, branch, status, decision, input)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixNano(), r.Owner, r.Project, r.Branch, string(r.Status),
		string(decision), string(input))
	if err != nil {
		return fmt.Errorf("%w: insert: %v", ErrStore, err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *sqliteStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	q := `SELECT id, created_at, owner, project, branch, status, decision, input
		FROM decision_log WHERE 1=1`
	var args []any

	if !f.After.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, f.After.UnixNano())
	}
	if !f.Before.IsZero() {
		q += " AND created_at <= ?"
		args = append(args, f.Before.UnixNano())
	}
	if f.Project != "" {
		q += " AND project = ?"
		args = append(args, f.Project)
	}
	if f.Branch != "" {
		q += " AND branch = ?"
		args = append(args, f.Branch)
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			createdAt int64
			status    string
			decision  string
			input     string
		)
		if err := rows.Scan(&r.ID, &createdAt, &r.Owner, &r.Project, &r.Branch,
			&status, &decision, &input); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStore, err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.Status = models.Status(status)
		if err := json.Unmarshal([]byte(decision), &r.Decision); err != nil {
			return nil, fmt.Errorf("%w: decode decision %s: %v", ErrStore, r.ID, err)
		}
		if err := json.Unmarshal([]byte(input), &r.Input); err != nil {
			return nil, fmt.Errorf("%w: decode input %s: %v", ErrStore, r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return out, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
