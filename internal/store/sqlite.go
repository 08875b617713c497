package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wI2L/jsondiff"
	_ "modernc.org/sqlite"

	"github.com/szandany/policyguard/internal/document"
	"github.com/szandany/policyguard/internal/policy"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	name       TEXT NOT NULL,
	content    TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	revision   INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(owner, name)
);
CREATE TABLE IF NOT EXISTS policy_revisions (
	policy_id  TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	content    TEXT NOT NULL,
	patch      TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (policy_id, revision)
);
`

type sqliteStore struct {
	db *sql.DB
}

// Open creates or opens the policy store at path.
func Open(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: schema: %v", ErrStore, err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Create(ctx context.Context, owner, name, content string) (Policy, error) {
	if _, err := policy.Parse(name, [][]byte{[]byte(content)}); err != nil {
		return Policy{}, err
	}

	now := time.Now().UTC()
	p := Policy{
		Summary: Summary{
			ID:        uuid.NewString(),
			Owner:     owner,
			Name:      name,
			Active:    true,
			Revision:  1,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Content: content,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policies (id, owner, name, content, active, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, 1, ?, ?)`,
		p.ID, owner, name, content, now.UnixNano(), now.UnixNano()); err != nil {
		return Policy{}, fmt.Errorf("%w: insert: %v", ErrStore, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policy_revisions (policy_id, revision, content, created_at)
		VALUES (?, 1, ?, ?)`,
		p.ID, content, now.UnixNano()); err != nil {
		return Policy{}, fmt.Errorf("%w: revision: %v", ErrStore, err)
	}
	if err := tx.Commit(); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return p, nil
}

func (s *sqliteStore) List(ctx context.Context, owner string, activeOnly bool) ([]Summary, error) {
	q := `SELECT id, owner, name, active, revision, created_at, updated_at
		FROM policies WHERE owner = ?`
	if activeOnly {
		q += " AND active = 1"
	}
	q += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, q, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return out, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, active, revision, created_at, updated_at, content
		FROM policies WHERE id = ?`, id)

	var (
		p         Policy
		active    int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&p.ID, &p.Owner, &p.Name, &active, &p.Revision, &createdAt, &updatedAt, &p.Content)
	if err == sql.ErrNoRows {
		return Policy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("%w: get: %v", ErrStore, err)
	}
	p.Active = active != 0
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return p, nil
}

func (s *sqliteStore) Update(ctx context.Context, id, content string) (Summary, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if _, err := policy.Parse(old.Name, [][]byte{[]byte(content)}); err != nil {
		return Summary{}, err
	}

	patch, err := contentPatch(old.Content, content)
	if err != nil {
		return Summary{}, err
	}

	now := time.Now().UTC()
	revision := old.Revision + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE policies SET content = ?, revision = ?, updated_at = ? WHERE id = ?`,
		content, revision, now.UnixNano(), id); err != nil {
		return Summary{}, fmt.Errorf("%w: update: %v", ErrStore, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policy_revisions (policy_id, revision, content, patch, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, revision, content, patch, now.UnixNano()); err != nil {
		return Summary{}, fmt.Errorf("%w: revision: %v", ErrStore, err)
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	sum := old.Summary
	sum.Revision = revision
	sum.UpdatedAt = now
	return sum, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM policy_revisions WHERE policy_id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete revisions: %v", ErrStore, err)
	}
	return nil
}

func (s *sqliteStore) SetActive(ctx context.Context, id string, active bool) (Summary, error) {
	val := 0
	if active {
		val = 1
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE policies SET active = ?, updated_at = ? WHERE id = ?`,
		val, now.UnixNano(), id)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: activate: %v", ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if n == 0 {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return p.Summary, nil
}

func (s *sqliteStore) ActiveContent(ctx context.Context, owner string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM policies WHERE owner = ? AND active = 1 ORDER BY name`, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: active: %v", ErrStore, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStore, err)
		}
		out = append(out, []byte(content))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return out, nil
}

func (s *sqliteStore) Diff(ctx context.Context, id string, from, to int) (jsondiff.Patch, error) {
	fromContent, err := s.revisionContent(ctx, id, from)
	if err != nil {
		return nil, err
	}
	toContent, err := s.revisionContent(ctx, id, to)
	if err != nil {
		return nil, err
	}

	a, err := canonicalJSON(fromContent)
	if err != nil {
		return nil, err
	}
	b, err := canonicalJSON(toContent)
	if err != nil {
		return nil, err
	}
	patch, err := jsondiff.CompareJSON(a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: diff: %v", ErrStore, err)
	}
	return patch, nil
}

func (s *sqliteStore) revisionContent(ctx context.Context, id string, revision int) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content FROM policy_revisions WHERE policy_id = ? AND revision = ?`,
		id, revision)
	var content string
	err := row.Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s revision %d", ErrNotFound, id, revision)
	}
	if err != nil {
		return "", fmt.Errorf("%w: revision: %v", ErrStore, err)
	}
	return content, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func scanSummary(scan func(...any) error) (Summary, error) {
	var (
		sum       Summary
		active    int
		createdAt int64
		updatedAt int64
	)
	if err := scan(&sum.ID, &sum.Owner, &sum.Name, &active, &sum.Revision, &createdAt, &updatedAt); err != nil {
		return Summary{}, fmt.Errorf("%w: scan: %v", ErrStore, err)
	}
	sum.Active = active != 0
	sum.CreatedAt = time.Unix(0, createdAt).UTC()
	sum.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return sum, nil
}

// contentPatch records what changed between two policy documents as a
// JSON patch over their canonical forms.
func contentPatch(oldContent, newContent string) (string, error) {
	a, err := canonicalJSON(oldContent)
	if err != nil {
		return "", err
	}
	b, err := canonicalJSON(newContent)
	if err != nil {
		return "", err
	}
	patch, err := jsondiff.CompareJSON(a, b)
	if err != nil {
		return "", fmt.Errorf("%w: patch: %v", ErrStore, err)
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}
	return string(data), nil
}

// canonicalJSON renders policy YAML as JSON so revisions diff cleanly.
func canonicalJSON(content string) ([]byte, error) {
	v, err := document.Decode([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	data, err := json.Marshal(document.Plain(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return data, nil
}
