// Package audit persists decisions for later retrieval. Records are
// written atomically, only for fully-completed decisions.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/szandany/policyguard/internal/models"
)

// ErrStore marks an audit storage failure. Surfaced to callers as a
// collaborator error, never conflated with a policy HARD_FAIL.
var ErrStore = errors.New("audit store")

// Record is a persisted decision plus request metadata.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Owner     string          `json:"owner"`
	Project   string          `json:"project,omitempty"`
	Branch    string          `json:"branch,omitempty"`
	Status    models.Status   `json:"status"`
	Decision  models.Decision `json:"decision"`
	Input     any             `json:"input"`
}

// Filter narrows a query. All fields are optional and combine with
// logical AND.
type Filter struct {
	After   time.Time
	Before  time.Time
	Project string
	Branch  string
}

// Store is the decision log. Query results are ordered newest first
// (creation time descending, record id descending as tiebreak).
type Store interface {
	Append(ctx context.Context, r Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}
