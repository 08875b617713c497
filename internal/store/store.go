// Package store is the policy management layer: named policy documents
// with activation state and revision history. The decision engine only
// consumes the active set; management operations live here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wI2L/jsondiff"
)

// ErrStore marks a policy storage failure (collaborator error).
var ErrStore = errors.New("policy store")

// ErrNotFound reports an unknown policy id.
var ErrNotFound = errors.New("policy not found")

// Summary describes a stored policy without its content.
type Summary struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Policy is a stored policy document.
type Policy struct {
	Summary
	Content string `json:"content"`
}

// Store manages policy documents for the decision engine.
type Store interface {
	// Create validates content through the policy loader and stores
	// it. New policies start active.
	Create(ctx context.Context, owner, name, content string) (Policy, error)

	// List returns summaries for an owner, optionally only active
	// policies, ordered by name.
	List(ctx context.Context, owner string, activeOnly bool) ([]Summary, error)

	Get(ctx context.Context, id string) (Policy, error)

	// Update validates the new content, bumps the revision, and
	// records a patch describing what changed.
	Update(ctx context.Context, id, content string) (Summary, error)

	Delete(ctx context.Context, id string) error

	SetActive(ctx context.Context, id string, active bool) (Summary, error)

	// ActiveContent returns the content of every active policy for an
	// owner, by name order, ready for a merged bundle load.
	ActiveContent(ctx context.Context, owner string) ([][]byte, error)

	// Diff returns the recorded patch between two revisions of one
	// policy.
	Diff(ctx context.Context, id string, from, to int) (jsondiff.Patch, error)

	Close() error
}
