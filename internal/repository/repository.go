// Package repository declares the storage contract for execution records.
package repository

import (
	"context"
	"time"

	"github.com/sakif/code-runner/internal/model"
)

// ExecutionRepository persists execution records.
//
// Implementations copy on the way in and on the way out: a caller never
// holds memory that the store (or another caller) can mutate. Get returns an
// error matching apperror.ErrNotFound for unknown ids.
type ExecutionRepository interface {
	Save(ctx context.Context, e *model.Execution) error
	Get(ctx context.Context, id string) (*model.Execution, error)
}

// ListOptions pages through executions, newest first.
type ListOptions struct {
	Limit  int
	Offset int
	// Status filters by status when non-empty.
	Status model.Status
}

// Default and maximum page sizes for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize clamps the options to valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// ExecutionLister is implemented by stores that can enumerate executions.
type ExecutionLister interface {
	List(ctx context.Context, opts ListOptions) ([]model.Execution, error)
}

// ExecutionPruner is implemented by stores that can drop finished
// executions older than a cutoff.
type ExecutionPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
