package task

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrDuplicate is returned by Create when a task with the same dedupe
	// key already exists.
	ErrDuplicate = errors.New("task with this dedupe key already exists")
	// ErrBedBusy is returned by Create when another pending task already
	// references the bed.
	ErrBedBusy = errors.New("bed already has a pending task")
)

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Role      Role
	Status    Status
	PatientID *uuid.UUID
	BedID     *uuid.UUID
}

type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	GetByDedupeKey(ctx context.Context, key string) (*Task, error)
	// ListPending returns the pending tasks for role, oldest first.
	ListPending(ctx context.Context, role Role) ([]*Task, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Task, int, error)
	// Complete closes a pending task and records its successor. It reports
	// false when the task was not pending.
	Complete(ctx context.Context, id uuid.UUID, successor *Successor) (bool, error)
}
