package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidFilter marks a list or queue request naming an unknown role or
// status.
var ErrInvalidFilter = errors.New("invalid task filter")

// Service is the read side of the task log. Tasks are created and completed
// through the workflow engine.
type Service struct {
	tasks TaskRepository
}

func NewService(tasks TaskRepository) *Service {
	return &Service{tasks: tasks}
}

// Queue returns the pending tasks for role in creation order. An empty
// queue is an empty slice.
func (s *Service) Queue(ctx context.Context, role Role) ([]*Task, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidFilter, role)
	}
	items, err := s.tasks.ListPending(ctx, role)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Task{}
	}
	return items, nil
}

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, f ListFilter, limit, offset int) ([]*Task, int, error) {
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown role %q", ErrInvalidFilter, f.Role)
	}
	if f.Status != "" && f.Status != StatusPending && f.Status != StatusCompleted {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	return s.tasks.List(ctx, f, limit, offset)
}
