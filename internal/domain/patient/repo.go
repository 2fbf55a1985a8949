package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	// UpdateStatus sets the status to `to` only while the current status is
	// one of from, and reports whether a row was changed.
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error)
}
