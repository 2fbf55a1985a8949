package bed

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateLabel is returned by Create when the label is taken.
var ErrDuplicateLabel = errors.New("bed label already exists")

type BedRepository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	GetByLabel(ctx context.Context, label string) (*Bed, error)
	List(ctx context.Context, limit, offset int) ([]*Bed, int, error)
	ListByStatus(ctx context.Context, status Status) ([]*Bed, error)
	// UpdateStatus sets the status to `to` only while the current status is
	// one of from, and reports whether a row was changed.
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error)
}
