package admission

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrActiveExists is returned by Create when the patient already has an
// open admission.
var ErrActiveExists = errors.New("patient already has an active admission")

type AdmissionRepository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	// GetActiveByPatient returns the open admission of a patient.
	GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error)
	// LatestByPatient returns the most recent admission whatever its status.
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error)
	List(ctx context.Context, limit, offset int) ([]*Admission, int, error)
	// LinkBed records bedID on an awaiting_cleaning admission and moves it to
	// assigned. Linking the bed it already holds also reports true.
	LinkBed(ctx context.Context, id, bedID uuid.UUID) (bool, error)
	// UnlinkBed reverts LinkBed while the admission still holds bedID.
	UnlinkBed(ctx context.Context, id, bedID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error)
}
