package admission

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAwaitingCleaning Status = "awaiting_cleaning"
	StatusAssigned         Status = "assigned"
	StatusDischarged       Status = "discharged"
)

// Admission is one bed-assignment episode of a patient. BedID stays nil
// until a BED agent claims a bed.
type Admission struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	BedID     *uuid.UUID `db:"bed_id" json:"bed_id"`
	Status    Status     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the episode is still open.
func (a *Admission) Active() bool {
	return a.Status != StatusDischarged
}

// HasBed reports whether the admission is linked to id.
func (a *Admission) HasBed(id uuid.UUID) bool {
	return a.BedID != nil && *a.BedID == id
}
