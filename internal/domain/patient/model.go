package patient

import (
	"time"

	"github.com/google/uuid"
)

// Status is the position of a patient in the bed-assignment episode.
type Status string

const (
	StatusPendingBed         Status = "pending_bed"
	StatusAssigned           Status = "assigned"
	StatusUnderCare          Status = "under_care"
	StatusDischargeRequested Status = "discharge_requested"
	StatusDischarged         Status = "discharged"
)

// statusRank orders the episode. A patient only ever moves to an equal or
// higher rank.
var statusRank = map[Status]int{
	StatusPendingBed:         0,
	StatusAssigned:           1,
	StatusUnderCare:          2,
	StatusDischargeRequested: 3,
	StatusDischarged:         4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanMoveTo reports whether moving from s to next keeps the episode order.
// Staying put is allowed so that replayed writes are harmless.
func (s Status) CanMoveTo(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to >= from
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}

// Patient maps to the patient table.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
