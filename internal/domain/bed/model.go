package bed

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable       Status = "available"
	StatusPendingCleaning Status = "pending_cleaning"
	StatusOccupied        Status = "occupied"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusPendingCleaning, StatusOccupied:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}

// Bed maps to the bed table.
type Bed struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	Ward      string    `db:"ward" json:"ward,omitempty"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
