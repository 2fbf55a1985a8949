package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of work a task represents.
type Type string

const (
	TypeBedAssignment         Type = "bed_assignment"
	TypeCleaning              Type = "cleaning"
	TypePostDischargeCleaning Type = "post_discharge_cleaning"
	TypeNurseAssignment       Type = "nurse_assignment"
)

// Role names the agent class expected to complete a task.
type Role string

const (
	RoleMaster  Role = "MASTER"
	RoleBed     Role = "BED"
	RoleCleaner Role = "CLEANER"
	RoleNurse   Role = "NURSE"
)

// ParseRole reads a role name case-insensitively. The result may still be
// invalid; check it with Valid.
func ParseRole(raw string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(raw)))
}

// Roles lists every agent role.
var Roles = []Role{RoleMaster, RoleBed, RoleCleaner, RoleNurse}

func (r Role) Valid() bool {
	switch r {
	case RoleMaster, RoleBed, RoleCleaner, RoleNurse:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// catalog holds the (type, role) pairs a task may be created with.
var catalog = map[Type][]Role{
	TypeBedAssignment:         {RoleMaster, RoleBed},
	TypeCleaning:              {RoleCleaner},
	TypePostDischargeCleaning: {RoleCleaner},
	TypeNurseAssignment:       {RoleNurse},
}

// ValidPair reports whether a task of type t may be routed to role r.
func ValidPair(t Type, r Role) bool {
	for _, allowed := range catalog[t] {
		if allowed == r {
			return true
		}
	}
	return false
}

// Successor describes the task a completion creates. It is recorded on the
// closed task so an interrupted completion can be finished later.
type Successor struct {
	Type      Type       `json:"type"`
	AgentRole Role       `json:"agent_role"`
	BedID     *uuid.UUID `json:"bed_id,omitempty"`
}

// Task maps to the task table.
type Task struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Seq         int64      `db:"seq" json:"-"`
	Type        Type       `db:"type" json:"type"`
	AgentRole   Role       `db:"agent_role" json:"agent_role"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	BedID       *uuid.UUID `db:"bed_id" json:"bed_id"`
	Status      Status     `db:"status" json:"status"`
	DedupeKey   *string    `db:"dedupe_key" json:"-"`
	Successor   *Successor `db:"successor" json:"successor,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// New builds a pending task. dedupeKey may be empty.
func New(typ Type, role Role, patientID uuid.UUID, bedID *uuid.UUID, dedupeKey string) *Task {
	t := &Task{
		Type:      typ,
		AgentRole: role,
		PatientID: patientID,
		BedID:     bedID,
		Status:    StatusPending,
	}
	if dedupeKey != "" {
		t.DedupeKey = &dedupeKey
	}
	return t
}

// Pending reports whether the task is still open.
func (t *Task) Pending() bool { return t.Status == StatusPending }
