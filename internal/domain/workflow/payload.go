package workflow

import (
	"github.com/google/uuid"

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
)

// NextTask is a caller-named successor. Only catalog (type, role) pairs are
// accepted.
type NextTask struct {
	Type      task.Type  `json:"type"`
	AgentRole task.Role  `json:"agent_role"`
	BedID     *uuid.UUID `json:"bed_id,omitempty"`
}

func (n *NextTask) validate() error {
	switch {
	case n.Type == "":
		return invalidPayload("next_task.type is required")
	case n.AgentRole == "":
		return invalidPayload("next_task.agent_role is required")
	case !n.AgentRole.Valid():
		return invalidPayload("next_task.agent_role %q is not a known role", n.AgentRole)
	case !task.ValidPair(n.Type, n.AgentRole):
		return invalidPayload("next_task %s/%s is not a valid task kind", n.Type, n.AgentRole)
	}
	return nil
}

func (n *NextTask) successor() *task.Successor {
	return &task.Successor{Type: n.Type, AgentRole: n.AgentRole, BedID: n.BedID}
}

// Payload is the role-supplied part of a completion.
type Payload struct {
	BedID    *uuid.UUID `json:"bed_id,omitempty"`
	NextTask *NextTask  `json:"next_task,omitempty"`
}

// CompleteRequest asks the engine to close TaskID on behalf of Role.
type CompleteRequest struct {
	TaskID  uuid.UUID
	Role    task.Role
	Payload Payload
}

// OverrideRequest is the privileged manual transition. Every field other
// than TaskID, Actor and Reason is optional.
type OverrideRequest struct {
	TaskID        uuid.UUID
	Actor         string
	Reason        string
	PatientStatus *patient.Status
	BedStatus     *bed.Status
	BedID         *uuid.UUID
	NextTask      *NextTask
}

// Result reports a completed transition.
type Result struct {
	Message  string     `json:"message"`
	Task     *task.Task `json:"task"`
	NextTask *task.Task `json:"next_task"`
}

// AdmissionResult is returned by CreateAdmission.
type AdmissionResult struct {
	Admission *admission.Admission `json:"admission"`
	Task      *task.Task           `json:"task"`
}

// DischargeResult is returned by RequestDischarge.
type DischargeResult struct {
	PatientID uuid.UUID  `json:"patient_id"`
	BedID     uuid.UUID  `json:"bed_id"`
	Task      *task.Task `json:"task"`
}
