package workflow

import (
	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
)

// bedSource says where a rule finds the bed it acts on.
type bedSource int

const (
	noBed bedSource = iota
	bedFromTask
	bedFromPayload
	bedFromNextTask
)

// admissionSource says which admission a rule needs.
type admissionSource int

const (
	noAdmission admissionSource = iota
	activeAdmission
	latestAdmission
)

// state is everything a rule plans against. It is loaded by the engine
// before the rule runs.
type state struct {
	task      *task.Task
	payload   Payload
	patient   *patient.Patient
	bed       *bed.Bed
	admission *admission.Admission
}

// plan is the outcome of a rule: writes in order, then the successor.
type plan struct {
	mutations []mutation
	successor *task.Successor
	message   string
}

type rule struct {
	name      string
	bed       bedSource
	admission admissionSource
	plan      func(s *state) (*plan, error)
}

type ruleKey struct {
	role task.Role
	typ  task.Type
}

// transition is one row of the table. guard lists the patient statuses the
// row accepts; an empty guard accepts any.
type transition struct {
	guard []patient.Status
	rule  rule
}

var table = map[ruleKey][]transition{
	{task.RoleMaster, task.TypeBedAssignment}: {
		{rule: rule{name: "master_route", bed: bedFromNextTask, plan: planMasterRoute}},
	},
	{task.RoleBed, task.TypeBedAssignment}: {
		{
			guard: []patient.Status{patient.StatusPendingBed, patient.StatusAssigned},
			rule:  rule{name: "bed_claim", bed: bedFromPayload, admission: activeAdmission, plan: planBedClaim},
		},
	},
	{task.RoleCleaner, task.TypeCleaning}: {
		{rule: rule{name: "cleaning", bed: bedFromTask, plan: planCleaning}},
	},
	{task.RoleCleaner, task.TypePostDischargeCleaning}: {
		{rule: rule{name: "post_discharge_cleaning", bed: bedFromTask, plan: planPostDischargeCleaning}},
	},
	{task.RoleNurse, task.TypeNurseAssignment}: {
		{
			guard: []patient.Status{patient.StatusAssigned, patient.StatusUnderCare},
			rule:  rule{name: "nurse_admit", bed: bedFromTask, admission: activeAdmission, plan: planNurseAdmit},
		},
		{
			guard: []patient.Status{patient.StatusDischargeRequested, patient.StatusDischarged},
			rule:  rule{name: "nurse_discharge", bed: bedFromTask, admission: latestAdmission, plan: planNurseDischarge},
		},
	},
}

// lookup finds the rule for (role, type) and the patient status. ok is
// false when no row exists for the pair; guards lists the statuses the rows
// would have accepted when the pair exists but no guard matched.
func lookup(role task.Role, typ task.Type, status patient.Status) (r rule, ok bool, guards []patient.Status) {
	rows, ok := table[ruleKey{role, typ}]
	if !ok {
		return rule{}, false, nil
	}
	for _, row := range rows {
		if len(row.guard) == 0 {
			return row.rule, true, nil
		}
		for _, g := range row.guard {
			if g == status {
				return row.rule, true, nil
			}
		}
		guards = append(guards, row.guard...)
	}
	return rule{}, true, guards
}

func planMasterRoute(s *state) (*plan, error) {
	next := s.payload.NextTask
	if next == nil {
		return &plan{message: "task completed"}, nil
	}
	if err := next.validate(); err != nil {
		return nil, err
	}
	return &plan{successor: next.successor(), message: "task routed to " + string(next.AgentRole)}, nil
}

func planBedClaim(s *state) (*plan, error) {
	b, a := s.bed, s.admission
	resumed := b.Status == bed.StatusPendingCleaning && a.Status == admission.StatusAssigned && a.HasBed(b.ID)
	if !resumed {
		if b.Status != bed.StatusAvailable {
			return nil, invalidState("bed", b.ID, b.Status, bed.StatusAvailable)
		}
		if a.Status != admission.StatusAwaitingCleaning {
			return nil, invalidState("admission", a.ID, a.Status, admission.StatusAwaitingCleaning)
		}
	}
	claim := claimBed(b)
	if resumed {
		claim = setBed(b, bed.StatusPendingCleaning)
	}
	bedID := b.ID
	return &plan{
		mutations: []mutation{
			claim,
			linkAdmission(a, b.ID),
			setPatient(s.patient, patient.StatusAssigned, patient.StatusPendingBed),
		},
		successor: &task.Successor{Type: task.TypeCleaning, AgentRole: task.RoleCleaner, BedID: &bedID},
		message:   "bed assigned",
	}, nil
}

func cleanBed(s *state) (mutation, error) {
	if s.bed.Status == bed.StatusOccupied {
		return mutation{}, invalidState("bed", s.bed.ID, s.bed.Status, bed.StatusPendingCleaning)
	}
	return setBed(s.bed, bed.StatusAvailable, bed.StatusPendingCleaning), nil
}

func planCleaning(s *state) (*plan, error) {
	m, err := cleanBed(s)
	if err != nil {
		return nil, err
	}
	bedID := s.bed.ID
	return &plan{
		mutations: []mutation{m},
		successor: &task.Successor{Type: task.TypeNurseAssignment, AgentRole: task.RoleNurse, BedID: &bedID},
		message:   "bed cleaned",
	}, nil
}

func planPostDischargeCleaning(s *state) (*plan, error) {
	m, err := cleanBed(s)
	if err != nil {
		return nil, err
	}
	return &plan{mutations: []mutation{m}, message: "bed cleaned and released"}, nil
}

func planNurseAdmit(s *state) (*plan, error) {
	if !s.admission.HasBed(s.bed.ID) {
		return nil, inconsistent("admission", s.admission.ID, "not linked to bed %s", s.bed.ID)
	}
	if s.bed.Status == bed.StatusPendingCleaning {
		return nil, invalidState("bed", s.bed.ID, s.bed.Status, bed.StatusAvailable)
	}
	return &plan{
		mutations: []mutation{
			setBed(s.bed, bed.StatusOccupied, bed.StatusAvailable),
			setPatient(s.patient, patient.StatusUnderCare, patient.StatusAssigned),
		},
		message: "patient under care",
	}, nil
}

func planNurseDischarge(s *state) (*plan, error) {
	if !s.admission.HasBed(s.bed.ID) {
		return nil, inconsistent("admission", s.admission.ID, "not linked to bed %s", s.bed.ID)
	}
	if s.bed.Status == bed.StatusAvailable {
		return nil, invalidState("bed", s.bed.ID, s.bed.Status, bed.StatusOccupied)
	}
	bedID := s.bed.ID
	return &plan{
		mutations: []mutation{
			setBed(s.bed, bed.StatusPendingCleaning, bed.StatusOccupied),
			closeAdmission(s.admission),
			setPatient(s.patient, patient.StatusDischarged, patient.StatusDischargeRequested),
		},
		successor: &task.Successor{Type: task.TypePostDischargeCleaning, AgentRole: task.RoleCleaner, BedID: &bedID},
		message:   "patient discharged",
	}, nil
}
