package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/db"
)

// RequestDischarge ends the care episode of a patient under care and hands
// the bed to NURSE. A patient already in discharge_requested resumes.
func (e *Engine) RequestDischarge(ctx context.Context, patientID uuid.UUID) (res *DischargeResult, err error) {
	start := time.Now()
	defer func() {
		switch KindOf(err) {
		case KindPartialFailure, KindInconsistent:
			e.log.Error().Err(err).Str("patient_id", patientID.String()).Msg("discharge request failed")
		}
		e.recorder.ObserveTransition("discharge", task.RoleNurse, task.TypeNurseAssignment, outcome(err), time.Since(start))
	}()

	p, err := e.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.Status != patient.StatusUnderCare && p.Status != patient.StatusDischargeRequested {
		return nil, invalidState("patient", p.ID, p.Status, patient.StatusUnderCare)
	}

	a, err := e.store.Admissions().GetActiveByPatient(ctx, p.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, inconsistent("patient", p.ID, "status %s but no active admission", p.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("load admission for patient %s: %w", p.ID, err)
	}
	if a.BedID == nil {
		return nil, inconsistent("admission", a.ID, "active episode of patient %s has no bed", p.ID)
	}
	bedID := *a.BedID

	key := "discharge:" + a.ID.String()
	if err := e.checkBedFree(ctx, bedID, func(other *task.Task) bool {
		return other.DedupeKey != nil && *other.DedupeKey == key
	}); err != nil {
		return nil, err
	}

	committed, err := run(ctx, e.store, []mutation{
		setPatient(p, patient.StatusDischargeRequested, patient.StatusUnderCare),
	})
	if err != nil {
		return nil, err
	}

	t, err := e.enqueue(ctx, task.New(task.TypeNurseAssignment, task.RoleNurse, p.ID, &bedID, key))
	if err != nil {
		return nil, partialFailure(committed, err)
	}

	e.log.Info().Str("patient_id", p.ID.String()).Str("bed_id", bedID.String()).
		Str("task_id", t.ID.String()).Msg("discharge requested")
	return &DischargeResult{PatientID: p.ID, BedID: bedID, Task: t}, nil
}
