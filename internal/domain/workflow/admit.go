package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/db"
)

// CreateAdmission opens an episode for a patient waiting for a bed and
// queues the first bed_assignment task for MASTER. Calling it again for the
// same waiting patient returns the same admission and task.
func (e *Engine) CreateAdmission(ctx context.Context, patientID uuid.UUID) (res *AdmissionResult, err error) {
	start := time.Now()
	defer func() {
		if err != nil && KindOf(err) != KindInvalidState && KindOf(err) != KindNotFound {
			e.log.Error().Err(err).Str("patient_id", patientID.String()).Msg("create admission failed")
		}
		e.recorder.ObserveTransition("admit", task.RoleMaster, task.TypeBedAssignment, outcome(err), time.Since(start))
	}()

	p, err := e.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.Status != patient.StatusPendingBed {
		return nil, invalidState("patient", p.ID, p.Status, patient.StatusPendingBed)
	}

	a, created, err := e.openAdmission(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	t, err := e.enqueue(ctx, task.New(task.TypeBedAssignment, task.RoleMaster, p.ID, nil, "admission:"+a.ID.String()))
	if err != nil {
		committed := []string{"admission " + a.ID.String() + " exists"}
		if created {
			committed[0] = "admission " + a.ID.String() + " created"
		}
		return nil, partialFailure(committed, err)
	}

	e.log.Info().Str("patient_id", p.ID.String()).Str("admission_id", a.ID.String()).
		Str("task_id", t.ID.String()).Bool("reused", !created).Msg("admission created")
	return &AdmissionResult{Admission: a, Task: t}, nil
}

// openAdmission returns the patient's awaiting admission, inserting one when
// none is active.
func (e *Engine) openAdmission(ctx context.Context, patientID uuid.UUID) (*admission.Admission, bool, error) {
	repo := e.store.Admissions()
	for attempt := 0; attempt < 2; attempt++ {
		a, err := repo.GetActiveByPatient(ctx, patientID)
		switch {
		case err == nil:
			if a.Status != admission.StatusAwaitingCleaning {
				return nil, false, inconsistent("admission", a.ID,
					"patient %s is pending_bed but admission is %s", patientID, a.Status)
			}
			return a, false, nil
		case !errors.Is(err, db.ErrNotFound):
			return nil, false, fmt.Errorf("load admission for patient %s: %w", patientID, err)
		}

		a = &admission.Admission{PatientID: patientID, Status: admission.StatusAwaitingCleaning}
		err = repo.Create(ctx, a)
		if err == nil {
			return a, true, nil
		}
		if !errors.Is(err, admission.ErrActiveExists) {
			return nil, false, fmt.Errorf("create admission: %w", err)
		}
		// Lost a race with a concurrent call; read the winner.
	}
	return nil, false, fmt.Errorf("create admission for patient %s: concurrent writers", patientID)
}
