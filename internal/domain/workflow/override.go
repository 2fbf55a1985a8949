package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careflow/careflow/internal/domain/task"
)

// OverrideTask closes a pending task outside the transition table, applying
// the caller's bed status, patient status and successor as given. It is the
// operator's escape hatch for stuck episodes. Patient status still never
// moves backwards.
func (e *Engine) OverrideTask(ctx context.Context, req OverrideRequest) (res *Result, err error) {
	start := time.Now()
	var t *task.Task
	defer func() {
		var (
			role task.Role
			typ  task.Type
		)
		if t != nil {
			role, typ = t.AgentRole, t.Type
		}
		if err != nil {
			e.logFailure(err, req.TaskID, "override")
		}
		e.recorder.ObserveTransition("override", role, typ, outcome(err), time.Since(start))
	}()

	if strings.TrimSpace(req.Reason) == "" {
		return nil, invalidPayload("reason is required")
	}
	if req.PatientStatus == nil && req.BedStatus == nil && req.NextTask == nil {
		return nil, invalidPayload("one of patient_status, bed_status or next_task is required")
	}
	if req.PatientStatus != nil && !req.PatientStatus.Valid() {
		return nil, invalidPayload("patient_status %q is not a known status", *req.PatientStatus)
	}
	if req.BedStatus != nil && !req.BedStatus.Valid() {
		return nil, invalidPayload("bed_status %q is not a known status", *req.BedStatus)
	}
	if req.NextTask != nil {
		if err = req.NextTask.validate(); err != nil {
			return nil, err
		}
	}

	t, err = e.loadTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if !t.Pending() {
		return nil, e.alreadyCompleted(ctx, t)
	}

	p := &plan{message: "task overridden"}
	if req.BedStatus != nil {
		bedID := req.BedID
		if bedID == nil {
			bedID = t.BedID
		}
		if bedID == nil {
			return nil, invalidPayload("bed_id is required with bed_status when the task has no bed")
		}
		b, err := e.loadBed(ctx, *bedID)
		if err != nil {
			return nil, err
		}
		p.mutations = append(p.mutations, setBed(b, *req.BedStatus, b.Status))
	}
	if req.PatientStatus != nil {
		pt, err := e.loadPatient(ctx, t.PatientID)
		if err != nil {
			return nil, err
		}
		if !pt.Status.CanMoveTo(*req.PatientStatus) {
			ie := invalidState("patient", pt.ID, pt.Status, *req.PatientStatus)
			ie.Msg = fmt.Sprintf("patient status cannot move back from %s to %s", pt.Status, *req.PatientStatus)
			return nil, ie
		}
		p.mutations = append(p.mutations, setPatient(pt, *req.PatientStatus, pt.Status))
	}
	if req.NextTask != nil {
		p.successor = req.NextTask.successor()
	}

	res, err = e.commit(ctx, t, p)
	if err != nil {
		return nil, err
	}

	ev := e.log.Warn().Str("actor", req.Actor).Str("reason", req.Reason).
		Str("task_id", t.ID.String()).Str("role", string(t.AgentRole)).Str("type", string(t.Type))
	if req.PatientStatus != nil {
		ev = ev.Str("patient_status", string(*req.PatientStatus))
	}
	if req.BedStatus != nil {
		ev = ev.Str("bed_status", string(*req.BedStatus))
	}
	if res.NextTask != nil {
		ev = ev.Str("next_task_id", res.NextTask.ID.String())
	}
	ev.Msg("task overridden")
	return res, nil
}
