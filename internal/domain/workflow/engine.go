package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/db"
)

// Store is the Entity Store the engine writes through.
type Store interface {
	Patients() patient.PatientRepository
	Beds() bed.BedRepository
	Admissions() admission.AdmissionRepository
	Tasks() task.TaskRepository
}

// Notifier is told about every task the engine enqueues.
type Notifier interface {
	TaskEnqueued(ctx context.Context, t *task.Task) error
}

// Recorder receives transition metrics.
type Recorder interface {
	ObserveTransition(op string, role task.Role, typ task.Type, outcome string, d time.Duration)
	TaskEnqueued(role task.Role, typ task.Type)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, task.Role, task.Type, string, time.Duration) {}
func (nopRecorder) TaskEnqueued(task.Role, task.Type)                                     {}

// Engine applies the transition table against a Store.
type Engine struct {
	store     Store
	notifiers []Notifier
	recorder  Recorder
	log       zerolog.Logger
}

type Option func(*Engine)

// WithNotifier adds n to the notifiers told about enqueued tasks. It may be
// given more than once.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifiers = append(e.notifiers, n)
		}
	}
}

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		recorder: nopRecorder{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CompleteTask closes a pending task on behalf of req.Role, applying the
// transition for its role and type and enqueueing the successor.
func (e *Engine) CompleteTask(ctx context.Context, req CompleteRequest) (res *Result, err error) {
	start := time.Now()
	var (
		t        *task.Task
		ruleName string
	)
	defer func() {
		var typ task.Type
		if t != nil {
			typ = t.Type
		}
		if err != nil {
			e.logFailure(err, req.TaskID, ruleName)
		}
		e.recorder.ObserveTransition("complete", req.Role, typ, outcome(err), time.Since(start))
	}()

	t, err = e.loadTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.Role != t.AgentRole {
		return nil, &Error{
			Kind: KindRoleMismatch, Entity: "task", ID: t.ID.String(),
			Msg: fmt.Sprintf("task belongs to %s, claimed by %s", t.AgentRole, req.Role),
		}
	}
	if !t.Pending() {
		return nil, e.alreadyCompleted(ctx, t)
	}

	st := &state{task: t, payload: req.Payload}
	st.patient, err = e.loadPatient(ctx, t.PatientID)
	if err != nil {
		return nil, err
	}
	r, ok, guards := lookup(t.AgentRole, t.Type, st.patient.Status)
	if !ok {
		return nil, &Error{
			Kind: KindNoTransition, Entity: "task", ID: t.ID.String(),
			Msg: fmt.Sprintf("no transition for %s/%s", t.AgentRole, t.Type),
		}
	}
	if len(guards) > 0 {
		return nil, invalidState("patient", st.patient.ID, st.patient.Status, guards...)
	}
	ruleName = r.name
	if err = e.loadFor(ctx, r, st); err != nil {
		return nil, err
	}
	p, err := r.plan(st)
	if err != nil {
		return nil, err
	}
	res, err = e.commit(ctx, t, p)
	if err != nil {
		return nil, err
	}
	ev := e.log.Info().Str("task_id", t.ID.String()).Str("role", string(t.AgentRole)).
		Str("type", string(t.Type)).Str("rule", r.name)
	if res.NextTask != nil {
		ev = ev.Str("next_task_id", res.NextTask.ID.String())
	}
	ev.Msg("task completed")
	return res, nil
}

// commit runs the plan, closes the task and creates the successor.
func (e *Engine) commit(ctx context.Context, t *task.Task, p *plan) (*Result, error) {
	if err := e.checkSuccessorBed(ctx, t, p.successor); err != nil {
		return nil, err
	}
	committed, err := run(ctx, e.store, p.mutations)
	if err != nil {
		return nil, err
	}

	closed, err := e.store.Tasks().Complete(ctx, t.ID, p.successor)
	if err != nil {
		if len(committed) == 0 {
			return nil, fmt.Errorf("close task %s: %w", t.ID, err)
		}
		// The task stays pending and every write above re-applies, so a
		// retry finishes the transition.
		return nil, partialFailure(committed, fmt.Errorf("close task %s: %w", t.ID, err))
	}
	if !closed {
		return nil, e.alreadyCompleted(ctx, t)
	}
	t.Status = task.StatusCompleted
	t.Successor = p.successor

	next, err := e.ensureSuccessor(ctx, t, p.successor)
	if err != nil {
		committed = append(committed, "task "+t.ID.String()+" -> completed")
		return nil, partialFailure(committed, err)
	}
	return &Result{Message: p.message, Task: t, NextTask: next}, nil
}

// ensureSuccessor creates the recorded successor of t, keyed by t's id so
// repeated calls return the same task.
func (e *Engine) ensureSuccessor(ctx context.Context, t *task.Task, succ *task.Successor) (*task.Task, error) {
	if succ == nil {
		return nil, nil
	}
	return e.enqueue(ctx, task.New(succ.Type, succ.AgentRole, t.PatientID, succ.BedID, t.ID.String()))
}

// enqueue inserts nt, or returns the task already holding its dedupe key.
func (e *Engine) enqueue(ctx context.Context, nt *task.Task) (*task.Task, error) {
	err := e.store.Tasks().Create(ctx, nt)
	switch {
	case err == nil:
		e.recorder.TaskEnqueued(nt.AgentRole, nt.Type)
		for _, n := range e.notifiers {
			if nerr := n.TaskEnqueued(ctx, nt); nerr != nil {
				e.log.Warn().Err(nerr).Str("task_id", nt.ID.String()).Msg("task notification failed")
			}
		}
		return nt, nil
	case errors.Is(err, task.ErrDuplicate) && nt.DedupeKey != nil:
		existing, gerr := e.store.Tasks().GetByDedupeKey(ctx, *nt.DedupeKey)
		if gerr != nil {
			return nil, fmt.Errorf("load task %q: %w", *nt.DedupeKey, gerr)
		}
		return existing, nil
	case errors.Is(err, task.ErrBedBusy):
		return nil, invalidState("bed", nt.BedID, "busy", "free")
	}
	return nil, fmt.Errorf("create %s task: %w", nt.Type, err)
}

// checkSuccessorBed refuses a successor on a bed another pending task
// already holds. t itself is about to close and does not count.
func (e *Engine) checkSuccessorBed(ctx context.Context, t *task.Task, succ *task.Successor) error {
	if succ == nil || succ.BedID == nil {
		return nil
	}
	dedupe := t.ID.String()
	return e.checkBedFree(ctx, *succ.BedID, func(other *task.Task) bool {
		return other.ID == t.ID || (other.DedupeKey != nil && *other.DedupeKey == dedupe)
	})
}

func (e *Engine) checkBedFree(ctx context.Context, bedID uuid.UUID, ignore func(*task.Task) bool) error {
	pending, _, err := e.store.Tasks().List(ctx, task.ListFilter{BedID: &bedID, Status: task.StatusPending}, 2, 0)
	if err != nil {
		return fmt.Errorf("list pending tasks for bed %s: %w", bedID, err)
	}
	for _, other := range pending {
		if !ignore(other) {
			busy := invalidState("bed", bedID, "busy", "free")
			busy.Msg = fmt.Sprintf("task %s is pending on this bed", other.ID)
			return busy
		}
	}
	return nil
}

// alreadyCompleted finishes any successor a previous completion recorded
// but did not create, and reports it on the error.
func (e *Engine) alreadyCompleted(ctx context.Context, t *task.Task) error {
	current, err := e.store.Tasks().GetByID(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("reload task %s: %w", t.ID, err)
	}
	ae := &Error{Kind: KindAlreadyCompleted, Entity: "task", ID: t.ID.String(), Actual: string(current.Status)}
	next, err := e.ensureSuccessor(ctx, current, current.Successor)
	if err != nil {
		e.log.Error().Err(err).Str("task_id", t.ID.String()).Msg("successor reconciliation failed")
		ae.Cause = err
	}
	ae.NextTask = next
	e.log.Warn().Str("task_id", t.ID.String()).Msg("task already completed")
	return ae
}

func (e *Engine) loadTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	t, err := e.store.Tasks().GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return t, nil
}

func (e *Engine) loadPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, err := e.store.Patients().GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, notFound("patient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load patient %s: %w", id, err)
	}
	return p, nil
}

func (e *Engine) loadBed(ctx context.Context, id uuid.UUID) (*bed.Bed, error) {
	b, err := e.store.Beds().GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, notFound("bed", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load bed %s: %w", id, err)
	}
	return b, nil
}

// loadFor fills st with the bed and admission r declares it needs.
func (e *Engine) loadFor(ctx context.Context, r rule, st *state) error {
	var bedID *uuid.UUID
	switch r.bed {
	case bedFromTask:
		if st.task.BedID == nil {
			return inconsistent("task", st.task.ID, "%s task has no bed", st.task.Type)
		}
		bedID = st.task.BedID
	case bedFromPayload:
		if st.payload.BedID == nil {
			return invalidPayload("bed_id is required")
		}
		bedID = st.payload.BedID
	case bedFromNextTask:
		if st.payload.NextTask != nil {
			bedID = st.payload.NextTask.BedID
		}
	}
	if bedID != nil {
		b, err := e.loadBed(ctx, *bedID)
		if err != nil {
			return err
		}
		st.bed = b
	}

	var (
		a   *admission.Admission
		err error
	)
	switch r.admission {
	case noAdmission:
		return nil
	case activeAdmission:
		a, err = e.store.Admissions().GetActiveByPatient(ctx, st.patient.ID)
	case latestAdmission:
		a, err = e.store.Admissions().LatestByPatient(ctx, st.patient.ID)
	}
	if errors.Is(err, db.ErrNotFound) {
		return inconsistent("patient", st.patient.ID, "status %s but no admission", st.patient.Status)
	}
	if err != nil {
		return fmt.Errorf("load admission for patient %s: %w", st.patient.ID, err)
	}
	st.admission = a
	return nil
}

func (e *Engine) logFailure(err error, taskID uuid.UUID, ruleName string) {
	switch KindOf(err) {
	case KindPartialFailure, KindInconsistent, "":
		e.log.Error().Err(err).Str("task_id", taskID.String()).Str("rule", ruleName).Msg("transition failed")
	case KindAlreadyCompleted:
		// logged by alreadyCompleted
	default:
		e.log.Debug().Err(err).Str("task_id", taskID.String()).Str("rule", ruleName).Msg("transition rejected")
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
