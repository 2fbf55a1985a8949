// Package memory is an in-process Entity Store. Every repository shares one
// mutex so each conditional write is atomic with respect to the others.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/db"
)

type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	seq        int64
	order      map[uuid.UUID]int64
	patients   map[uuid.UUID]*patient.Patient
	beds       map[uuid.UUID]*bed.Bed
	admissions map[uuid.UUID]*admission.Admission
	tasks      map[uuid.UUID]*task.Task
}

func New() *Store {
	return &Store{
		now:        time.Now,
		order:      make(map[uuid.UUID]int64),
		patients:   make(map[uuid.UUID]*patient.Patient),
		beds:       make(map[uuid.UUID]*bed.Bed),
		admissions: make(map[uuid.UUID]*admission.Admission),
		tasks:      make(map[uuid.UUID]*task.Task),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Patients() patient.PatientRepository       { return patientRepo{s} }
func (s *Store) Beds() bed.BedRepository                   { return bedRepo{s} }
func (s *Store) Admissions() admission.AdmissionRepository { return admissionRepo{s} }
func (s *Store) Tasks() task.TaskRepository                { return taskRepo{s} }

// tick returns a strictly increasing sequence number and the current time.
func (s *Store) tick() (int64, time.Time) {
	s.seq++
	return s.seq, s.now().UTC()
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// -- patients --

type patientRepo struct{ s *Store }

func (r patientRepo) Create(_ context.Context, p *patient.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seq, now := r.s.tick()
	p.ID = uuid.New()
	r.s.order[p.ID] = seq
	if p.Status == "" {
		p.Status = patient.StatusPendingBed
	}
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.s.patients[p.ID] = &cp
	return nil
}

func (r patientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r patientRepo) List(_ context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]*patient.Patient, 0, len(r.s.patients))
	for _, p := range r.s.patients {
		cp := *p
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return r.s.order[items[i].ID] < r.s.order[items[j].ID] })
	return page(items, limit, offset), len(items), nil
}

func (r patientRepo) UpdateStatus(_ context.Context, id uuid.UUID, to patient.Status, from ...patient.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok || !contains(from, p.Status) {
		return false, nil
	}
	_, now := r.s.tick()
	p.Status, p.UpdatedAt = to, now
	return true, nil
}

// -- beds --

type bedRepo struct{ s *Store }

func (r bedRepo) Create(_ context.Context, b *bed.Bed) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.beds {
		if existing.Label == b.Label {
			return bed.ErrDuplicateLabel
		}
	}
	_, now := r.s.tick()
	b.ID = uuid.New()
	if b.Status == "" {
		b.Status = bed.StatusAvailable
	}
	b.CreatedAt, b.UpdatedAt = now, now
	cp := *b
	r.s.beds[b.ID] = &cp
	return nil
}

func (r bedRepo) GetByID(_ context.Context, id uuid.UUID) (*bed.Bed, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.beds[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r bedRepo) GetByLabel(_ context.Context, label string) (*bed.Bed, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.beds {
		if b.Label == label {
			cp := *b
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (r bedRepo) sorted(keep func(*bed.Bed) bool) []*bed.Bed {
	items := make([]*bed.Bed, 0, len(r.s.beds))
	for _, b := range r.s.beds {
		if keep(b) {
			cp := *b
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return strings.Compare(items[i].Label, items[j].Label) < 0 })
	return items
}

func (r bedRepo) List(_ context.Context, limit, offset int) ([]*bed.Bed, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := r.sorted(func(*bed.Bed) bool { return true })
	return page(items, limit, offset), len(items), nil
}

func (r bedRepo) ListByStatus(_ context.Context, status bed.Status) ([]*bed.Bed, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sorted(func(b *bed.Bed) bool { return b.Status == status }), nil
}

func (r bedRepo) UpdateStatus(_ context.Context, id uuid.UUID, to bed.Status, from ...bed.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.beds[id]
	if !ok || !contains(from, b.Status) {
		return false, nil
	}
	_, now := r.s.tick()
	b.Status, b.UpdatedAt = to, now
	return true, nil
}

// -- admissions --

type admissionRepo struct{ s *Store }

func copyAdmission(a *admission.Admission) *admission.Admission {
	cp := *a
	if a.BedID != nil {
		id := *a.BedID
		cp.BedID = &id
	}
	return &cp
}

func (r admissionRepo) Create(_ context.Context, a *admission.Admission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.admissions {
		if existing.PatientID == a.PatientID && existing.Active() {
			return admission.ErrActiveExists
		}
	}
	seq, now := r.s.tick()
	a.ID = uuid.New()
	r.s.order[a.ID] = seq
	if a.Status == "" {
		a.Status = admission.StatusAwaitingCleaning
	}
	a.CreatedAt, a.UpdatedAt = now, now
	r.s.admissions[a.ID] = copyAdmission(a)
	return nil
}

func (r admissionRepo) GetByID(_ context.Context, id uuid.UUID) (*admission.Admission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.admissions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyAdmission(a), nil
}

func (r admissionRepo) byPatient(patientID uuid.UUID) []*admission.Admission {
	var items []*admission.Admission
	for _, a := range r.s.admissions {
		if a.PatientID == patientID {
			items = append(items, a)
		}
	}
	sort.Slice(items, func(i, j int) bool { return r.s.order[items[i].ID] > r.s.order[items[j].ID] })
	return items
}

func (r admissionRepo) GetActiveByPatient(_ context.Context, patientID uuid.UUID) (*admission.Admission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.byPatient(patientID) {
		if a.Active() {
			return copyAdmission(a), nil
		}
	}
	return nil, db.ErrNotFound
}

func (r admissionRepo) LatestByPatient(_ context.Context, patientID uuid.UUID) (*admission.Admission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := r.byPatient(patientID)
	if len(items) == 0 {
		return nil, db.ErrNotFound
	}
	return copyAdmission(items[0]), nil
}

func (r admissionRepo) List(_ context.Context, limit, offset int) ([]*admission.Admission, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]*admission.Admission, 0, len(r.s.admissions))
	for _, a := range r.s.admissions {
		items = append(items, copyAdmission(a))
	}
	sort.Slice(items, func(i, j int) bool { return r.s.order[items[i].ID] < r.s.order[items[j].ID] })
	return page(items, limit, offset), len(items), nil
}

func (r admissionRepo) LinkBed(_ context.Context, id, bedID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.admissions[id]
	if !ok {
		return false, nil
	}
	switch {
	case a.Status == admission.StatusAwaitingCleaning:
	case a.Status == admission.StatusAssigned && a.HasBed(bedID):
	default:
		return false, nil
	}
	_, now := r.s.tick()
	a.BedID, a.Status, a.UpdatedAt = &bedID, admission.StatusAssigned, now
	return true, nil
}

func (r admissionRepo) UnlinkBed(_ context.Context, id, bedID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.admissions[id]
	if !ok || a.Status != admission.StatusAssigned || !a.HasBed(bedID) {
		return false, nil
	}
	_, now := r.s.tick()
	a.BedID, a.Status, a.UpdatedAt = nil, admission.StatusAwaitingCleaning, now
	return true, nil
}

func (r admissionRepo) UpdateStatus(_ context.Context, id uuid.UUID, to admission.Status, from ...admission.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.admissions[id]
	if !ok || !contains(from, a.Status) {
		return false, nil
	}
	_, now := r.s.tick()
	a.Status, a.UpdatedAt = to, now
	return true, nil
}

// -- tasks --

type taskRepo struct{ s *Store }

func copyTask(t *task.Task) *task.Task {
	cp := *t
	if t.BedID != nil {
		id := *t.BedID
		cp.BedID = &id
	}
	if t.Successor != nil {
		succ := *t.Successor
		cp.Successor = &succ
	}
	return &cp
}

func (r taskRepo) Create(_ context.Context, t *task.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.DedupeKey != nil {
		for _, existing := range r.s.tasks {
			if existing.DedupeKey != nil && *existing.DedupeKey == *t.DedupeKey {
				return task.ErrDuplicate
			}
		}
	}
	if t.BedID != nil {
		for _, existing := range r.s.tasks {
			if existing.Pending() && existing.BedID != nil && *existing.BedID == *t.BedID {
				return task.ErrBedBusy
			}
		}
	}
	seq, now := r.s.tick()
	t.ID = uuid.New()
	t.Seq = seq
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	t.CreatedAt = now
	r.s.tasks[t.ID] = copyTask(t)
	return nil
}

func (r taskRepo) GetByID(_ context.Context, id uuid.UUID) (*task.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyTask(t), nil
}

func (r taskRepo) GetByDedupeKey(_ context.Context, key string) (*task.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tasks {
		if t.DedupeKey != nil && *t.DedupeKey == key {
			return copyTask(t), nil
		}
	}
	return nil, db.ErrNotFound
}

func (r taskRepo) filter(keep func(*task.Task) bool) []*task.Task {
	items := make([]*task.Task, 0)
	for _, t := range r.s.tasks {
		if keep(t) {
			items = append(items, copyTask(t))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items
}

func (r taskRepo) ListPending(_ context.Context, role task.Role) ([]*task.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filter(func(t *task.Task) bool { return t.AgentRole == role && t.Pending() }), nil
}

func (r taskRepo) List(_ context.Context, f task.ListFilter, limit, offset int) ([]*task.Task, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := r.filter(func(t *task.Task) bool {
		return (f.Role == "" || t.AgentRole == f.Role) &&
			(f.Status == "" || t.Status == f.Status) &&
			(f.PatientID == nil || t.PatientID == *f.PatientID) &&
			(f.BedID == nil || (t.BedID != nil && *t.BedID == *f.BedID))
	})
	return page(items, limit, offset), len(items), nil
}

func (r taskRepo) Complete(_ context.Context, id uuid.UUID, successor *task.Successor) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok || !t.Pending() {
		return false, nil
	}
	_, now := r.s.tick()
	t.Status = task.StatusCompleted
	t.CompletedAt = &now
	if successor != nil {
		succ := *successor
		t.Successor = &succ
	}
	return true, nil
}

func contains[S ~string](set []S, v S) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
