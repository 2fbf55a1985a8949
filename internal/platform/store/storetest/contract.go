// Package storetest holds the behaviour every Entity Store implementation
// must share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/db"
)

// Store is the set of repositories a backend provides.
type Store interface {
	Patients() patient.PatientRepository
	Beds() bed.BedRepository
	Admissions() admission.AdmissionRepository
	Tasks() task.TaskRepository
}

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Run("patients", func(t *testing.T) { testPatients(t, open(t)) })
	t.Run("beds", func(t *testing.T) { testBeds(t, open(t)) })
	t.Run("admissions", func(t *testing.T) { testAdmissions(t, open(t)) })
	t.Run("tasks", func(t *testing.T) { testTasks(t, open(t)) })
	t.Run("task bed guard", func(t *testing.T) { testTaskBedGuard(t, open(t)) })
}

func newPatient(t *testing.T, s Store, name string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{Name: name}
	require.NoError(t, s.Patients().Create(context.Background(), p))
	return p
}

func newBed(t *testing.T, s Store, label string) *bed.Bed {
	t.Helper()
	b := &bed.Bed{Label: label}
	require.NoError(t, s.Beds().Create(context.Background(), b))
	return b
}

func testPatients(t *testing.T, s Store) {
	ctx := context.Background()
	repo := s.Patients()

	p := newPatient(t, s, "Ada")
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, patient.StatusPendingBed, p.Status)
	newPatient(t, s, "Bob")

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)

	ok, err := repo.UpdateStatus(ctx, p.ID, patient.StatusAssigned, patient.StatusPendingBed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, p.ID, patient.StatusAssigned, patient.StatusPendingBed)
	require.NoError(t, err)
	assert.False(t, ok, "guard must fail once the status moved on")

	ok, err = repo.UpdateStatus(ctx, p.ID, patient.StatusAssigned, patient.StatusPendingBed, patient.StatusAssigned)
	require.NoError(t, err)
	assert.True(t, ok, "target inside the from-set re-applies")

	items, total, err := repo.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, "Ada", items[0].Name)
}

func testBeds(t *testing.T, s Store) {
	ctx := context.Background()
	repo := s.Beds()

	b := newBed(t, s, "A-1")
	assert.Equal(t, bed.StatusAvailable, b.Status)
	newBed(t, s, "A-2")

	err := repo.Create(ctx, &bed.Bed{Label: "A-1"})
	assert.ErrorIs(t, err, bed.ErrDuplicateLabel)

	got, err := repo.GetByLabel(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	ok, err := repo.UpdateStatus(ctx, b.ID, bed.StatusPendingCleaning, bed.StatusAvailable)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, b.ID, bed.StatusPendingCleaning, bed.StatusAvailable)
	require.NoError(t, err)
	assert.False(t, ok)

	available, err := repo.ListByStatus(ctx, bed.StatusAvailable)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "A-2", available[0].Label)

	all, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	ok, err = repo.UpdateStatus(ctx, uuid.New(), bed.StatusAvailable, bed.StatusAvailable)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testAdmissions(t *testing.T, s Store) {
	ctx := context.Background()
	repo := s.Admissions()
	p := newPatient(t, s, "Ada")
	b1 := newBed(t, s, "B-1")
	b2 := newBed(t, s, "B-2")

	a := &admission.Admission{PatientID: p.ID}
	require.NoError(t, repo.Create(ctx, a))
	assert.Equal(t, admission.StatusAwaitingCleaning, a.Status)
	assert.Nil(t, a.BedID)

	err := repo.Create(ctx, &admission.Admission{PatientID: p.ID})
	assert.ErrorIs(t, err, admission.ErrActiveExists)

	active, err := repo.GetActiveByPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)

	ok, err := repo.LinkBed(ctx, a.ID, b1.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.LinkBed(ctx, a.ID, b1.ID)
	require.NoError(t, err)
	assert.True(t, ok, "linking the held bed again is a no-op success")

	ok, err = repo.LinkBed(ctx, a.ID, b2.ID)
	require.NoError(t, err)
	assert.False(t, ok, "an assigned admission cannot switch beds")

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.StatusAssigned, got.Status)
	assert.True(t, got.HasBed(b1.ID))

	ok, err = repo.UnlinkBed(ctx, a.ID, b2.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UnlinkBed(ctx, a.ID, b1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = repo.GetByID(ctx, a.ID)
	assert.Equal(t, admission.StatusAwaitingCleaning, got.Status)
	assert.Nil(t, got.BedID)

	ok, err = repo.UpdateStatus(ctx, a.ID, admission.StatusDischarged, admission.StatusAwaitingCleaning)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.GetActiveByPatient(ctx, p.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	second := &admission.Admission{PatientID: p.ID}
	require.NoError(t, repo.Create(ctx, second), "a closed episode frees the patient")

	latest, err := repo.LatestByPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = repo.LatestByPatient(ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func testTasks(t *testing.T, s Store) {
	ctx := context.Background()
	repo := s.Tasks()
	p := newPatient(t, s, "Ada")

	first := task.New(task.TypeBedAssignment, task.RoleMaster, p.ID, nil, "admission:1")
	require.NoError(t, repo.Create(ctx, first))
	assert.Equal(t, task.StatusPending, first.Status)
	assert.False(t, first.CreatedAt.IsZero())

	dup := task.New(task.TypeBedAssignment, task.RoleMaster, p.ID, nil, "admission:1")
	assert.ErrorIs(t, repo.Create(ctx, dup), task.ErrDuplicate)

	second := task.New(task.TypeBedAssignment, task.RoleMaster, p.ID, nil, "")
	require.NoError(t, repo.Create(ctx, second))
	third := task.New(task.TypeBedAssignment, task.RoleMaster, p.ID, nil, "")
	require.NoError(t, repo.Create(ctx, third))
	assert.Less(t, first.Seq, second.Seq)

	byKey, err := repo.GetByDedupeKey(ctx, "admission:1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byKey.ID)

	_, err = repo.GetByDedupeKey(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)

	queue, err := repo.ListPending(ctx, task.RoleMaster)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID},
		[]uuid.UUID{queue[0].ID, queue[1].ID, queue[2].ID})

	succ := &task.Successor{Type: task.TypeBedAssignment, AgentRole: task.RoleBed}
	ok, err := repo.Complete(ctx, second.ID, succ)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(ctx, second.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok, "a completed task cannot be closed twice")

	closed, err := repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, closed.Status)
	require.NotNil(t, closed.Successor)
	assert.Equal(t, *succ, *closed.Successor)
	assert.NotNil(t, closed.CompletedAt)

	queue, _ = repo.ListPending(ctx, task.RoleMaster)
	assert.Len(t, queue, 2)
	empty, err := repo.ListPending(ctx, task.RoleNurse)
	require.NoError(t, err)
	assert.Empty(t, empty)

	items, total, err := repo.List(ctx, task.ListFilter{Status: task.StatusCompleted}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)

	_, total, err = repo.List(ctx, task.ListFilter{PatientID: &p.ID}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func testTaskBedGuard(t *testing.T, s Store) {
	ctx := context.Background()
	repo := s.Tasks()
	p := newPatient(t, s, "Ada")
	b := newBed(t, s, "C-1")

	cleaning := task.New(task.TypeCleaning, task.RoleCleaner, p.ID, &b.ID, "")
	require.NoError(t, repo.Create(ctx, cleaning))
	require.NotNil(t, cleaning.BedID)

	nurse := task.New(task.TypeNurseAssignment, task.RoleNurse, p.ID, &b.ID, "")
	assert.ErrorIs(t, repo.Create(ctx, nurse), task.ErrBedBusy)

	ok, err := repo.Complete(ctx, cleaning.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)

	nurse = task.New(task.TypeNurseAssignment, task.RoleNurse, p.ID, &b.ID, "")
	require.NoError(t, repo.Create(ctx, nurse), "closing the pending task frees the bed")

	pending, total, err := repo.List(ctx, task.ListFilter{BedID: &b.ID, Status: task.StatusPending}, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, nurse.ID, pending[0].ID)

	got, err := repo.GetByID(ctx, nurse.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BedID)
	assert.Equal(t, b.ID, *got.BedID)
	assert.Nil(t, got.Successor)
}
