// Package postgres bundles the pgx repositories of every entity into one
// Entity Store.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
)

type Store struct {
	pool       *pgxpool.Pool
	patients   patient.PatientRepository
	beds       bed.BedRepository
	admissions admission.AdmissionRepository
	tasks      task.TaskRepository
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:       pool,
		patients:   patient.NewPatientRepoPG(pool),
		beds:       bed.NewBedRepoPG(pool),
		admissions: admission.NewAdmissionRepoPG(pool),
		tasks:      task.NewTaskRepoPG(pool),
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Pool exposes the pool for health reporting.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Patients() patient.PatientRepository       { return s.patients }
func (s *Store) Beds() bed.BedRepository                   { return s.beds }
func (s *Store) Admissions() admission.AdmissionRepository { return s.admissions }
func (s *Store) Tasks() task.TaskRepository                { return s.tasks }
