package admission

import (
	"context"

	"github.com/google/uuid"
)

// Service exposes read access to admissions. Admissions are opened and
// closed by the workflow engine only.
type Service struct {
	admissions AdmissionRepository
}

func NewService(admissions AdmissionRepository) *Service {
	return &Service{admissions: admissions}
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.admissions.GetByID(ctx, id)
}

func (s *Service) ListAdmissions(ctx context.Context, limit, offset int) ([]*Admission, int, error) {
	return s.admissions.List(ctx, limit, offset)
}

func (s *Service) ActiveForPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	return s.admissions.GetActiveByPatient(ctx, patientID)
}
