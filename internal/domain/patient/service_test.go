package patient

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/careflow/careflow/internal/platform/db"
)

type mockPatientRepo struct {
	store map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	m.store[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var r []*Patient
	for _, p := range m.store {
		r = append(r, p)
	}
	return r, len(r), nil
}

func (m *mockPatientRepo) UpdateStatus(_ context.Context, id uuid.UUID, to Status, from ...Status) (bool, error) {
	p, ok := m.store[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			return true, nil
		}
	}
	return false, nil
}

func TestStatus_CanMoveTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingBed, StatusAssigned, true},
		{StatusAssigned, StatusUnderCare, true},
		{StatusUnderCare, StatusUnderCare, true},
		{StatusUnderCare, StatusDischarged, true},
		{StatusUnderCare, StatusAssigned, false},
		{StatusDischarged, StatusPendingBed, false},
		{Status("lost"), StatusAssigned, false},
		{StatusAssigned, Status("lost"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanMoveTo(tt.to); got != tt.want {
			t.Errorf("%s.CanMoveTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, ok := ParseStatus("under_care"); !ok {
		t.Error("expected under_care to parse")
	}
	if _, ok := ParseStatus("UNDER_CARE"); ok {
		t.Error("expected statuses to be case sensitive")
	}
}

func TestService_CreatePatient(t *testing.T) {
	svc := NewService(newMockPatientRepo())
	p, err := svc.CreatePatient(context.Background(), "  Ada Lovelace ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Ada Lovelace" {
		t.Errorf("expected trimmed name, got %q", p.Name)
	}
	if p.Status != StatusPendingBed {
		t.Errorf("expected pending_bed, got %s", p.Status)
	}
}

func TestService_CreatePatient_NameRequired(t *testing.T) {
	svc := NewService(newMockPatientRepo())
	if _, err := svc.CreatePatient(context.Background(), "   "); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestService_GetPatient_NotFound(t *testing.T) {
	svc := NewService(newMockPatientRepo())
	if _, err := svc.GetPatient(context.Background(), uuid.New()); err != db.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
