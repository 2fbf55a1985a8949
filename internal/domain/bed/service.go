package bed

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	beds BedRepository
}

func NewService(beds BedRepository) *Service {
	return &Service{beds: beds}
}

// CreateBed adds an available bed to the inventory.
func (s *Service) CreateBed(ctx context.Context, label, ward string) (*Bed, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("label is required")
	}
	b := &Bed{Label: label, Ward: strings.TrimSpace(ward), Status: StatusAvailable}
	if err := s.beds.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.beds.GetByID(ctx, id)
}

func (s *Service) ListBeds(ctx context.Context, limit, offset int) ([]*Bed, int, error) {
	return s.beds.List(ctx, limit, offset)
}

// ListAvailable returns beds that can be claimed right now. An empty slice
// is a valid answer.
func (s *Service) ListAvailable(ctx context.Context) ([]*Bed, error) {
	items, err := s.beds.ListByStatus(ctx, StatusAvailable)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Bed{}
	}
	return items, nil
}
