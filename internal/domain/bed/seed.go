package bed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Inventory is the on-disk bed list loaded by the seed command:
//
//	wards:
//	  - name: east
//	    beds: [E-01, E-02]
//	beds:
//	  - label: ICU-1
//	    ward: icu
type Inventory struct {
	Wards []struct {
		Name string   `yaml:"name"`
		Beds []string `yaml:"beds"`
	} `yaml:"wards"`
	Beds []InventoryBed `yaml:"beds"`
}

type InventoryBed struct {
	Label string `yaml:"label"`
	Ward  string `yaml:"ward"`
}

// ParseInventory decodes r and flattens it into one bed list. Labels must be
// unique across the file.
func ParseInventory(r io.Reader) ([]InventoryBed, error) {
	var inv Inventory
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&inv); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse bed inventory: %w", err)
	}

	var out []InventoryBed
	for _, w := range inv.Wards {
		for _, label := range w.Beds {
			out = append(out, InventoryBed{Label: label, Ward: w.Name})
		}
	}
	out = append(out, inv.Beds...)

	seen := make(map[string]bool, len(out))
	for i := range out {
		out[i].Label = strings.TrimSpace(out[i].Label)
		out[i].Ward = strings.TrimSpace(out[i].Ward)
		if out[i].Label == "" {
			return nil, fmt.Errorf("bed inventory entry %d has no label", i+1)
		}
		if seen[out[i].Label] {
			return nil, fmt.Errorf("bed label %q listed twice", out[i].Label)
		}
		seen[out[i].Label] = true
	}
	return out, nil
}

// SeedResult counts what Seed did.
type SeedResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Seed creates every listed bed whose label is not taken yet. Existing beds
// are left alone, so seeding twice is harmless.
func (s *Service) Seed(ctx context.Context, beds []InventoryBed) (SeedResult, error) {
	var res SeedResult
	for _, ib := range beds {
		_, err := s.CreateBed(ctx, ib.Label, ib.Ward)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, ErrDuplicateLabel):
			res.Skipped++
		default:
			return res, fmt.Errorf("seed bed %q: %w", ib.Label, err)
		}
	}
	return res, nil
}
