package bed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryYAML = `
wards:
  - name: east
    beds: [E-01, E-02]
  - name: west
    beds:
      - W-01
beds:
  - label: ICU-1
    ward: icu
  - label: " LOBBY "
`

func TestParseInventory(t *testing.T) {
	beds, err := ParseInventory(strings.NewReader(inventoryYAML))
	require.NoError(t, err)
	assert.Equal(t, []InventoryBed{
		{Label: "E-01", Ward: "east"},
		{Label: "E-02", Ward: "east"},
		{Label: "W-01", Ward: "west"},
		{Label: "ICU-1", Ward: "icu"},
		{Label: "LOBBY"},
	}, beds)
}

func TestParseInventory_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"duplicate", "beds:\n  - label: A\n  - label: A\n", "listed twice"},
		{"across wards", "wards:\n  - name: x\n    beds: [A]\nbeds:\n  - label: A\n", "listed twice"},
		{"empty label", "beds:\n  - ward: x\n", "has no label"},
		{"unknown field", "rooms: []\n", "parse"},
		{"bad yaml", "beds: [\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInventory(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseInventory_Empty(t *testing.T) {
	beds, err := ParseInventory(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, beds)
}

func TestSeed_Idempotent(t *testing.T) {
	repo := newMockBedRepo()
	svc := NewService(repo)
	ctx := context.Background()
	beds := []InventoryBed{{Label: "A", Ward: "w"}, {Label: "B"}}

	res, err := svc.Seed(ctx, beds)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 2}, res)

	res, err = svc.Seed(ctx, append(beds, InventoryBed{Label: "C"}))
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 1, Skipped: 2}, res)
	assert.Len(t, repo.store, 3)
	for _, b := range repo.store {
		assert.Equal(t, StatusAvailable, b.Status)
	}
}
