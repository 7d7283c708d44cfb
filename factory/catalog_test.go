package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/store/memory"
	"github.com/warp/till-engine/till"
)

const sampleYAML = `
terminals:
  - id: T1
    location_id: store-01
    company_id: acme
    terminal_type: counter
  - id: T9
    active: false
variance_reasons:
  - id: short-count
    name: Miscounted change
    type: Shortage
  - id: over-count
    type: excess
    active: false
denominations: ["100", "50", "0.25"]
`

func TestParseYAML(t *testing.T) {
	cat, err := ParseYAML([]byte(sampleYAML))
	require.NoError(t, err)

	require.Len(t, cat.Terminals, 2)
	assert.True(t, cat.Terminals[0].IsActive, "active defaults to true")
	assert.False(t, cat.Terminals[1].IsActive)
	assert.Equal(t, "store-01", cat.Terminals[0].LocationID)

	require.Len(t, cat.VarianceReasons, 2)
	assert.Equal(t, till.ReasonShortage, cat.VarianceReasons[0].ReasonType)
	assert.Equal(t, "over-count", cat.VarianceReasons[1].Name, "name falls back to id")
	assert.False(t, cat.VarianceReasons[1].IsActive)

	require.Len(t, cat.Denominations, 3)
	assert.Equal(t, "0.25", cat.Denominations[2].String())
}

func TestParseJSON(t *testing.T) {
	cat, err := ParseJSON([]byte(`{
		"terminals": [{"id": "T1"}],
		"variance_reasons": [{"id": "r1", "type": "excess", "active": true}],
		"denominations": ["20"]
	}`))
	require.NoError(t, err)
	assert.Len(t, cat.Terminals, 1)
	assert.Len(t, cat.VarianceReasons, 1)
	assert.Len(t, cat.Denominations, 1)
}

func TestFromDoc_ReportsEveryProblem(t *testing.T) {
	_, err := FromDoc(CatalogDoc{
		Terminals:       []TerminalDoc{{ID: "T1"}, {ID: "T1"}, {ID: ""}},
		VarianceReasons: []ReasonDoc{{ID: "r1", Type: "theft"}},
		Denominations:   []string{"10", "10.00", "-1", "abc"},
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `duplicate id "T1"`)
	assert.Contains(t, msg, "terminals[2]: id is required")
	assert.Contains(t, msg, `unknown type "theft"`)
	assert.Contains(t, msg, "duplicate face value 10.00")
	assert.Contains(t, msg, "must be positive")
	assert.Contains(t, msg, "denominations[3]")
}

func TestLoadFile_SeedsStore(t *testing.T) {
	// GIVEN: a catalog file
	path := filepath.Join(t.TempDir(), "catalog.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cat, err := LoadFile(path)
	require.NoError(t, err)

	// WHEN: seeding an empty store
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, cat.Seed(ctx, store))

	// THEN: terminals and reasons are readable through the store
	term, err := store.GetTerminal(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "acme", term.CompanyID)

	active, err := store.ListReasons(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, till.ReasonID("short-count"), active[0].ID)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
