package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePostcode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"po1 2ab", "PO1 2AB", true},
		{"PO12AB", "PO1 2AB", true},
		{"  sw1a   1aa ", "SW1A 1AA", true},
		{"W1A 0AX", "W1A 0AX", true},
		{"M1 1AE", "M1 1AE", true},
		{"PO1", "", false},
		{"not a postcode", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePostcode(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestExtractPostcode(t *testing.T) {
	t.Parallel()

	pc, ok := ExtractPostcode("12 High Street, Southsea, Portsmouth po4 0aa")
	require.True(t, ok)
	require.Equal(t, "PO4 0AA", pc)

	pc, ok = ExtractPostcode("Unit 3, Fareham Park Road PO15 6HX (formerly PO15 6HZ)")
	require.True(t, ok)
	require.Equal(t, "PO15 6HZ", pc)

	_, ok = ExtractPostcode("Land north of the railway")
	require.False(t, ok)
}

func TestSectorAndArea(t *testing.T) {
	t.Parallel()

	tests := []struct {
		postcode string
		sector   string
		area     string
		shard    string
	}{
		{"PO1 2AB", "PO1", "PO", "PO/PO1"},
		{"PO12AB", "PO1", "PO", "PO/PO1"},
		{"PO15 6HX", "PO15", "PO", "PO/PO15"},
		{"W1A 0AX", "W1A", "W", "W/W1A"},
		{"M1 1AE", "M1", "M", "M/M1"},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		sector := Sector(tt.postcode)
		assert.Equal(t, tt.sector, sector, tt.postcode)
		assert.Equal(t, tt.area, Area(sector), tt.postcode)
		assert.Equal(t, tt.shard, ShardKey(tt.postcode), tt.postcode)
	}
}

func TestSectorSameForCompactAndDisplay(t *testing.T) {
	t.Parallel()

	for _, pc := range []string{"SO50 5AB", "GU51 3QQ", "E1 6AN", "EC1A 1BB"} {
		assert.Equal(t, Sector(pc), Sector(CompactPostcode(pc)), pc)
	}
}

func TestLookupSector(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"po1 2ab":  "PO1",
		"PO12AB":   "PO1",
		"po1":      "PO1",
		"W1A":      "W1A",
		" sw1a ":   "SW1A",
		"EC1A 1BB": "EC1A",
	} {
		got, ok := LookupSector(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "hello", "12345", "PO"} {
		_, ok := LookupSector(in)
		assert.False(t, ok, in)
	}
}
