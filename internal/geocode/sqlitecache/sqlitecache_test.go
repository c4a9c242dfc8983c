package sqlitecache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seractech/planwatch/internal/geocode"
)

func TestCacheRoundTripAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache", "geocode.db")

	c, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.Store(ctx, map[string]geocode.Entry{
		"PO12AB": {LatLng: geocode.LatLng{Lat: 50.8, Lng: -1.09}, Resolvable: true},
		"ZZ99ZZ": {},
	}))
	require.NoError(t, c.Close())

	c, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	got, err := c.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got["PO12AB"].Resolvable)
	require.InDelta(t, 50.8, got["PO12AB"].Lat, 1e-9)
	require.InDelta(t, -1.09, got["PO12AB"].Lng, 1e-9)
	require.False(t, got["ZZ99ZZ"].Resolvable)
}

func TestCacheStoreOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := Open(ctx, filepath.Join(t.TempDir(), "geocode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Store(ctx, map[string]geocode.Entry{"SO141AA": {}}))
	require.NoError(t, c.Store(ctx, map[string]geocode.Entry{
		"SO141AA": {LatLng: geocode.LatLng{Lat: 50.9, Lng: -1.4}, Resolvable: true},
	}))
	require.NoError(t, c.Store(ctx, nil))

	got, err := c.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, geocode.Entry{LatLng: geocode.LatLng{Lat: 50.9, Lng: -1.4}, Resolvable: true}, got["SO141AA"])
}
