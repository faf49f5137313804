package geo_test

import (
	"context"
	"database/sql"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/geo"
	"github.com/redlite/redlite/internal/testutil"
)

func TestGeoAddThenGeoPosRoundTrips(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := geo.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"g"}, func(tx *sql.Tx) error {
		n, err := ops.GeoAdd(ctx, tx, 0, []byte("g"), map[string][2]float64{
			"palermo": {13.361389, 38.115556},
		}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		pos, err := ops.GeoPos(ctx, tx, 0, []byte("g"), []string{"palermo", "missing"}, 1000)
		require.NoError(t, err)
		require.NotNil(t, pos[0])
		require.InDelta(t, 13.361389, pos[0][0], 0.001)
		require.InDelta(t, 38.115556, pos[0][1], 0.001)
		require.Nil(t, pos[1])
		return nil
	})
	require.NoError(t, err)
}

func TestGeoAddRejectsOutOfRangeCoordinates(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := geo.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"g"}, func(tx *sql.Tx) error {
		_, err := ops.GeoAdd(ctx, tx, 0, []byte("g"), map[string][2]float64{"bad": {200, 0}}, 1000)
		return err
	})
	require.Error(t, err)
}

func TestGeoDistMatchesKnownPalermoCataniaDistance(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := geo.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"g"}, func(tx *sql.Tx) error {
		_, err := ops.GeoAdd(ctx, tx, 0, []byte("g"), map[string][2]float64{
			"palermo": {13.361389, 38.115556},
			"catania": {15.087269, 37.502669},
		}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		d, ok, err := ops.GeoDist(ctx, tx, 0, []byte("g"), "palermo", "catania", geo.UnitKilometers, 1000)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, math.Abs(d-166.27) < 2)
		return nil
	})
	require.NoError(t, err)
}

func TestGeoSearchByRadiusFindsNearbyMembers(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := geo.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"g"}, func(tx *sql.Tx) error {
		_, err := ops.GeoAdd(ctx, tx, 0, []byte("g"), map[string][2]float64{
			"palermo": {13.361389, 38.115556},
			"catania": {15.087269, 37.502669},
			"agrigento": {13.5765, 37.311},
		}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		results, err := ops.GeoSearch(ctx, tx, 0, []byte("g"), geo.Search{
			CenterMember: "palermo",
			RadiusMeters: 200000,
			Asc:          true,
		}, 1000)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		require.Equal(t, "palermo", results[0].Member)
		return nil
	})
	require.NoError(t, err)
}
