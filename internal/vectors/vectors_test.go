package vectors_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/testutil"
	"github.com/redlite/redlite/internal/vectors"
)

func TestVAddCapturesDimensionAndEnforcesIt(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := vectors.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"v"}, func(tx *sql.Tx) error {
		return ops.VAdd(ctx, tx, 0, []byte("v"), "a", []float32{1, 0, 0}, vectors.MetricCosine, nil, 1000)
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		dim, err := ops.VDim(ctx, tx, 0, []byte("v"), 1000)
		require.NoError(t, err)
		require.Equal(t, 3, dim)
		return nil
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"v"}, func(tx *sql.Tx) error {
		return ops.VAdd(ctx, tx, 0, []byte("v"), "b", []float32{1, 0}, vectors.MetricCosine, nil, 1000)
	})
	_, ok := errs.As(err, errs.KindSyntax)
	require.True(t, ok)
}

func TestVGetRoundTripsVectorAndAttrs(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := vectors.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"v"}, func(tx *sql.Tx) error {
		return ops.VAdd(ctx, tx, 0, []byte("v"), "a", []float32{1, 2, 3}, vectors.MetricCosine,
			map[string]any{"label": "x"}, 1000)
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		vec, attrs, ok, err := ops.VGet(ctx, tx, 0, []byte("v"), "a", 1000)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []float32{1, 2, 3}, vec)
		require.Equal(t, "x", attrs["label"])
		return nil
	})
	require.NoError(t, err)
}

func TestVSimRanksExactMatchFirst(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := vectors.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"v"}, func(tx *sql.Tx) error {
		if err := ops.VAdd(ctx, tx, 0, []byte("v"), "same", []float32{1, 0, 0}, vectors.MetricCosine, nil, 1000); err != nil {
			return err
		}
		if err := ops.VAdd(ctx, tx, 0, []byte("v"), "orthogonal", []float32{0, 1, 0}, vectors.MetricCosine, nil, 1000); err != nil {
			return err
		}
		return ops.VAdd(ctx, tx, 0, []byte("v"), "opposite", []float32{-1, 0, 0}, vectors.MetricCosine, nil, 1000)
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		neighbors, err := ops.VSim(ctx, tx, 0, []byte("v"), []float32{1, 0, 0}, 3, 1000)
		require.NoError(t, err)
		require.Len(t, neighbors, 3)
		require.Equal(t, "same", neighbors[0].Name)
		require.InDelta(t, 1.0, neighbors[0].Score, 0.0001)
		require.Equal(t, "opposite", neighbors[2].Name)
		return nil
	})
	require.NoError(t, err)
}

func TestVRemDeletesItem(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := vectors.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"v"}, func(tx *sql.Tx) error {
		return ops.VAdd(ctx, tx, 0, []byte("v"), "a", []float32{1, 0}, vectors.MetricCosine, nil, 1000)
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"v"}, func(tx *sql.Tx) error {
		ok, err := ops.VRem(ctx, tx, 0, []byte("v"), "a", 1000)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		_, _, ok, err := ops.VGet(ctx, tx, 0, []byte("v"), "a", 1000)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}
