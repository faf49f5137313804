package zsets_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/testutil"
	"github.com/redlite/redlite/internal/zsets"
)

func TestZAddThenZRangeIsScoreOrdered(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := zsets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"z"}, func(tx *sql.Tx) error {
		_, err := ops.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{
			{Score: 3, Member: []byte("c")},
			{Score: 1, Member: []byte("a")},
			{Score: 2, Member: []byte("b")},
		}, zsets.AddOptions{}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		members, err := ops.ZRange(ctx, tx, 0, []byte("z"), 0, -1, false, 1000)
		require.NoError(t, err)
		require.Len(t, members, 3)
		require.Equal(t, "a", string(members[0].Member))
		require.Equal(t, "b", string(members[1].Member))
		require.Equal(t, "c", string(members[2].Member))
		return nil
	})
	require.NoError(t, err)
}

func TestZRevRangeMatchesReversedZRange(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := zsets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"z"}, func(tx *sql.Tx) error {
		_, err := ops.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{
			{Score: 1, Member: []byte("a")},
			{Score: 2, Member: []byte("b")},
		}, zsets.AddOptions{}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		fwd, err := ops.ZRange(ctx, tx, 0, []byte("z"), 0, -1, false, 1000)
		require.NoError(t, err)
		rev, err := ops.ZRange(ctx, tx, 0, []byte("z"), 0, -1, true, 1000)
		require.NoError(t, err)
		require.Equal(t, fwd[0].Member, rev[len(rev)-1].Member)
		require.Equal(t, fwd[len(fwd)-1].Member, rev[0].Member)
		return nil
	})
	require.NoError(t, err)
}

func TestZRankMatchesZRangePosition(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := zsets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"z"}, func(tx *sql.Tx) error {
		_, err := ops.ZAdd(ctx, tx, 0, []byte("z"), []zsets.Member{
			{Score: 1, Member: []byte("a")},
			{Score: 2, Member: []byte("b")},
			{Score: 3, Member: []byte("c")},
		}, zsets.AddOptions{}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		rank, ok, err := ops.ZRank(ctx, tx, 0, []byte("z"), []byte("b"), 1000)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(1), rank)
		return nil
	})
	require.NoError(t, err)
}

func TestZIncrByCreatesAndAccumulates(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := zsets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"z"}, func(tx *sql.Tx) error {
		score, err := ops.ZIncrBy(ctx, tx, 0, []byte("z"), []byte("m"), 5, 1000)
		require.NoError(t, err)
		require.Equal(t, float64(5), score)
		score, err = ops.ZIncrBy(ctx, tx, 0, []byte("z"), []byte("m"), 2.5, 1000)
		require.NoError(t, err)
		require.Equal(t, 7.5, score)
		return nil
	})
	require.NoError(t, err)
}
