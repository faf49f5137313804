package lists_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/lists"
	"github.com/redlite/redlite/internal/testutil"
)

func TestLPushRPushOrderAndLen(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := lists.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"l"}, func(tx *sql.Tx) error {
		n, err := ops.RPush(ctx, tx, 0, []byte("l"), [][]byte{[]byte("a"), []byte("b")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		n, err = ops.LPush(ctx, tx, 0, []byte("l"), [][]byte{[]byte("z")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		vals, err := ops.LRange(ctx, tx, 0, []byte("l"), 0, -1, 1000)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("z"), []byte("a"), []byte("b")}, vals)
		return nil
	})
	require.NoError(t, err)
}

// TestLRemMiddleElementKeepsRangeOrder checks that after a middle element is
// removed, LRANGE still walks the list in order — LREM leaves a gap in the
// positions, and LRANGE's LIMIT/OFFSET query counts rows, so the gap is not
// visible.
func TestLRemMiddleElementKeepsRangeOrder(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := lists.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"l"}, func(tx *sql.Tx) error {
		_, err := ops.RPush(ctx, tx, 0, []byte("l"), [][]byte{
			[]byte("a"), []byte("b"), []byte("c"), []byte("d"),
		}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"l"}, func(tx *sql.Tx) error {
		n, err := ops.LRem(ctx, tx, 0, []byte("l"), 1, []byte("b"), 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		vals, err := ops.LRange(ctx, tx, 0, []byte("l"), 0, -1, 1000)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("a"), []byte("c"), []byte("d")}, vals)
		return nil
	})
	require.NoError(t, err)
}

func TestLSetOutOfRangeErrors(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := lists.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"l"}, func(tx *sql.Tx) error {
		_, err := ops.RPush(ctx, tx, 0, []byte("l"), [][]byte{[]byte("a")}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"l"}, func(tx *sql.Tx) error {
		return ops.LSet(ctx, tx, 0, []byte("l"), 5, []byte("x"), 1000)
	})
	require.Error(t, err)
}

func TestPopEmptiesAndDeletesKey(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := lists.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"l"}, func(tx *sql.Tx) error {
		_, err := ops.RPush(ctx, tx, 0, []byte("l"), [][]byte{[]byte("only")}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"l"}, func(tx *sql.Tx) error {
		vals, err := ops.LPop(ctx, tx, 0, []byte("l"), 1, 1000)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("only")}, vals)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		n, err := ops.LLen(ctx, tx, 0, []byte("l"), 1000)
		require.NoError(t, err)
		require.Equal(t, int64(0), n)
		return nil
	})
	require.NoError(t, err)
}
