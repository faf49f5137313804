package sets_test

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/sets"
	"github.com/redlite/redlite/internal/testutil"
)

func byteSliceStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	sort.Strings(out)
	return out
}

func TestSAddIgnoresDuplicatesAndReportsAddedCount(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := sets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		n, err := ops.SAdd(ctx, tx, 0, []byte("s"), [][]byte{[]byte("a"), []byte("b")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		n, err = ops.SAdd(ctx, tx, 0, []byte("s"), [][]byte{[]byte("b"), []byte("c")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		n, err := ops.SCard(ctx, tx, 0, []byte("s"), 1000)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
		return nil
	})
	require.NoError(t, err)
}

func TestSRemEmptiesAndDeletesKey(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := sets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		_, err := ops.SAdd(ctx, tx, 0, []byte("s"), [][]byte{[]byte("a")}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		n, err := ops.SRem(ctx, tx, 0, []byte("s"), [][]byte{[]byte("a")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		n, err := ops.SCard(ctx, tx, 0, []byte("s"), 1000)
		require.NoError(t, err)
		require.Equal(t, int64(0), n)
		return nil
	})
	require.NoError(t, err)
}

func TestSDiffSInterSUnionAgainstMissingKeyTreatedAsEmpty(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := sets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"a"}, func(tx *sql.Tx) error {
		_, err := ops.SAdd(ctx, tx, 0, []byte("a"), [][]byte{[]byte("x"), []byte("y")}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		diff, err := ops.SDiff(ctx, tx, 0, [][]byte{[]byte("a"), []byte("missing")}, 1000)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"x", "y"}, byteSliceStrings(diff))

		inter, err := ops.SInter(ctx, tx, 0, [][]byte{[]byte("a"), []byte("missing")}, 1000)
		require.NoError(t, err)
		require.Empty(t, inter)

		union, err := ops.SUnion(ctx, tx, 0, [][]byte{[]byte("a"), []byte("missing")}, 1000)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"x", "y"}, byteSliceStrings(union))
		return nil
	})
	require.NoError(t, err)
}

func TestSInterStoreReplacesDestination(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := sets.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"a", "b", "dst"}, func(tx *sql.Tx) error {
		if _, err := ops.SAdd(ctx, tx, 0, []byte("a"), [][]byte{[]byte("x"), []byte("y")}, 1000); err != nil {
			return err
		}
		if _, err := ops.SAdd(ctx, tx, 0, []byte("b"), [][]byte{[]byte("y"), []byte("z")}, 1000); err != nil {
			return err
		}
		n, err := ops.SInterStore(ctx, tx, 0, []byte("dst"), [][]byte{[]byte("a"), []byte("b")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		members, err := ops.SMembers(ctx, tx, 0, []byte("dst"), 1000)
		require.NoError(t, err)
		require.Equal(t, []string{"y"}, byteSliceStrings(members))
		return nil
	})
	require.NoError(t, err)
}
