package hashes_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/hashes"
	"github.com/redlite/redlite/internal/testutil"
)

func TestHSetReportsOnlyNewlyCreatedFields(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := hashes.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"h"}, func(tx *sql.Tx) error {
		n, err := ops.HSet(ctx, tx, 0, []byte("h"), map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		n, err = ops.HSet(ctx, tx, 0, []byte("h"), map[string][]byte{"b": []byte("3"), "c": []byte("4")}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		v, ok, err := ops.HGet(ctx, tx, 0, []byte("h"), "b", 1000)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "3", string(v))
		return nil
	})
	require.NoError(t, err)
}

func TestHDelEmptiesAndDeletesKey(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := hashes.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"h"}, func(tx *sql.Tx) error {
		_, err := ops.HSet(ctx, tx, 0, []byte("h"), map[string][]byte{"a": []byte("1")}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"h"}, func(tx *sql.Tx) error {
		n, err := ops.HDel(ctx, tx, 0, []byte("h"), []string{"a"}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		n, err := ops.HLen(ctx, tx, 0, []byte("h"), 1000)
		require.NoError(t, err)
		require.Equal(t, int64(0), n)
		return nil
	})
	require.NoError(t, err)
}

func TestHIncrByOnNonIntegerFieldFails(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := hashes.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"h"}, func(tx *sql.Tx) error {
		_, err := ops.HSet(ctx, tx, 0, []byte("h"), map[string][]byte{"f": []byte("nope")}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"h"}, func(tx *sql.Tx) error {
		_, err := ops.HIncrBy(ctx, tx, 0, []byte("h"), "f", 1, 1000)
		return err
	})
	_, ok := errs.As(err, errs.KindNotInteger)
	require.True(t, ok)
}

func TestHIncrByFloatAccumulates(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := hashes.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"h"}, func(tx *sql.Tx) error {
		v, err := ops.HIncrByFloat(ctx, tx, 0, []byte("h"), "f", 1.5, 1000)
		require.NoError(t, err)
		require.Equal(t, 1.5, v)
		v, err = ops.HIncrByFloat(ctx, tx, 0, []byte("h"), "f", 2.25, 1000)
		require.NoError(t, err)
		require.Equal(t, 3.75, v)
		return nil
	})
	require.NoError(t, err)
}

func TestHScanPaginatesInFieldOrder(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := hashes.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"h"}, func(tx *sql.Tx) error {
		_, err := ops.HSet(ctx, tx, 0, []byte("h"), map[string][]byte{
			"a": []byte("1"), "b": []byte("2"), "c": []byte("3"),
		}, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		cursor, fields, values, err := ops.HScan(ctx, tx, 0, []byte("h"), "", 2, 1000)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, fields)
		require.Equal(t, [][]byte{[]byte("1"), []byte("2")}, values)
		require.NotEmpty(t, cursor)

		cursor, fields, _, err = ops.HScan(ctx, tx, 0, []byte("h"), cursor, 2, 1000)
		require.NoError(t, err)
		require.Equal(t, []string{"c"}, fields)
		require.Empty(t, cursor)
		return nil
	})
	require.NoError(t, err)
}
