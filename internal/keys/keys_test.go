package keys_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
	"github.com/redlite/redlite/internal/testutil"
)

func TestEnsureKeyCreatesThenValidatesType(t *testing.T) {
	core := testutil.OpenCore(t)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		row, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("k"), keys.TypeString, 1000)
		require.NoError(t, err)
		require.Equal(t, keys.TypeString, row.Type)
		return nil
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		_, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("k"), keys.TypeList, 1000)
		return err
	})
	e, ok := errs.As(err, errs.KindWrongType)
	require.True(t, ok)
	require.Equal(t, "WRONGTYPE", e.RESPPrefix())
	require.NotContains(t, e.Error(), "WRONGTYPE")
}

func TestLookupHidesExpiredKey(t *testing.T) {
	core := testutil.OpenCore(t)
	ctx := context.Background()

	var id int64
	err := core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		row, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("k"), keys.TypeString, 1000)
		require.NoError(t, err)
		id = row.ID
		return core.Keys.SetTTL(ctx, tx, id, 1500)
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		row, err := core.Keys.Lookup(ctx, tx, 0, []byte("k"), 1400)
		require.NoError(t, err)
		require.NotNil(t, row)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		row, err := core.Keys.Lookup(ctx, tx, 0, []byte("k"), 1600)
		require.NoError(t, err)
		require.Nil(t, row)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteCascadesAndReportsExistence(t *testing.T) {
	core := testutil.OpenCore(t)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		_, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("k"), keys.TypeString, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		deleted, err := core.Keys.Delete(ctx, tx, 0, []byte("k"), 1000)
		require.NoError(t, err)
		require.True(t, deleted)
		deleted, err = core.Keys.Delete(ctx, tx, 0, []byte("k"), 1000)
		require.NoError(t, err)
		require.False(t, deleted)
		return nil
	})
	require.NoError(t, err)
}

func TestRenameOverwritesDestination(t *testing.T) {
	core := testutil.OpenCore(t)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"a", "b"}, func(tx *sql.Tx) error {
		if _, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("a"), keys.TypeString, 1000); err != nil {
			return err
		}
		if _, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("b"), keys.TypeString, 1000); err != nil {
			return err
		}
		return core.Keys.Rename(ctx, tx, 0, []byte("a"), []byte("b"), 1000)
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		row, err := core.Keys.Lookup(ctx, tx, 0, []byte("a"), 1000)
		require.NoError(t, err)
		require.Nil(t, row)
		row, err = core.Keys.Lookup(ctx, tx, 0, []byte("b"), 1000)
		require.NoError(t, err)
		require.NotNil(t, row)
		return nil
	})
	require.NoError(t, err)
}

func TestRenameMissingSourceIsNotFound(t *testing.T) {
	core := testutil.OpenCore(t)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"missing", "dst"}, func(tx *sql.Tx) error {
		return core.Keys.Rename(ctx, tx, 0, []byte("missing"), []byte("dst"), 1000)
	})
	_, ok := errs.As(err, errs.KindNotFound)
	require.True(t, ok)
}
