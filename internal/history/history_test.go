package history_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/history"
	"github.com/redlite/redlite/internal/keys"
	"github.com/redlite/redlite/internal/testutil"
)

func TestResolveRetentionPrefersMostSpecificScope(t *testing.T) {
	core := testutil.OpenCore(t)
	ctx := context.Background()

	err := core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		if err := history.SetScope(ctx, tx, history.ScopeGlobal, "*", history.Retention{MaxVersions: 5}); err != nil {
			return err
		}
		if err := history.SetScope(ctx, tx, history.ScopeDB, "0", history.Retention{MaxVersions: 10}); err != nil {
			return err
		}
		if err := history.SetScope(ctx, tx, history.ScopeKey, "session:42", history.Retention{Unlimited: true}); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		r, err := history.ResolveRetention(ctx, tx, 0, "session:42")
		require.NoError(t, err)
		require.True(t, r.Unlimited)

		r, err = history.ResolveRetention(ctx, tx, 0, "other-key")
		require.NoError(t, err)
		require.Equal(t, int64(10), r.MaxVersions)

		r, err = history.ResolveRetention(ctx, tx, 1, "other-key")
		require.NoError(t, err)
		require.Equal(t, int64(5), r.MaxVersions)
		return nil
	})
	require.NoError(t, err)
}

func TestResolveRetentionMatchesPatternScope(t *testing.T) {
	core := testutil.OpenCore(t)
	ctx := context.Background()

	err := core.Do(ctx, 0, nil, func(tx *sql.Tx) error {
		return history.SetScope(ctx, tx, history.ScopePattern, "cache:*", history.Retention{MaxVersions: 2})
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		r, err := history.ResolveRetention(ctx, tx, 0, "cache:user:1")
		require.NoError(t, err)
		require.Equal(t, int64(2), r.MaxVersions)
		return nil
	})
	require.NoError(t, err)
}

func TestRecordEnforcesMaxVersionsRetention(t *testing.T) {
	core := testutil.OpenCore(t)
	ops, err := history.New()
	require.NoError(t, err)
	ctx := context.Background()

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		return history.SetScope(ctx, tx, history.ScopeKey, "k", history.Retention{MaxVersions: 2})
	})
	require.NoError(t, err)

	var keyID int64
	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		row, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("k"), keys.TypeString, 1000)
		require.NoError(t, err)
		keyID = row.ID
		return nil
	})
	require.NoError(t, err)

	for i, v := range []string{"v1", "v2", "v3"} {
		err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
			return ops.Record(ctx, tx, 0, keyID, "k", "SET", v, int64(1000+i))
		})
		require.NoError(t, err)
	}

	err = core.View(ctx, func(tx *sql.Tx) error {
		snapshots, err := ops.List(ctx, tx, keyID)
		require.NoError(t, err)
		require.Len(t, snapshots, 2)
		require.Equal(t, int64(2), snapshots[0].Version)
		require.Equal(t, int64(3), snapshots[1].Version)
		return nil
	})
	require.NoError(t, err)
}

func TestRevertAppliesPayloadAndRecordsForwardVersion(t *testing.T) {
	core := testutil.OpenCore(t)
	ops, err := history.New()
	require.NoError(t, err)
	ctx := context.Background()

	var keyID int64
	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		row, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("k"), keys.TypeString, 1000)
		require.NoError(t, err)
		keyID = row.ID
		return ops.Record(ctx, tx, 0, keyID, "k", "SET", "original", 1000)
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		return ops.Record(ctx, tx, 0, keyID, "k", "SET", "updated", 1100)
	})
	require.NoError(t, err)

	var restoredTo string
	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		var dest string
		return ops.Revert(ctx, tx, 0, keyID, "k", 1, &dest, func(restored any) error {
			restoredTo = *restored.(*string)
			return nil
		}, 1200)
	})
	require.NoError(t, err)
	require.Equal(t, "original", restoredTo)

	err = core.View(ctx, func(tx *sql.Tx) error {
		snapshots, err := ops.List(ctx, tx, keyID)
		require.NoError(t, err)
		require.Len(t, snapshots, 3)
		require.Equal(t, "REVERT", snapshots[2].Op)
		require.Equal(t, int64(3), snapshots[2].Version)
		return nil
	})
	require.NoError(t, err)
}

func TestRevertMissingVersionIsNotFound(t *testing.T) {
	core := testutil.OpenCore(t)
	ops, err := history.New()
	require.NoError(t, err)
	ctx := context.Background()

	var keyID int64
	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		row, err := core.Keys.EnsureKey(ctx, tx, 0, []byte("k"), keys.TypeString, 1000)
		require.NoError(t, err)
		keyID = row.ID
		return nil
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		var dest string
		return ops.Revert(ctx, tx, 0, keyID, "k", 99, &dest, func(restored any) error { return nil }, 1000)
	})
	require.Error(t, err)
}
