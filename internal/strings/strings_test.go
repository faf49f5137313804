package strings_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/errs"
	redstrings "github.com/redlite/redlite/internal/strings"
	"github.com/redlite/redlite/internal/testutil"
)

func TestSetGetRoundTripIsByteExact(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := redstrings.New(core.Keys)
	ctx := context.Background()

	payload := []byte{0x00, 0x01, 'h', 'i', 0x00, 0xff}
	err := core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		_, err := ops.Set(ctx, tx, 0, []byte("k"), payload, 1000, redstrings.SetOptions{})
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		got, ok, err := ops.Get(ctx, tx, 0, []byte("k"), 1000)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, payload, got)
		return nil
	})
	require.NoError(t, err)
}

func TestSetNXFailsWhenPresent(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := redstrings.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		_, err := ops.Set(ctx, tx, 0, []byte("k"), []byte("v1"), 1000, redstrings.SetOptions{})
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		ok, err := ops.Set(ctx, tx, 0, []byte("k"), []byte("v2"), 1000, redstrings.SetOptions{NX: true})
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		got, _, err := ops.Get(ctx, tx, 0, []byte("k"), 1000)
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), got)
		return nil
	})
	require.NoError(t, err)
}

func TestIncrFromAbsentStartsAtZero(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := redstrings.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"counter"}, func(tx *sql.Tx) error {
		n, err := ops.Incr(ctx, tx, 0, []byte("counter"), 5, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(5), n)
		return nil
	})
	require.NoError(t, err)
}

func TestIncrOnNonIntegerValueFails(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := redstrings.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		_, err := ops.Set(ctx, tx, 0, []byte("k"), []byte("not-a-number"), 1000, redstrings.SetOptions{})
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		_, err := ops.Incr(ctx, tx, 0, []byte("k"), 1, 1000)
		return err
	})
	_, ok := errs.As(err, errs.KindNotInteger)
	require.True(t, ok)
}

func TestAppendExtendsExistingValue(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := redstrings.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		_, err := ops.Set(ctx, tx, 0, []byte("k"), []byte("foo"), 1000, redstrings.SetOptions{})
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"k"}, func(tx *sql.Tx) error {
		n, err := ops.Append(ctx, tx, 0, []byte("k"), []byte("bar"), 1000)
		require.NoError(t, err)
		require.Equal(t, int64(6), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		got, _, err := ops.Get(ctx, tx, 0, []byte("k"), 1000)
		require.NoError(t, err)
		require.Equal(t, "foobar", string(got))
		return nil
	})
	require.NoError(t, err)
}
