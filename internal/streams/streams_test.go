package streams_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/streams"
	"github.com/redlite/redlite/internal/testutil"
)

func TestParseIDAcceptsBareMSAndMSSeq(t *testing.T) {
	id, err := streams.ParseID("5")
	require.NoError(t, err)
	require.Equal(t, streams.ID{MS: 5}, id)

	id, err = streams.ParseID("5-3")
	require.NoError(t, err)
	require.Equal(t, streams.ID{MS: 5, Seq: 3}, id)

	_, err = streams.ParseID("not-an-id")
	require.Error(t, err)
}

func TestXAddAutoIDMonotonicWithinSameMillisecond(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := streams.New(core.Keys)
	ctx := context.Background()

	var first, second streams.ID
	err := core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		var err error
		first, err = ops.XAdd(ctx, tx, 0, []byte("s"), nil, []streams.Field{{Name: "f", Value: []byte("1")}}, -1, 1000)
		require.NoError(t, err)
		second, err = ops.XAdd(ctx, tx, 0, []byte("s"), nil, []streams.Field{{Name: "f", Value: []byte("2")}}, -1, 1000)
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
	require.True(t, first.Less(second))
	require.Equal(t, first.MS, second.MS)
	require.Equal(t, first.Seq+1, second.Seq)
}

func TestXAddExplicitIDMustExceedLast(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := streams.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		_, err := ops.XAdd(ctx, tx, 0, []byte("s"), &streams.ID{MS: 10, Seq: 0}, nil, -1, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		_, err := ops.XAdd(ctx, tx, 0, []byte("s"), &streams.ID{MS: 5, Seq: 0}, nil, -1, 1000)
		return err
	})
	_, ok := errs.As(err, errs.KindSyntax)
	require.True(t, ok)
}

func TestXRangeReturnsAscendingWindowWithFields(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := streams.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		for i := int64(1); i <= 3; i++ {
			id := streams.ID{MS: i, Seq: 0}
			if _, err := ops.XAdd(ctx, tx, 0, []byte("s"), &id, []streams.Field{{Name: "n", Value: []byte{byte('0' + i)}}}, -1, 1000); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		entries, err := ops.XRange(ctx, tx, 0, []byte("s"), streams.ID{MS: 1}, streams.ID{MS: 3}, 0, 1000)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		require.Equal(t, int64(1), entries[0].ID.MS)
		require.Equal(t, "n", entries[0].Fields[0].Name)
		return nil
	})
	require.NoError(t, err)
}

func TestXTrimMaxLenKeepsMostRecent(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := streams.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		for i := int64(1); i <= 5; i++ {
			id := streams.ID{MS: i, Seq: 0}
			if _, err := ops.XAdd(ctx, tx, 0, []byte("s"), &id, nil, -1, 1000); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		_, err := ops.XTrimMaxLen(ctx, tx, 0, []byte("s"), 2, 1000)
		return err
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		n, err := ops.XLen(ctx, tx, 0, []byte("s"), 1000)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		entries, err := ops.XRange(ctx, tx, 0, []byte("s"), streams.ID{}, streams.ID{MS: 100}, 0, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(4), entries[0].ID.MS)
		require.Equal(t, int64(5), entries[1].ID.MS)
		return nil
	})
	require.NoError(t, err)
}

func TestXGroupReadDeliversAndTracksPending(t *testing.T) {
	core := testutil.OpenCore(t)
	ops := streams.New(core.Keys)
	ctx := context.Background()

	err := core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		id := streams.ID{MS: 1}
		if _, err := ops.XAdd(ctx, tx, 0, []byte("s"), &id, []streams.Field{{Name: "f", Value: []byte("v")}}, -1, 1000); err != nil {
			return err
		}
		return ops.XGroupCreate(ctx, tx, 0, []byte("s"), "g", streams.ID{}, 1000)
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		entries, err := ops.XReadGroup(ctx, tx, 0, []byte("s"), "g", "c1", 10, 1000)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		pending, err := ops.XPending(ctx, tx, 0, []byte("s"), "g", 2000)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "c1", pending[0].Consumer)
		return nil
	})
	require.NoError(t, err)

	err = core.Do(ctx, 0, []string{"s"}, func(tx *sql.Tx) error {
		n, err := ops.XAck(ctx, tx, 0, []byte("s"), "g", []streams.ID{{MS: 1}}, 1000)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)

	err = core.View(ctx, func(tx *sql.Tx) error {
		pending, err := ops.XPending(ctx, tx, 0, []byte("s"), "g", 2000)
		require.NoError(t, err)
		require.Empty(t, pending)
		return nil
	})
	require.NoError(t, err)
}
