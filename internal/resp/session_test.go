package resp

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

// dumpOnFailure logs a spew.Sdump of a decoded RESP-adjacent value (queued
// commands, watch sets) only when the enclosing assertion already failed,
// keeping passing runs quiet while still giving a full structural dump to
// debug a MULTI/WATCH mismatch.
func dumpOnFailure(t *testing.T, label string, v any) {
	t.Helper()
	if t.Failed() {
		t.Logf("%s:\n%s", label, spew.Sdump(v))
	}
}

func TestSessionMultiQueuesThenDiscardClearsState(t *testing.T) {
	s := newSession()
	require.False(t, s.inTransaction())

	s.startMulti()
	require.True(t, s.inTransaction())

	s.queueCommand("SET", [][]byte{[]byte("k"), []byte("v")})
	s.queueCommand("GET", [][]byte{[]byte("k")})

	queue, wasInMulti := s.discardMulti()
	dumpOnFailure(t, "queue", queue)
	require.True(t, wasInMulti)
	require.Len(t, queue, 2)
	require.Equal(t, "SET", queue[0].name)
	require.False(t, s.inTransaction())
}

func TestSessionDirtyFlagAbortsExec(t *testing.T) {
	s := newSession()
	s.startMulti()
	require.False(t, s.isDirty())
	s.markDirty()
	require.True(t, s.isDirty())

	_, wasInMulti := s.discardMulti()
	require.True(t, wasInMulti)
	require.False(t, s.isDirty())
}

func TestSessionWatchSnapshotTracksVersionsPerDBAndKey(t *testing.T) {
	s := newSession()
	s.addWatch(0, "a", 1)
	s.addWatch(1, "a", 7)

	snap := s.watchSnapshot()
	dumpOnFailure(t, "watch snapshot", snap)
	require.Equal(t, int64(1), snap[watchKey(0, "a")])
	require.Equal(t, int64(7), snap[watchKey(1, "a")])

	s.clearWatches()
	require.Empty(t, s.watchSnapshot())
}

func TestNewSessionStartsOnDBZeroWithUniqueIdentity(t *testing.T) {
	a := newSession()
	b := newSession()
	require.Equal(t, 0, a.DB)
	require.NotEqual(t, a.ID, b.ID)
	require.NotEqual(t, a.UUID, b.UUID)
}
