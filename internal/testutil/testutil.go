// Package testutil builds a ready-to-use in-memory engine.Core for tests
// across every ops package, so each package's tests exercise the real
// governor/cache/notifier wiring instead of a mock.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/engine"
)

// OpenCore opens a fresh in-memory Core for t, closing it on cleanup.
func OpenCore(t *testing.T) *engine.Core {
	t.Helper()
	opts := config.Default()
	opts.Storage = config.StorageMemory
	core, err := engine.Open(context.Background(), opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })
	return core
}
