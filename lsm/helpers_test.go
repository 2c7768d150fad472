package lsm

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// newTestTree opens a tree rooted at a fresh t.TempDir(), with a small,
// deterministic worker pool so tests can drive lifecycle transitions
// explicitly instead of racing the background manager.
func newTestTree(t *testing.T, cfg Config) (*Tree, func()) {
	t.Helper()

	logger, _ := test.NewNullLogger()
	dir := t.TempDir()

	tr, err := Open("test-tree", dir, cfg, WithLogger(logger.WithField("test", t.Name())))
	require.NoError(t, err)

	return tr, func() { require.NoError(t, tr.Close()) }
}
