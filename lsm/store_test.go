package lsm

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateOrLoadTreeIsIdempotent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := NewStore(t.TempDir(), logger, DefaultConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.CreateOrLoadTree("orders"))
	first := s.Tree("orders")
	require.NotNil(t, first)

	require.NoError(t, s.CreateOrLoadTree("orders"))
	assert.Same(t, first, s.Tree("orders"))
}

func TestStore_TreesShareOneManager(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := NewStore(t.TempDir(), logger, DefaultConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.CreateOrLoadTree("a"))
	require.NoError(t, s.CreateOrLoadTree("b"))

	assert.Same(t, s.Tree("a").manager, s.Tree("b").manager)
	assert.Same(t, s.manager, s.Tree("a").manager)
}

func TestStore_UnknownTreeIsNil(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := NewStore(t.TempDir(), logger, DefaultConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	assert.Nil(t, s.Tree("nope"))
}

func TestStore_ShutdownClosesTreesAndStopsManagerOnce(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := NewStore(t.TempDir(), logger, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, s.CreateOrLoadTree("a"))
	require.NoError(t, s.CreateOrLoadTree("b"))

	require.NoError(t, s.Shutdown())

	assert.False(t, s.Tree("a").Active())
	assert.False(t, s.Tree("b").Active())
}
