package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping())
}

func TestPingAfterClose(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	s.Close()
	require.Error(t, s.Ping())
}
