package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExplicitLimitWins(t *testing.T) {
	m := NewRuntimeMonitor(1 << 30)
	m.read = func() uint64 { return 1 << 29 }

	sample := m.Sample()
	require.Equal(t, uint64(1<<30), sample.LimitBytes)
	require.InDelta(t, 0.5, sample.Ratio(), 1e-9)
	require.Equal(t, uint64(1<<30), m.Limit())
}

func TestCgroupLimit(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]uint64{
		"536870912\n": 536870912,
		"max\n":       0,
		"garbage":     0,
	}
	for content, want := range cases {
		path := filepath.Join(dir, "memory.max")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		require.Equal(t, want, cgroupLimit(path), content)
	}
	require.Zero(t, cgroupLimit(filepath.Join(dir, "missing")))
}

func TestReclaimDoesNotPanic(t *testing.T) {
	m := NewRuntimeMonitor(1 << 40)
	require.NotPanics(t, m.Reclaim)
	require.NotZero(t, m.Sample().UsedBytes)
}
