package memory

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsAccounting(t *testing.T) {
	m := NewMetrics(NewGoAllocator(), "test")

	a, err := m.Allocate(100)
	require.NoError(t, err)
	b, err := m.Allocate(28)
	require.NoError(t, err)

	require.Equal(t, float64(128), testutil.ToFloat64(m.allocateBytes))
	require.Equal(t, float64(2), testutil.ToFloat64(m.allocateObjects))
	require.Equal(t, float64(128), testutil.ToFloat64(m.inuseBytes))
	require.Equal(t, float64(2), testutil.ToFloat64(m.inuseObjects))

	m.Free(a)

	// Totals only grow; in-use tracks the live set.
	require.Equal(t, float64(128), testutil.ToFloat64(m.allocateBytes))
	require.Equal(t, float64(28), testutil.ToFloat64(m.inuseBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(m.inuseObjects))

	m.Free(b)
	require.Equal(t, float64(0), testutil.ToFloat64(m.inuseBytes))
	require.Equal(t, float64(0), testutil.ToFloat64(m.inuseObjects))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics(NewGoAllocator(), "test")

	_, err := m.Allocate(64)
	require.NoError(t, err)

	m.Reset()
	require.Equal(t, float64(0), testutil.ToFloat64(m.inuseBytes))
	require.Equal(t, float64(0), testutil.ToFloat64(m.inuseObjects))
	// Totals are monotonic and survive the reset.
	require.Equal(t, float64(64), testutil.ToFloat64(m.allocateBytes))
}

func TestMetricsRegisters(t *testing.T) {
	m := NewMetrics(NewGoAllocator(), "test")

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m))

	_, err := m.Allocate(16)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 4)
}

func TestMetricsAccountsUsableSize(t *testing.T) {
	// Stacked over a tracking layer the usable size is what the
	// caller can address, headers excluded.
	tracked := NewTracking(NewGoAllocator())
	m := NewMetrics(tracked, "test")

	ptr, err := m.Allocate(40)
	require.NoError(t, err)
	require.Equal(t, float64(40), testutil.ToFloat64(m.inuseBytes))

	m.Free(ptr)
	require.Equal(t, float64(0), testutil.ToFloat64(m.inuseBytes))
}
