package memory

import (
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics decorates an allocator with prometheus instrumentation:
// totals for allocated bytes/objects and gauges for what is currently
// in use. Sizes are accounted at the upstream's usable size, so
// round-up by lower layers does not skew the in-use gauges.
//
// A *Metrics is itself a prometheus.Collector and can be handed
// straight to a Registerer.
type Metrics[U Allocator] struct {
	upstream U

	allocateBytes   prometheus.Counter
	allocateObjects prometheus.Counter
	inuseBytes      prometheus.Gauge
	inuseObjects    prometheus.Gauge
}

// NewMetrics wraps upstream with allocation metrics under the given
// namespace.
func NewMetrics[U Allocator](upstream U, namespace string) *Metrics[U] {
	return &Metrics[U]{
		upstream: upstream,

		allocateBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "allocate_bytes_total",
			Help:      "Total bytes handed out by the allocator.",
		}),
		allocateObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "allocate_objects_total",
			Help:      "Total blocks handed out by the allocator.",
		}),
		inuseBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "inuse_bytes",
			Help:      "Bytes currently allocated and not yet freed.",
		}),
		inuseObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "inuse_objects",
			Help:      "Blocks currently allocated and not yet freed.",
		}),
	}
}

var _ Allocator = new(Metrics[Allocator])
var _ prometheus.Collector = new(Metrics[Allocator])

// Allocate implements Allocator.
func (m *Metrics[U]) Allocate(size uintptr) (unsafe.Pointer, error) {
	ptr, err := m.upstream.Allocate(size)
	if err != nil {
		return nil, err
	}
	n := float64(m.upstream.SizeOf(ptr))
	m.allocateBytes.Add(n)
	m.allocateObjects.Inc()
	m.inuseBytes.Add(n)
	m.inuseObjects.Inc()
	return ptr, nil
}

// Free implements Allocator.
func (m *Metrics[U]) Free(ptr unsafe.Pointer) {
	n := float64(m.upstream.SizeOf(ptr))
	m.upstream.Free(ptr)
	m.inuseBytes.Sub(n)
	m.inuseObjects.Dec()
}

// SizeOf implements Allocator.
func (m *Metrics[U]) SizeOf(ptr unsafe.Pointer) uintptr {
	return m.upstream.SizeOf(ptr)
}

// Reset implements Allocator, forwarding to the upstream. The in-use
// gauges are zeroed: whatever the upstream dropped is no longer
// accounted anywhere.
func (m *Metrics[U]) Reset() {
	m.upstream.Reset()
	m.inuseBytes.Set(0)
	m.inuseObjects.Set(0)
}

// Alignment implements Allocator.
func (m *Metrics[U]) Alignment() uintptr {
	return m.upstream.Alignment()
}

// Describe implements prometheus.Collector.
func (m *Metrics[U]) Describe(ch chan<- *prometheus.Desc) {
	m.allocateBytes.Describe(ch)
	m.allocateObjects.Describe(ch)
	m.inuseBytes.Describe(ch)
	m.inuseObjects.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics[U]) Collect(ch chan<- prometheus.Metric) {
	m.allocateBytes.Collect(ch)
	m.allocateObjects.Collect(ch)
	m.inuseBytes.Collect(ch)
	m.inuseObjects.Collect(ch)
}
