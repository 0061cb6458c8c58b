// Package metrics provides Prometheus metrics for the object store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all objectarium metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// ObjectariumMetrics holds all Prometheus metrics for a ledger.
type ObjectariumMetrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec   // objectarium_operations_total{operation,result}
	OperationDuration *prometheus.HistogramVec // objectarium_operation_duration_seconds{operation}

	// Store metrics
	BytesStored       prometheus.Counter // objectarium_bytes_stored_total (raw)
	BytesCompressed   prometheus.Counter // objectarium_bytes_compressed_total
	DeduplicatedTotal prometheus.Counter // objectarium_deduplicated_total
	ForceForgetsTotal prometheus.Counter // objectarium_force_forgets_total

	// State gauges
	BucketsTotal      prometheus.Gauge // objectarium_buckets_total
	ObjectsTotal      prometheus.Gauge // objectarium_objects_total
	StorageBytes      prometheus.Gauge // objectarium_storage_bytes (raw)
	CompressedBytes   prometheus.Gauge // objectarium_compressed_bytes
	PinsTotal         prometheus.Gauge // objectarium_pins_total
	StateVersion      prometheus.Gauge // objectarium_state_version
	BucketUsedPercent *prometheus.GaugeVec
}

// NewObjectariumMetrics registers the ledger metrics with registry. A nil
// registry uses Registry.
func NewObjectariumMetrics(registry prometheus.Registerer) *ObjectariumMetrics {
	if registry == nil {
		registry = Registry
	}
	factory := promauto.With(registry)

	return &ObjectariumMetrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "objectarium_operations_total",
			Help: "Total operations by kind and result",
		}, []string{"operation", "result"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "objectarium_operation_duration_seconds",
			Help:    "Operation duration in seconds, including the backend commit",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectarium_bytes_stored_total",
			Help: "Total raw bytes of newly stored objects",
		}),

		BytesCompressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectarium_bytes_compressed_total",
			Help: "Total compressed bytes of newly stored objects",
		}),

		DeduplicatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectarium_deduplicated_total",
			Help: "Total stores that matched existing content",
		}),

		ForceForgetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectarium_force_forgets_total",
			Help: "Total objects removed by force-forget",
		}),

		BucketsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "objectarium_buckets_total",
			Help: "Number of buckets",
		}),

		ObjectsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "objectarium_objects_total",
			Help: "Number of live objects",
		}),

		StorageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "objectarium_storage_bytes",
			Help: "Sum of raw object sizes",
		}),

		CompressedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "objectarium_compressed_bytes",
			Help: "Sum of compressed object sizes",
		}),

		PinsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "objectarium_pins_total",
			Help: "Number of (object, actor) pins",
		}),

		StateVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "objectarium_state_version",
			Help: "Version of the committed state",
		}),

		BucketUsedPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "objectarium_bucket_used_percent",
			Help: "Raw bytes used as a percentage of max_bucket_size (buckets with a size limit only)",
		}, []string{"bucket"}),
	}
}

// ObserveOperation records the outcome and duration of one operation.
func (m *ObjectariumMetrics) ObserveOperation(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveStore records a successful store.
func (m *ObjectariumMetrics) ObserveStore(size, compressed uint64, deduplicated bool) {
	if m == nil {
		return
	}
	if deduplicated {
		m.DeduplicatedTotal.Inc()
		return
	}
	m.BytesStored.Add(float64(size))
	m.BytesCompressed.Add(float64(compressed))
}

// BucketUsage is the per-bucket input of SetState.
type BucketUsage struct {
	ID            string
	Size          uint64
	MaxBucketSize uint64 // 0 = unlimited
}

// StateSnapshot summarizes the committed state.
type StateSnapshot struct {
	Version         uint64
	Buckets         []BucketUsage
	Objects         uint64
	StorageBytes    uint64
	CompressedBytes uint64
	Pins            uint64
}

// SetState updates the state gauges.
func (m *ObjectariumMetrics) SetState(s StateSnapshot) {
	if m == nil {
		return
	}
	m.StateVersion.Set(float64(s.Version))
	m.BucketsTotal.Set(float64(len(s.Buckets)))
	m.ObjectsTotal.Set(float64(s.Objects))
	m.StorageBytes.Set(float64(s.StorageBytes))
	m.CompressedBytes.Set(float64(s.CompressedBytes))
	m.PinsTotal.Set(float64(s.Pins))

	for _, b := range s.Buckets {
		if b.MaxBucketSize == 0 {
			continue
		}
		m.BucketUsedPercent.WithLabelValues(b.ID).Set(float64(b.Size) / float64(b.MaxBucketSize) * 100)
	}
}

// WriteTextfile writes every metric gathered by g to path in the Prometheus
// text format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = Registry
	}
	return prometheus.WriteToTextfile(path, g)
}
