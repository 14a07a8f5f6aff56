package mailstore

import (
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

var OperationCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mailstore",
	Subsystem: "store",
	Name:      "operations_total",
	Help:      "Store operations by backend, operation and outcome",
}, []string{"backend", "op", "result"})

var OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "mailstore",
	Subsystem: "store",
	Name:      "operation_duration_seconds",
	Help:      "Store operation latency",
	Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
}, []string{"backend", "op"})

var BatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "mailstore",
	Subsystem: "store",
	Name:      "batch_ops",
	Help:      "Number of operations per committed batch",
	Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
}, []string{"backend"})

var BlobBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mailstore",
	Subsystem: "blob",
	Name:      "bytes_total",
	Help:      "Blob bytes read and written",
}, []string{"store", "dir"})

func collectors() []prometheus.Collector {
	return []prometheus.Collector{OperationCount, OperationDuration, BatchSize, BlobBytes}
}

// registerMetrics registers the package collectors; registering twice on the
// same registry is fine.
func registerMetrics(reg prometheus.Registerer, extra ...prometheus.Collector) error {
	if reg == nil {
		return nil
	}
	for _, c := range append(collectors(), extra...) {
		err := reg.Register(c)
		var already prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &already) {
			return err
		}
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsAssertValueFailed(err):
		return "conflict"
	default:
		return "error"
	}
}

func observe(backend, op string, start time.Time, err error) {
	OperationCount.WithLabelValues(backend, op, resultLabel(err)).Inc()
	OperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// pebbleCollector exports a few pebble engine gauges.
type pebbleCollector struct {
	db *pebble.DB

	compactionCount *prometheus.Desc
	compactionDebt  *prometheus.Desc
	memtableSize    *prometheus.Desc
	walSize         *prometheus.Desc
	diskUsage       *prometheus.Desc
}

func newPebbleCollector(db *pebble.DB) *pebbleCollector {
	return &pebbleCollector{
		db: db,
		compactionCount: prometheus.NewDesc(
			"mailstore_pebble_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"mailstore_pebble_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"mailstore_pebble_memtable_size_bytes",
			"Current size of the memtables",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"mailstore_pebble_wal_size_bytes",
			"Size of the live write-ahead log",
			nil, nil,
		),
		diskUsage: prometheus.NewDesc(
			"mailstore_pebble_disk_usage_bytes",
			"Total disk space used by the database",
			nil, nil,
		),
	}
}

func (c *pebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactionCount
	ch <- c.compactionDebt
	ch <- c.memtableSize
	ch <- c.walSize
	ch <- c.diskUsage
}

func (c *pebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.db.Metrics()
	ch <- prometheus.MustNewConstMetric(c.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.diskUsage, prometheus.GaugeValue, float64(m.DiskSpaceUsage()))
}
