package persist

import "github.com/prometheus/client_golang/prometheus"

// Collectors for the pipeline workers.
var (
	writesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlcached_writes_persisted_total",
		Help: "Cumulative number of items persisted by the write-behind worker.",
	})
	writeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlcached_write_failures_total",
		Help: "Cumulative number of pending writes dropped after statement errors.",
	})
	writesSuperseded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlcached_writes_superseded_total",
		Help: "Cumulative number of pending writes replaced by a newer version of the same key.",
	})
	readsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlcached_reads_resolved_total",
		Help: "Cumulative number of cache misses resolved with a durable row.",
	})
	readMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlcached_read_misses_total",
		Help: "Cumulative number of cache misses with no usable durable row.",
	})
	warmedItems = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlcached_warmed_items_total",
		Help: "Cumulative number of items loaded by the warm-up scan.",
	})
)

// Collectors returns the package collectors for registration by the host.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		writesPersisted,
		writeFailures,
		writesSuperseded,
		readsResolved,
		readMisses,
		warmedItems,
	}
}
