package sql

import "github.com/prometheus/client_golang/prometheus"

var _ prometheus.Collector = (*Collector)(nil)

// Collector exposes a Monitor's aggregates as Prometheus metrics. Values
// are read from a stats snapshot at scrape time, so registering one adds no
// cost to the query path.
//
// Example:
//
//	prometheus.MustRegister(tapsql.NewCollector(mon, prometheus.Labels{"db": "orders"}))
//	http.Handle("/metrics", promhttp.Handler())
type Collector struct {
	mon *Monitor

	queries      *prometheus.Desc
	errors       *prometheus.Desc
	slow         *prometheus.Desc
	inFlight     *prometheus.Desc
	peakInFlight *prometheus.Desc
	duration     *prometheus.Desc
	fingerprints *prometheus.Desc
	evicted      *prometheus.Desc
	auditDropped *prometheus.Desc
	faults       *prometheus.Desc
}

// NewCollector builds a collector over the monitor. The same monitor can
// back at most one registered collector per registry; use constLabels to
// tell several databases apart.
func NewCollector(mon *Monitor, constLabels prometheus.Labels) *Collector {
	return &Collector{
		mon: mon,
		queries: prometheus.NewDesc(
			"sqltap_queries_total",
			"Completed query executions.",
			nil, constLabels,
		),
		errors: prometheus.NewDesc(
			"sqltap_query_errors_total",
			"Query executions that returned an error.",
			nil, constLabels,
		),
		slow: prometheus.NewDesc(
			"sqltap_slow_queries_total",
			"Query executions at or above the slow threshold.",
			nil, constLabels,
		),
		inFlight: prometheus.NewDesc(
			"sqltap_queries_in_flight",
			"Queries currently executing.",
			nil, constLabels,
		),
		peakInFlight: prometheus.NewDesc(
			"sqltap_queries_in_flight_peak",
			"Highest concurrent query count since start or reset.",
			nil, constLabels,
		),
		duration: prometheus.NewDesc(
			"sqltap_query_duration_seconds",
			"Query latency distribution.",
			nil, constLabels,
		),
		fingerprints: prometheus.NewDesc(
			"sqltap_query_fingerprints",
			"Distinct query shapes currently tracked.",
			nil, constLabels,
		),
		evicted: prometheus.NewDesc(
			"sqltap_query_fingerprints_evicted_total",
			"Query shape rollups evicted to stay within the cardinality bound.",
			nil, constLabels,
		),
		auditDropped: prometheus.NewDesc(
			"sqltap_audit_lines_dropped_total",
			"Audit lines dropped due to a full queue or write failures.",
			nil, constLabels,
		),
		faults: prometheus.NewDesc(
			"sqltap_instrumentation_faults_total",
			"Internal instrumentation panics that were recovered.",
			nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.errors
	ch <- c.slow
	ch <- c.inFlight
	ch <- c.peakInFlight
	ch <- c.duration
	ch <- c.fingerprints
	ch <- c.evicted
	ch <- c.auditDropped
	ch <- c.faults
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.mon.Stats()

	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(snap.Total))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(snap.Errors))
	ch <- prometheus.MustNewConstMetric(c.slow, prometheus.CounterValue, float64(snap.Slow))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(snap.InFlight))
	ch <- prometheus.MustNewConstMetric(c.peakInFlight, prometheus.GaugeValue, float64(snap.PeakInFlight))
	ch <- prometheus.MustNewConstMetric(c.fingerprints, prometheus.GaugeValue, float64(snap.Fingerprints))
	ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(snap.Evicted))
	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(snap.AuditDropped))
	ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(snap.Faults))

	// Rebuild a cumulative histogram from the snapshot buckets. The bucket
	// counts and the average come from the same locked section, so the
	// reconstructed sum stays consistent with the per-bucket counts.
	var count, cum uint64
	buckets := make(map[float64]uint64, len(snap.Histogram))
	for _, b := range snap.Histogram {
		count += b.Count
		if b.Overflow {
			continue
		}
		cum += b.Count
		buckets[b.UpperMS/1000] = cum
	}
	sumSeconds := snap.AvgMS * float64(count) / 1000
	ch <- prometheus.MustNewConstHistogram(c.duration, count, sumSeconds, buckets)
}
