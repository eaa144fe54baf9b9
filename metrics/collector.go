package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a Metrics value to Prometheus.  Values are read at scrape
// time, so the pool never touches Prometheus types on its hot path.
type Collector struct {
	m       *Metrics
	workers int

	rounds       *prometheus.Desc
	items        *prometheus.Desc
	panics       *prometheus.Desc
	busy         *prometheus.Desc
	workerCount  *prometheus.Desc
	participants *prometheus.Desc
	lastDuration *prometheus.Desc
}

// NewCollector creates a Collector for m.  pool is attached as a constant
// label so several pools can share one registry.
func NewCollector(namespace, pool string, workers int, m *Metrics) *Collector {
	labels := prometheus.Labels{"pool": pool}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, nil, labels)
	}
	return &Collector{
		m:            m,
		workers:      workers,
		rounds:       desc("rounds_total", "Total number of completed parallel-for rounds"),
		items:        desc("items_total", "Total number of indices processed"),
		panics:       desc("panics_total", "Total number of index invocations that panicked"),
		busy:         desc("busy_seconds_total", "Total time spent inside rounds"),
		workerCount:  desc("workers", "Number of worker goroutines in the pool"),
		participants: desc("last_round_participants", "Workers that claimed at least one index in the last round"),
		lastDuration: desc("last_round_seconds", "Duration of the last round"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rounds
	ch <- c.items
	ch <- c.panics
	ch <- c.busy
	ch <- c.workerCount
	ch <- c.participants
	ch <- c.lastDuration
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.rounds, prometheus.CounterValue, float64(s.Rounds))
	ch <- prometheus.MustNewConstMetric(c.items, prometheus.CounterValue, float64(s.Items))
	ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(s.Panics))
	ch <- prometheus.MustNewConstMetric(c.busy, prometheus.CounterValue, s.Busy.Seconds())
	ch <- prometheus.MustNewConstMetric(c.workerCount, prometheus.GaugeValue, float64(c.workers))
	ch <- prometheus.MustNewConstMetric(c.participants, prometheus.GaugeValue, float64(s.LastParticipants))
	ch <- prometheus.MustNewConstMetric(c.lastDuration, prometheus.GaugeValue, s.LastDuration.Seconds())
}
