package perf

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Monitor to Prometheus. Values are read from a
// snapshot at scrape time.
type Collector struct {
	m *Monitor

	count    *prometheus.Desc
	failures *prometheus.Desc
	total    *prometheus.Desc
	min      *prometheus.Desc
	max      *prometheus.Desc
}

func NewCollector(namespace string, m *Monitor) *Collector {
	labels := []string{"operation"}
	return &Collector{
		m:        m,
		count:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "operation", "total"), "Number of recorded operations.", labels, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "operation", "failures_total"), "Number of failed operations.", labels, nil),
		total:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "operation", "duration_seconds_sum"), "Total time spent per operation.", labels, nil),
		min:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "operation", "duration_seconds_min"), "Fastest recorded operation.", labels, nil),
		max:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "operation", "duration_seconds_max"), "Slowest recorded operation.", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
	ch <- c.failures
	ch <- c.total
	ch <- c.min
	ch <- c.max
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.m.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.count, prometheus.CounterValue, float64(s.Count), s.Name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures), s.Name)
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, s.Total.Seconds(), s.Name)
		ch <- prometheus.MustNewConstMetric(c.min, prometheus.GaugeValue, s.Min.Seconds(), s.Name)
		ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, s.Max.Seconds(), s.Name)
	}
}
