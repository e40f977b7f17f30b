package dataq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FactoryCollector exposes per-context dispatch metrics for every live
// Context of a Factory, labeled by context id.
type FactoryCollector struct {
	f *Factory

	queueDepth        *prometheus.Desc
	activeConnections *prometheus.Desc
	requestsProcessed *prometheus.Desc
	requestsFailed    *prometheus.Desc
	avgExecSeconds    *prometheus.Desc
}

func NewFactoryCollector(f *Factory) *FactoryCollector {
	return &FactoryCollector{
		f: f,

		queueDepth: prometheus.NewDesc(
			"dataq_queue_depth",
			"Number of requests waiting in the context queue",
			[]string{"context"}, nil,
		),
		activeConnections: prometheus.NewDesc(
			"dataq_active_connections",
			"Number of open store connections registered on the context",
			[]string{"context"}, nil,
		),
		requestsProcessed: prometheus.NewDesc(
			"dataq_requests_processed_total",
			"Total number of requests executed to completion",
			[]string{"context"}, nil,
		),
		requestsFailed: prometheus.NewDesc(
			"dataq_requests_failed_total",
			"Total number of requests that produced an error envelope",
			[]string{"context"}, nil,
		),
		avgExecSeconds: prometheus.NewDesc(
			"dataq_request_exec_seconds_avg",
			"Average wall-clock execution time of one request",
			[]string{"context"}, nil,
		),
	}
}

func (fc *FactoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- fc.queueDepth
	ch <- fc.activeConnections
	ch <- fc.requestsProcessed
	ch <- fc.requestsFailed
	ch <- fc.avgExecSeconds
}

func (fc *FactoryCollector) Collect(ch chan<- prometheus.Metric) {
	fc.f.live.Range(func(id string, c *Context) bool {
		ch <- prometheus.MustNewConstMetric(
			fc.queueDepth, prometheus.GaugeValue, float64(c.QueueDepth()), id,
		)
		ch <- prometheus.MustNewConstMetric(
			fc.activeConnections, prometheus.GaugeValue, float64(c.ActiveConnectionCount()), id,
		)
		ch <- prometheus.MustNewConstMetric(
			fc.requestsProcessed, prometheus.CounterValue, float64(c.stats.processed.Load()), id,
		)
		ch <- prometheus.MustNewConstMetric(
			fc.requestsFailed, prometheus.CounterValue, float64(c.stats.failed.Load()), id,
		)
		ch <- prometheus.MustNewConstMetric(
			fc.avgExecSeconds, prometheus.GaugeValue, c.stats.latency.Seconds(), id,
		)
		return true
	})
}
