package metrics

import (
	"strconv"
	"time"

	"SpeedRecords/src/processor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides pipeline and API metrics
type Collector struct {
	Registry *prometheus.Registry

	// Pipeline Metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RowsReadTotal    prometheus.Counter
	RowsDroppedTotal *prometheus.CounterVec
	RowsExcluded     *prometheus.CounterVec
	LastRowCount     *prometheus.GaugeVec

	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the metrics on a fresh registry that also carries
// the Go and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"status"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		RowsReadTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_read_total",
				Help:      "Total number of data rows read from source files",
			},
		),

		RowsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dropped_total",
				Help:      "Total number of rows dropped as bad data by reason",
			},
			[]string{"reason"},
		),

		RowsExcluded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_excluded_total",
				Help:      "Total number of well-formed rows left out of a filtered table by rule",
			},
			[]string{"rule"},
		),

		LastRowCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_rows",
				Help:      "Row count of each table produced by the latest successful run",
			},
			[]string{"table"}, // "cleaned", "filtered", "valid"
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by route and status",
			},
			[]string{"route", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"route"},
		),
	}
}

// ObserveRun implements processor.Observer.
func (c *Collector) ObserveRun(res *processor.Result, elapsed time.Duration, err error) {
	c.RunDuration.Observe(elapsed.Seconds())
	if err != nil {
		c.RunsTotal.WithLabelValues("error").Inc()
		return
	}
	c.RunsTotal.WithLabelValues("ok").Inc()

	d := res.Diagnostics
	c.RowsReadTotal.Add(float64(d.RowsRead))
	for reason, n := range d.Dropped {
		c.RowsDroppedTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
	for rule, n := range d.Excluded {
		c.RowsExcluded.WithLabelValues(string(rule)).Add(float64(n))
	}
	c.LastRowCount.WithLabelValues("cleaned").Set(float64(d.RowsCleaned))
	c.LastRowCount.WithLabelValues("filtered").Set(float64(d.RowsFiltered))
	c.LastRowCount.WithLabelValues("valid").Set(float64(d.RowsValid))
}

// RecordAPIRequest counts one served request.
func (c *Collector) RecordAPIRequest(route string, status int, elapsed time.Duration) {
	c.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.APIRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
