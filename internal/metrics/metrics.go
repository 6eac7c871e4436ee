// Package metrics exposes cycle outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webcam-uploader/internal/cycle"
)

const namespace = "webcam_uploader"

// Collector owns a private registry so tests and processes never share state.
type Collector struct {
	registry *prometheus.Registry

	CyclesTotal      *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	NextDelaySeconds prometheus.Gauge
	LastSuccess      prometheus.Gauge
	ImageBytes       prometheus.Histogram
	CycleDuration    prometheus.Histogram
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed cycles by result (success or failure)",
		}, []string{"result"}),

		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed cycles by the stage that failed",
		}, []string{"stage"}),

		NextDelaySeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_delay_seconds",
			Help:      "Delay before the next cycle",
		}),

		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful upload",
		}),

		ImageBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_bytes",
			Help:      "Size of captured images",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 8),
		}),

		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time taken by one cycle excluding the delay",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (c *Collector) Observe(_ context.Context, out cycle.Outcome) {
	c.CycleDuration.Observe(out.Duration.Seconds())
	c.NextDelaySeconds.Set(out.NextDelay.Seconds())

	if out.ImageBytes > 0 {
		c.ImageBytes.Observe(float64(out.ImageBytes))
	}

	if out.OK() {
		c.CyclesTotal.WithLabelValues("success").Inc()
		c.LastSuccess.Set(float64(out.StartedAt.Add(out.Duration).Unix()))
		return
	}
	c.CyclesTotal.WithLabelValues("failure").Inc()
	c.FailuresTotal.WithLabelValues(string(out.Stage)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }
