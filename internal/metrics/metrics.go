// Package metrics exposes Prometheus collectors for the measurement
// pipeline. Collectors are registered once on first use regardless of how
// many components share them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the pipeline emits.
type Metrics struct {
	SchedulesClaimed prometheus.Counter
	RunsCreated      prometheus.Counter
	RunsFinished     *prometheus.CounterVec
	PointsMeasured   *prometheus.CounterVec
	EnginePauses     prometheus.Counter
	ActiveUnits      prometheus.Gauge
	MeasureDuration  prometheus.Histogram
	HeadlessPromoted prometheus.Counter
}

var (
	once sync.Once
	m    *Metrics
)

// Default returns the process-wide Metrics, registering the collectors on
// the default registry the first time it is called.
func Default() *Metrics {
	once.Do(func() {
		m = &Metrics{
			SchedulesClaimed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gridrank_schedules_claimed_total",
				Help: "Schedules claimed for execution.",
			}),
			RunsCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gridrank_runs_created_total",
				Help: "Grid runs created by the claimer.",
			}),
			RunsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "gridrank_runs_finished_total",
				Help: "Grid runs that reached a terminal status.",
			}, []string{"status"}),
			PointsMeasured: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "gridrank_points_measured_total",
				Help: "Grid points measured, by outcome.",
			}, []string{"status"}),
			EnginePauses: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gridrank_engine_pauses_total",
				Help: "Circuit-breaker pauses taken by the engine.",
			}),
			ActiveUnits: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "gridrank_engine_active_units",
				Help: "Execution units currently measuring a point.",
			}),
			MeasureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "gridrank_point_measure_duration_seconds",
				Help:    "Wall time to measure one grid point.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			}),
			HeadlessPromoted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gridrank_headless_promotions_total",
				Help: "Fetches promoted from plain HTTP to a headless browser.",
			}),
		}
	})
	return m
}
