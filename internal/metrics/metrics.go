// Package metrics exposes Prometheus collectors for the attention
// kernels: launch durations, plan rejections, staging footprints, and
// numerical-health counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flint_kernel_duration_seconds",
		Help:    "Histogram of kernel execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	PlanRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flint_plan_rejections_total",
		Help: "Tilings rejected because staging buffers exceed the shared memory budget",
	}, []string{"kernel"})

	StagingBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flint_staging_bytes",
		Help: "Per-group staging footprint of the most recent launch",
	}, []string{"kernel"})

	ExecutionGroups = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flint_execution_groups",
		Help:    "Distribution of (batch, head) group counts per launch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	}, []string{"kernel"})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flint_numerical_instability_total",
		Help: "NaN/Inf values detected in the running softmax statistics",
	}, []string{"kernel", "type"})
)

// RecordKernelDuration observes one kernel launch.
func RecordKernelDuration(name string, duration time.Duration) {
	KernelDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordPlanRejection counts a tiling rejected before launch.
func RecordPlanRejection(name string) {
	PlanRejections.WithLabelValues(name).Inc()
}

// RecordLaunch records the staging footprint and group fan-out of a launch.
func RecordLaunch(name string, stagingBytes, groups int) {
	StagingBytes.WithLabelValues(name).Set(float64(stagingBytes))
	ExecutionGroups.WithLabelValues(name).Observe(float64(groups))
}

// RecordNumericalInstability counts non-finite values found in the
// running statistics after a launch.
func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}
