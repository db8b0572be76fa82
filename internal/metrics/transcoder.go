// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscodesTotal counts finished transcodes by outcome (success|failure).
	TranscodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aacpress_transcodes_total",
		Help: "Total transcodes by result",
	}, []string{"result"})

	// ProcessingErrors counts errors charged against the per-transcode error budget.
	ProcessingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aacpress_processing_errors_total",
		Help: "Total recoverable processing errors during the encode loop",
	}, []string{"kind"})

	// TranscodeDuration tracks wall-clock duration of whole transcodes.
	TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aacpress_transcode_duration_seconds",
		Help:    "Duration of transcodes from probe to finalized output",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 12), // 50ms to ~100s
	})

	// OutputBytes tracks bytes written to finalized output containers.
	OutputBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aacpress_output_bytes_total",
		Help: "Total bytes of finalized output files",
	})

	// CleanupFailures counts teardown failures that were logged but not escalated.
	CleanupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aacpress_cleanup_failures_total",
		Help: "Total failed resource releases during transcode cleanup",
	}, []string{"resource"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aacpress_proc_terminate_total",
		Help: "Signals sent to child process groups by result",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aacpress_proc_wait_total",
		Help: "Child process exits observed during termination",
	}, []string{"outcome"})
)

// ObserveTranscode records the outcome of one transcode.
func ObserveTranscode(success bool, elapsed time.Duration, outputBytes int64) {
	if success {
		TranscodesTotal.WithLabelValues("success").Inc()
		if outputBytes > 0 {
			OutputBytes.Add(float64(outputBytes))
		}
	} else {
		TranscodesTotal.WithLabelValues("failure").Inc()
	}
	TranscodeDuration.Observe(elapsed.Seconds())
}

// IncProcessingError records one error charged against the loop budget.
func IncProcessingError(kind string) {
	ProcessingErrors.WithLabelValues(kind).Inc()
}

// IncCleanupFailure records one failed release of the named resource.
func IncCleanupFailure(resource string) {
	CleanupFailures.WithLabelValues(resource).Inc()
}

// IncProcTerminate records a termination signal delivery attempt.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated child exited.
func IncProcWait(outcome string) {
	procWait.WithLabelValues(outcome).Inc()
}
