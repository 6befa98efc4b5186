package services

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signage API request latency partitioned by operation and status code
	signageRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signage_api_request_duration_seconds",
			Help:    "Signage API request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "status"},
	)

	transcodeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcoder_runs_total",
			Help: "Transcoder invocations partitioned by command and result",
		},
		[]string{"command", "result"},
	)
)

func observeSignageRequest(op string, status int, start time.Time) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	signageRequestDuration.WithLabelValues(op, label).Observe(time.Since(start).Seconds())
}

func countTranscode(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	transcodeRuns.WithLabelValues(command, result).Inc()
}
