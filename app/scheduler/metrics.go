package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workerCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_worker_cycles_total",
			Help: "Worker cycles partitioned by result (ok, error, skipped_lock, paused)",
		},
		[]string{"result"},
	)

	workerItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_worker_items_total",
			Help: "Queue items processed by the worker partitioned by resulting status",
		},
		[]string{"status"},
	)

	workerPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "publish_worker_paused",
			Help: "1 while the worker is paused after consecutive errors",
		},
	)

	queueBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "publish_queue_items",
			Help: "Publish queue items by status",
		},
		[]string{"status"},
	)

	queueAvgWait = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "publish_queue_avg_wait_milliseconds",
			Help: "Average enqueue-to-start wait of recently started items",
		},
	)

	healthAuditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_audit_runs_total",
			Help: "Health audit passes partitioned by result",
		},
		[]string{"result"},
	)
)
