package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_uploads_total",
			Help: "Upload transactions partitioned by final state and error code",
		},
		[]string{"final_state", "error_code"},
	)

	publishScreensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_screen_outcomes_total",
			Help: "Per-screen publish outcomes",
		},
		[]string{"outcome"},
	)

	queueTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_queue_transitions_total",
			Help: "Publish queue item transitions partitioned by target status",
		},
		[]string{"status"},
	)

	seederActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlist_seeder_actions_total",
			Help: "Content-guarantee seeder actions",
		},
		[]string{"action"},
	)

	repairActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screen_repair_actions_total",
			Help: "Self-heal actions executed partitioned by action and result",
		},
		[]string{"action", "result"},
	)
)
