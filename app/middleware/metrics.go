// Package middleware contains HTTP middleware shared by all routes
package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/amirphl/signage-publisher/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signage",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by method, route template and status code.",
		},
		[]string{"method", "route", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signage",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API latency. Publish-now and upload routes wait on the signage platform.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method", "route"},
	)

	// apiErrorsTotal counts failed requests by the business error code in the response.
	apiErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signage",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Failed API requests by route template and error code.",
		},
		[]string{"route", "code"},
	)

	apiInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "signage",
			Subsystem: "api",
			Name:      "inflight_requests",
			Help:      "API requests currently being served.",
		},
	)
)

// Metrics records request counts, latency and business error codes. Handlers report
// their error code through c.Locals(utils.ErrorCodeLocal).
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		apiInFlight.Inc()
		defer apiInFlight.Dec()

		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		apiRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		apiRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		if status >= fiber.StatusBadRequest {
			code, _ := c.Locals(utils.ErrorCodeLocal).(string)
			if code == "" {
				code = "HTTP_" + strconv.Itoa(status)
			}
			apiErrorsTotal.WithLabelValues(route, code).Inc()
		}
		return err
	}
}
