package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renderledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderledger_ledger_appends_total",
		Help: "Ledger append attempts by stream kind and outcome.",
	}, []string{"stream", "outcome"})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderledger_verdicts_total",
		Help: "Verification verdicts by reason.",
	}, []string{"reason"})

	relocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderledger_custody_relocations_total",
		Help: "Artifact relocations by destination and result.",
	}, []string{"to", "result"})

	sweepRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderledger_custody_sweep_repairs_total",
		Help: "Custody states repaired by the recovery sweep, by destination and result.",
	}, []string{"to", "result"})

	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderledger_publish_total",
		Help: "Approval publish attempts by result.",
	}, []string{"result"})
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSessionAppend records a session append outcome ("accepted" or a
// rejection code).
func RecordSessionAppend(outcome string) {
	ledgerAppendsTotal.WithLabelValues("session", outcome).Inc()
}

// RecordProjectAppend records a committed project entry.
func RecordProjectAppend(outcome string) {
	ledgerAppendsTotal.WithLabelValues("project", outcome).Inc()
}

// RecordVerdict records a verification verdict.
func RecordVerdict(reason model.Reason) {
	verdictsTotal.WithLabelValues(string(reason)).Inc()
}

// RecordRelocation records a custody relocation on the finish path.
func RecordRelocation(to model.CustodyState, ok bool) {
	relocationsTotal.WithLabelValues(string(to), result(ok)).Inc()
}

// RecordSweepRepair records a relocation performed by the recovery sweep.
func RecordSweepRepair(to model.CustodyState, ok bool) {
	sweepRepairsTotal.WithLabelValues(string(to), result(ok)).Inc()
}

// RecordPublish records an approval publish attempt.
func RecordPublish(success bool) {
	publishTotal.WithLabelValues(result(success)).Inc()
}
