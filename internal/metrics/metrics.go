package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the federation counters.
const (
	OutcomeOK                = "ok"
	OutcomeNoop              = "noop"
	OutcomeError             = "error"
	OutcomeProtocolViolation = "protocol_violation"
	OutcomeRejected          = "rejected"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcal_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fedcal_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// SharesSent counts outbound share deliveries by outcome.
	SharesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcal_shares_sent_total",
		Help: "Outgoing calendar shares delivered to peers, by outcome.",
	}, []string{"outcome"})

	// SharesReceived counts inbound share offers by outcome.
	SharesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcal_shares_received_total",
		Help: "Incoming calendar shares, by outcome.",
	}, []string{"outcome"})

	// Notifications counts sync notifications by direction and outcome.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcal_notifications_total",
		Help: "Sync notifications sent and received, by outcome.",
	}, []string{"direction", "outcome"})

	// DAVRequests counts sharer-side federated DAV requests by method and
	// outcome.
	DAVRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcal_dav_requests_total",
		Help: "Federated DAV requests served to remote sharees, by outcome.",
	}, []string{"method", "outcome"})

	// SyncRuns counts sync engine passes by outcome.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fedcal_sync_runs_total",
		Help: "Incremental sync passes, by outcome.",
	}, []string{"outcome"})
)

// Middleware records request count and latency per chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
