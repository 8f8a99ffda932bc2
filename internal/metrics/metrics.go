// Package metrics provides Prometheus instrumentation for the bet engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts committed bets by kind (buy, limit, sell) and outcome.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_bets_total",
		Help: "Total number of committed bets",
	}, []string{"kind", "outcome"})

	// SettlementLatency covers queue wait, simulation and the transaction.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betengine_settlement_latency_seconds",
		Help:    "Bet settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// Rejections counts refused trades by HTTP status code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_rejections_total",
		Help: "Trades rejected, by status code",
	}, []string{"code"})

	// MakerFills counts limit-order fills applied to resting orders.
	MakerFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betengine_maker_fills_total",
		Help: "Limit order fills applied to makers",
	})

	// Redemptions counts redemption passes that produced bets, and
	// RedeemedShares the share sets they netted.
	Redemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betengine_redemptions_total",
		Help: "Redemption passes that netted shares",
	})
	RedeemedShares = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betengine_redeemed_shares_total",
		Help: "Share sets redeemed for mana",
	})

	// QueueDepth tracks queued plus running trades per market key.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "betengine_queue_depth",
		Help: "Trades queued or running per market key",
	}, []string{"contract", "answer"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveQueueDepth records a queue depth change. Drained keys are removed
// so the gauge does not grow with every contract ever traded.
func ObserveQueueDepth(contractID, answerID string, depth int) {
	if depth == 0 {
		QueueDepth.DeleteLabelValues(contractID, answerID)
		return
	}
	QueueDepth.WithLabelValues(contractID, answerID).Set(float64(depth))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// The chi route pattern keeps ids out of the label.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
