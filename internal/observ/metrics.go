package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the admission pipeline and execution bridge.
// Registered once on the default registry; exposed via Handler().
var (
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_signals_received_total",
		Help: "Inbound signals by outcome (pending, auto_approved, rejected, unauthorized, invalid).",
	}, []string{"outcome"})

	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_gate_rejections_total",
		Help: "Hard gate rejections by gate name.",
	}, []string{"gate"})

	GateDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_gate_degraded_total",
		Help: "Gate evaluations that could not complete and applied their fail-open/fail-closed default.",
	}, []string{"gate"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_decisions_total",
		Help: "Approval channel decisions by op and result (ok, conflict, not_found).",
	}, []string{"op", "result"})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_executions_total",
		Help: "Execution bridge outcomes (executed, failed).",
	}, []string{"outcome"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_notifications_published_total",
		Help: "Notification events published by type.",
	}, []string{"type"})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_pending_intents",
		Help: "Intents currently awaiting an approval decision.",
	})

	RegimeScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_regime_score",
		Help: "Current macro regime score (0-10).",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradegate_broker_connected",
		Help: "1 when the shared broker connection is live.",
	})

	AdmissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradegate_admission_seconds",
		Help:    "Wall-clock time spent admitting a signal.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
