package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poselink_connections_active",
		Help: "The current number of live device connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poselink_connections_total",
		Help: "The total number of device connections accepted.",
	})
	AuthenticatedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poselink_connections_authenticated",
		Help: "The current number of authenticated device connections.",
	})
	HandshakeTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poselink_handshake_timeouts_total",
		Help: "Connections force-closed for missing the auth deadline.",
	})

	// Message metrics
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poselink_messages_received_total",
		Help: "Inbound messages by envelope type.",
	}, []string{"type"})
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poselink_messages_sent_total",
		Help: "Outbound messages by envelope type.",
	}, []string{"type"})
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poselink_broadcast_failures_total",
		Help: "Per-recipient send failures during broadcast delivery.",
	})

	// Session metrics
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poselink_sessions_created_total",
		Help: "Sessions minted by successful authentications.",
	})
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poselink_sessions_expired_total",
		Help: "Sessions removed by the periodic expiry sweep.",
	})

	// Auth metrics
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poselink_auth_failures_total",
		Help: "Failed authentication attempts by reason.",
	}, []string{"reason"})
)

// Handler returns the HTTP handler serving the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
