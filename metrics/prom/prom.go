// Package prom exports the chat server's metric events to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosuda/sealchat/metrics"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports chat server metrics to Prometheus.
type Observer struct {
	sessionGauge    prometheus.Gauge
	handshakeTotal  *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	signupTotal     *prometheus.CounterVec
	chatTotal       *prometheus.CounterVec
	closeTotal      *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	connBytes       *prometheus.CounterVec
}

// New registers the chat server metrics on the registry.
func New(reg *prometheus.Registry) *Observer {
	o := &Observer{
		sessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sealchat_sessions",
			Help: "Current live session count.",
		}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_handshakes_total",
			Help: "Key exchanges by result.",
		}, []string{"result"}),
		loginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		signupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_signups_total",
			Help: "Sign-up attempts by result.",
		}, []string{"result"}),
		chatTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_chat_routed_total",
			Help: "Chat envelopes by routing outcome.",
		}, []string{"outcome"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_session_closed_total",
			Help: "Session teardowns by reason.",
		}, []string{"reason"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sealchat_session_duration_seconds",
			Help:    "Session lifetime from accept to teardown.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		connBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_conn_bytes_total",
			Help: "Bytes moved over client connections by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(
		o.sessionGauge,
		o.handshakeTotal,
		o.loginTotal,
		o.signupTotal,
		o.chatTotal,
		o.closeTotal,
		o.sessionDuration,
		o.connBytes,
	)
	return o
}

func (o *Observer) SessionCount(n int) {
	o.sessionGauge.Set(float64(n))
}

func (o *Observer) Handshake(result metrics.HandshakeResult) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
}

func (o *Observer) Login(result metrics.AuthResult) {
	o.loginTotal.WithLabelValues(string(result)).Inc()
}

func (o *Observer) Signup(result metrics.AuthResult) {
	o.signupTotal.WithLabelValues(string(result)).Inc()
}

func (o *Observer) Chat(outcome metrics.RouteOutcome) {
	o.chatTotal.WithLabelValues(string(outcome)).Inc()
}

func (o *Observer) SessionClosed(reason metrics.CloseReason, lifetime time.Duration) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
	o.sessionDuration.Observe(lifetime.Seconds())
}

func (o *Observer) ConnTraffic(bytesIn, bytesOut int64) {
	o.connBytes.WithLabelValues("in").Add(float64(bytesIn))
	o.connBytes.WithLabelValues("out").Add(float64(bytesOut))
}
