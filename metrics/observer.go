// Package metrics defines the observation points of the chat server.
// The server reports events through an Observer; deployments that want
// Prometheus wire in the prom subpackage, everything else runs against
// the no-op implementation.
package metrics

import "time"

type HandshakeResult string

const (
	HandshakeOK   HandshakeResult = "ok"
	HandshakeFail HandshakeResult = "fail"
)

type AuthResult string

const (
	AuthOK   AuthResult = "ok"
	AuthFail AuthResult = "fail"
)

type RouteOutcome string

const (
	RouteDelivered RouteOutcome = "delivered"
	RouteStored    RouteOutcome = "stored"
	RouteMalformed RouteOutcome = "malformed"
)

type CloseReason string

const (
	CloseReasonEOF       CloseReason = "eof"
	CloseReasonLogout    CloseReason = "logout"
	CloseReasonCrypto    CloseReason = "crypto_error"
	CloseReasonFraming   CloseReason = "framing_error"
	CloseReasonTransport CloseReason = "transport_error"
	CloseReasonHandshake CloseReason = "handshake_failed"
	CloseReasonInternal  CloseReason = "internal_error"
)

// Observer receives server metric events.
type Observer interface {
	SessionCount(n int)
	Handshake(result HandshakeResult)
	Login(result AuthResult)
	Signup(result AuthResult)
	Chat(outcome RouteOutcome)
	SessionClosed(reason CloseReason, lifetime time.Duration)
	ConnTraffic(bytesIn, bytesOut int64)
}

type nopObserver struct{}

func (nopObserver) SessionCount(int)                       {}
func (nopObserver) Handshake(HandshakeResult)              {}
func (nopObserver) Login(AuthResult)                       {}
func (nopObserver) Signup(AuthResult)                      {}
func (nopObserver) Chat(RouteOutcome)                      {}
func (nopObserver) SessionClosed(CloseReason, time.Duration) {}
func (nopObserver) ConnTraffic(int64, int64)               {}

// NopObserver is a zero-cost observer used when metrics are disabled.
var NopObserver Observer = nopObserver{}
