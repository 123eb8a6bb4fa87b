package prom

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/gosuda/sealchat/metrics"
)

// TestObserverExports tests that events land on the right instruments.
func TestObserverExports(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	o := New(reg)

	var obs metrics.Observer = o // must satisfy the interface
	obs.SessionCount(3)
	obs.Handshake(metrics.HandshakeOK)
	obs.Handshake(metrics.HandshakeFail)
	obs.Handshake(metrics.HandshakeFail)
	obs.Login(metrics.AuthOK)
	obs.Signup(metrics.AuthFail)
	obs.Chat(metrics.RouteStored)
	obs.SessionClosed(metrics.CloseReasonEOF, 2*time.Second)
	obs.ConnTraffic(100, 40)

	assert.Equal(t, 3.0, testutil.ToFloat64(o.sessionGauge), "session gauge mismatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(o.handshakeTotal.WithLabelValues("ok")), "handshake ok count mismatch")
	assert.Equal(t, 2.0, testutil.ToFloat64(o.handshakeTotal.WithLabelValues("fail")), "handshake fail count mismatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(o.loginTotal.WithLabelValues("ok")), "login count mismatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(o.signupTotal.WithLabelValues("fail")), "signup count mismatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(o.chatTotal.WithLabelValues("stored")), "chat count mismatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(o.closeTotal.WithLabelValues("eof")), "close count mismatch")
	assert.Equal(t, 100.0, testutil.ToFloat64(o.connBytes.WithLabelValues("in")), "bytes in mismatch")
	assert.Equal(t, 40.0, testutil.ToFloat64(o.connBytes.WithLabelValues("out")), "bytes out mismatch")
}
