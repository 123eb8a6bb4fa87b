package server

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/sealchat/cryptoops"
	"github.com/gosuda/sealchat/metrics"
	"github.com/gosuda/sealchat/store"
	"github.com/gosuda/sealchat/wire"
)

// recordingObserver captures routing outcomes and session closes for
// assertions.
type recordingObserver struct {
	metrics.Observer
	mu     sync.Mutex
	chats  []metrics.RouteOutcome
	closes []metrics.CloseReason
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{Observer: metrics.NopObserver}
}

func (r *recordingObserver) Chat(outcome metrics.RouteOutcome) {
	r.mu.Lock()
	r.chats = append(r.chats, outcome)
	r.mu.Unlock()
}

func (r *recordingObserver) SessionClosed(reason metrics.CloseReason, _ time.Duration) {
	r.mu.Lock()
	r.closes = append(r.closes, reason)
	r.mu.Unlock()
}

func (r *recordingObserver) outcomes() []metrics.RouteOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]metrics.RouteOutcome(nil), r.chats...)
}

func (r *recordingObserver) closedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closes)
}

// pipeSession builds an authenticated session whose outbound frames can
// be read and opened from the returned reader and channel.
func pipeSession(t *testing.T, u *store.User) (*Session, *wire.Reader, *cryptoops.SecureChannel) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	channel, err := cryptoops.NewSecureChannel(bytes.Repeat([]byte{0x42}, cryptoops.KeySize))
	require.NoError(t, err, "failed to create secure channel")

	sess := &Session{
		conn:    &countingConn{Conn: local},
		channel: channel,
		state:   stateAuth,
		user:    u,
		deps:    sessionDeps{obs: metrics.NopObserver},
	}
	return sess, wire.NewReader(remote), channel
}

func chatEnvelope(t *testing.T, payload any) *wire.Envelope {
	t.Helper()
	env, err := wire.NewEnvelope(wire.TypeChat, payload)
	require.NoError(t, err, "failed to build chat envelope")
	return env
}

// TestRouteChatMalformed tests that payloads missing a required key get
// the malformed-chat error and touch neither registry nor store.
func TestRouteChatMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"missing text", map[string]any{"recipient_id": "u-bob"}},
		{"missing recipient_id", map[string]any{"text": "hello"}},
		{"empty payload", map[string]any{}},
		{"null payload", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			obs := newRecordingObserver()
			rt := NewRouter(NewRegistry(), mem, obs)
			sender := authedSession(&store.User{ID: "u-alice", FullName: "Alice Kim"})

			resp, err := rt.RouteChat(context.Background(), sender, chatEnvelope(t, tt.payload))
			require.NoError(t, err)
			require.NotNil(t, resp, "malformed chat should produce a response")

			var body wire.ResponsePayload
			require.NoError(t, resp.DecodePayload(&body))
			assert.Equal(t, wire.StatusError, body.Status)
			assert.Equal(t, "Malformed chat envelope.", body.Message)
			assert.Empty(t, mem.Messages(), "nothing should be stored")
			assert.Equal(t, []metrics.RouteOutcome{metrics.RouteMalformed}, obs.outcomes())
		})
	}
}

// TestRouteChatOffline tests that messages to absent recipients are
// persisted and acknowledged with an info response.
func TestRouteChatOffline(t *testing.T) {
	mem := store.NewMemory()
	obs := newRecordingObserver()
	rt := NewRouter(NewRegistry(), mem, obs)
	sender := authedSession(&store.User{ID: "u-alice", FullName: "Alice Kim"})

	env := chatEnvelope(t, wire.ChatPayload{RecipientID: "u-bob", Text: "see you tomorrow"})
	resp, err := rt.RouteChat(context.Background(), sender, env)
	require.NoError(t, err)
	require.NotNil(t, resp, "offline routing should produce a response")

	var body wire.ResponsePayload
	require.NoError(t, resp.DecodePayload(&body))
	assert.Equal(t, wire.StatusInfo, body.Status)
	assert.Equal(t, "Recipient is offline. Message stored.", body.Message)

	rows := mem.Messages()
	require.Len(t, rows, 1)
	assert.Equal(t, "u-alice", rows[0].SenderID)
	assert.Equal(t, "u-bob", rows[0].RecipientID)
	assert.Equal(t, []byte("see you tomorrow"), rows[0].Payload)
	assert.Equal(t, []metrics.RouteOutcome{metrics.RouteStored}, obs.outcomes())
}

// TestRouteChatOnline tests live delivery: the recipient gets a
// new_message frame, the sender gets no acknowledgement, and nothing
// is stored.
func TestRouteChatOnline(t *testing.T) {
	mem := store.NewMemory()
	obs := newRecordingObserver()
	registry := NewRegistry()
	rt := NewRouter(registry, mem, obs)

	sender := authedSession(&store.User{ID: "u-alice", FullName: "Alice Kim"})
	recipient, reader, channel := pipeSession(t, &store.User{ID: "u-bob", FullName: "Bob Lee"})
	registry.Register("u-bob", recipient)

	type result struct {
		env *wire.Envelope
		err error
	}
	got := make(chan result, 1)
	go func() {
		outer, err := reader.ReadEnvelope()
		if err != nil {
			got <- result{nil, err}
			return
		}
		inner, err := channel.OpenEnvelope(outer)
		got <- result{inner, err}
	}()

	// The payload's own sender_id must be ignored in favor of the
	// session identity.
	env := chatEnvelope(t, map[string]any{
		"recipient_id": "u-bob",
		"text":         "lunch?",
		"sender_id":    "u-mallory",
	})
	resp, err := rt.RouteChat(context.Background(), sender, env)
	require.NoError(t, err)
	assert.Nil(t, resp, "live delivery is not acknowledged")

	delivered := <-got
	require.NoError(t, delivered.err, "recipient should receive a valid frame")
	require.Equal(t, wire.TypeNewMessage, delivered.env.Type)

	var msg wire.NewMessagePayload
	require.NoError(t, delivered.env.DecodePayload(&msg))
	assert.Equal(t, "u-alice", msg.SenderID, "sender identity must come from the session")
	assert.Equal(t, "Alice Kim", msg.SenderName)
	assert.Equal(t, "lunch?", msg.Text)

	assert.Empty(t, mem.Messages(), "online delivery should not persist")
	assert.Equal(t, []metrics.RouteOutcome{metrics.RouteDelivered}, obs.outcomes())
}

// TestRouteChatOnlineWriteFailure tests that a failed write to an
// online recipient is swallowed: no error, no response, no storage.
func TestRouteChatOnlineWriteFailure(t *testing.T) {
	mem := store.NewMemory()
	obs := newRecordingObserver()
	registry := NewRegistry()
	rt := NewRouter(registry, mem, obs)

	sender := authedSession(&store.User{ID: "u-alice", FullName: "Alice Kim"})
	recipient, _, _ := pipeSession(t, &store.User{ID: "u-bob", FullName: "Bob Lee"})
	registry.Register("u-bob", recipient)
	require.NoError(t, recipient.conn.Close(), "failed to close recipient conn")

	env := chatEnvelope(t, wire.ChatPayload{RecipientID: "u-bob", Text: "anyone there?"})
	resp, err := rt.RouteChat(context.Background(), sender, env)
	require.NoError(t, err, "best-effort delivery failure is not the sender's problem")
	assert.Nil(t, resp)
	assert.Empty(t, mem.Messages(), "failed live delivery is not retroactively stored")
	assert.Equal(t, []metrics.RouteOutcome{metrics.RouteDelivered}, obs.outcomes())
}
