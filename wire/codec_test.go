package wire

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEnvelopeRoundTrip tests that a written envelope reads back identically.
func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(TypeLogin, LoginPayload{Email: "a@x", Password: "p1"})
	require.NoError(t, err, "NewEnvelope failed")

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, env), "WriteEnvelope failed")
	assert.Equal(t, byte('\n'), buf.Bytes()[buf.Len()-1], "frame must be LF-terminated")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte{'\n'}), "frame must be a single line")

	got, err := NewReader(&buf).ReadEnvelope()
	require.NoError(t, err, "ReadEnvelope failed")
	assert.Equal(t, TypeLogin, got.Type, "type mismatch")

	var p LoginPayload
	require.NoError(t, got.DecodePayload(&p), "DecodePayload failed")
	assert.Equal(t, "a@x", p.Email, "email mismatch")
	assert.Equal(t, "p1", p.Password, "password mismatch")
}

// TestEncryptedPayloadIsString tests that the encrypted envelope shape
// carries its payload as a JSON string, not an object.
func TestEncryptedPayloadIsString(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(TypeEncryptedPayload, "bm9uY2VjaXBoZXJ0ZXh0")
	require.NoError(t, err, "NewEnvelope failed")

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, env), "WriteEnvelope failed")

	got, err := NewReader(&buf).ReadEnvelope()
	require.NoError(t, err, "ReadEnvelope failed")

	var blob string
	require.NoError(t, json.Unmarshal(got.Payload, &blob), "payload should decode as a string")
	assert.Equal(t, "bm9uY2VjaXBoZXJ0ZXh0", blob, "payload mismatch")
}

// TestReadEnvelopeSequence tests that consecutive frames are read in order.
func TestReadEnvelopeSequence(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for _, typ := range []string{TypeLogin, TypeChat, TypeLogout} {
		env, err := NewEnvelope(typ, map[string]string{})
		require.NoError(t, err, "NewEnvelope failed")
		require.NoError(t, WriteEnvelope(&buf, env), "WriteEnvelope failed")
	}

	r := NewReader(&buf)
	for _, want := range []string{TypeLogin, TypeChat, TypeLogout} {
		got, err := r.ReadEnvelope()
		require.NoError(t, err, "ReadEnvelope failed")
		assert.Equal(t, want, got.Type, "frame order mismatch")
	}

	_, err := r.ReadEnvelope()
	assert.ErrorIs(t, err, io.EOF, "expected EOF after last frame")
}

// TestReadEnvelopeErrors tests the framing failure modes.
func TestReadEnvelopeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"malformed json", "{not json}\n", ErrMalformed},
		{"oversized line", strings.Repeat("a", MaxLineBytes+1) + "\n", ErrLineTooLong},
		{"empty stream", "", io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewReader(strings.NewReader(tt.input)).ReadEnvelope()
			assert.ErrorIs(t, err, tt.want, "unexpected error for %s", tt.name)
		})
	}
}

// TestPayloadHasKeys tests presence detection used by the dispatch layer
// to tell malformed envelopes apart from bad field contents.
func TestPayloadHasKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		keys    []string
		want    bool
	}{
		{"all present", `{"email":"a@x","password":"p"}`, []string{"email", "password"}, true},
		{"present but empty", `{"email":"","password":""}`, []string{"email", "password"}, true},
		{"one missing", `{"email":"a@x"}`, []string{"email", "password"}, false},
		{"not an object", `"hello"`, []string{"email"}, false},
		{"null payload", `null`, []string{"email"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := &Envelope{Type: TypeLogin, Payload: json.RawMessage(tt.payload)}
			assert.Equal(t, tt.want, env.PayloadHasKeys(tt.keys...), "PayloadHasKeys mismatch")
		})
	}
}
