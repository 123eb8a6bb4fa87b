package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gosuda/sealchat/cryptoops"
	"github.com/gosuda/sealchat/store"
)

// TestAuthenticatorRoundTrip tests that registered credentials
// authenticate and yield the stored user record.
func TestAuthenticatorRoundTrip(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthenticator(store.NewMemory())

	id, err := auth.Register(ctx, "Alice Kim", "Alice@Example.com", "correct horse battery")
	require.NoError(t, err, "register should succeed")
	assert.Equal(t, cryptoops.DeriveUserID("alice@example.com"), id, "id should derive from the normalized email")

	user, err := auth.Authenticate(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)
	require.NotNil(t, user, "valid credentials should authenticate")
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "Alice Kim", user.FullName)
	assert.Equal(t, "alice@example.com", user.Email)

	// Email lookup is case and whitespace insensitive.
	user, err = auth.Authenticate(ctx, "  ALICE@example.COM ", "correct horse battery")
	require.NoError(t, err)
	require.NotNil(t, user, "normalized-equivalent email should authenticate")
}

// TestAuthenticatorRejectsBadCredentials tests that wrong passwords and
// unknown emails both come back as a nil user with no error.
func TestAuthenticatorRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthenticator(store.NewMemory())

	_, err := auth.Register(ctx, "Alice Kim", "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "wrong horse battery"},
		{"unknown email", "nobody@example.com", "correct horse battery"},
		{"empty password", "alice@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := auth.Authenticate(ctx, tt.email, tt.password)
			require.NoError(t, err, "credential rejection is not an error")
			assert.Nil(t, user, "should not authenticate")
		})
	}
}

// TestAuthenticatorDuplicateEmail tests that a second registration for
// the same email fails with ErrEmailExists, regardless of casing.
func TestAuthenticatorDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthenticator(store.NewMemory())

	_, err := auth.Register(ctx, "Alice Kim", "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	_, err = auth.Register(ctx, "Alice Clone", "ALICE@EXAMPLE.COM", "another password")
	require.ErrorIs(t, err, store.ErrEmailExists, "case-variant duplicate should be rejected")
}

// TestHashPassword tests that hashes verify and are salted per call.
func TestHashPassword(t *testing.T) {
	h1, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	h2, err := HashPassword("correct horse battery")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "each hash should carry a fresh salt")
	assert.NoError(t, bcrypt.CompareHashAndPassword(h1, []byte("correct horse battery")))
	assert.Error(t, bcrypt.CompareHashAndPassword(h1, []byte("wrong horse battery")))
}
