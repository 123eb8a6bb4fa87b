package pebblestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/sealchat/cryptoops"
	"github.com/gosuda/sealchat/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err, "Open failed")
	t.Cleanup(func() { s.Close() })
	return s
}

// TestAddUser tests account creation and the uniqueness index.
func TestAddUser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.AddUser(ctx, "Alice", " Alice@X ", []byte("bcrypt-hash"))
	require.NoError(t, err, "AddUser failed")
	assert.Equal(t, cryptoops.DeriveUserID("alice@x"), id, "id must derive from the normalized email")

	_, err = s.AddUser(ctx, "Alice Again", "alice@x", []byte("other"))
	assert.ErrorIs(t, err, store.ErrEmailExists, "duplicate email must be rejected")

	user, err := s.GetUserByEmail(ctx, "ALICE@x")
	require.NoError(t, err, "GetUserByEmail failed")
	assert.Equal(t, id, user.ID, "id mismatch")
	assert.Equal(t, "Alice", user.FullName, "full name mismatch")
	assert.Equal(t, "alice@x", user.Email, "stored email must be normalized")
	assert.Equal(t, []byte("bcrypt-hash"), user.PasswordHash, "password hash mismatch")
	assert.False(t, user.CreatedAt.IsZero(), "created_at must be set")

	byID, err := s.GetUserByID(ctx, id)
	require.NoError(t, err, "GetUserByID failed")
	assert.Equal(t, user.Email, byID.Email, "lookups must agree")

	_, err = s.GetUserByEmail(ctx, "nobody@x")
	assert.ErrorIs(t, err, store.ErrNotFound, "unknown email must be ErrNotFound")
	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound, "unknown id must be ErrNotFound")
}

// TestStoreMessage tests sequence allocation and row contents.
func TestStoreMessage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for want := int64(1); want <= 3; want++ {
		got, err := s.StoreMessage(ctx, "id-a", "id-b", []byte("text"))
		require.NoError(t, err, "StoreMessage failed")
		assert.Equal(t, want, got, "sequence must be monotonic from 1")
	}

	msgs, err := s.Messages()
	require.NoError(t, err, "Messages failed")
	require.Len(t, msgs, 3, "expected three stored rows")
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.ID, "rows must come back in sequence order")
		assert.Equal(t, "id-a", msg.SenderID, "sender mismatch")
		assert.Equal(t, "id-b", msg.RecipientID, "recipient mismatch")
		assert.Equal(t, "text", string(msg.Payload), "payload mismatch")
		assert.Equal(t, store.MessageStatusSent, msg.Status, "status must default to sent")
	}
}
