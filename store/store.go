// Package store defines the durable account storage consumed by the
// chat core: user rows keyed by deterministic ids and chat bodies
// persisted for offline recipients. Implementations must be safe for
// concurrent use; the core calls them from many session goroutines.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmailExists is returned by AddUser when the normalized email
	// already has an account.
	ErrEmailExists = errors.New("email already exists")

	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
)

// MessageStatusSent is the initial status of a stored message. Nothing
// in the current protocol advances it; it exists so stored rows carry
// their delivery state when a pickup path is added.
const MessageStatusSent = "sent"

// User is a durable account row. PasswordHash is the bcrypt hash of the
// signup password; the plaintext is never stored.
type User struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// StoredMessage is a chat body persisted because its recipient was
// offline at routing time. Payload holds the UTF-8 text as the sender
// submitted it, not the wire ciphertext.
type StoredMessage struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Payload     []byte    `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}

// AccountStore is the storage interface required by the chat core.
//
// AddUser derives the account id from the normalized email (UUIDv5 over
// the DNS namespace), persists the row, and returns the new id;
// ErrEmailExists reports a duplicate. Lookups return ErrNotFound when
// no row matches. StoreMessage persists an offline chat body and
// returns its monotonic message id.
type AccountStore interface {
	AddUser(ctx context.Context, fullName, email string, passwordHash []byte) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	StoreMessage(ctx context.Context, senderID, recipientID string, payload []byte) (int64, error)
	Close() error
}
