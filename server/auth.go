package server

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/gosuda/sealchat/store"
)

// dummyHash is compared against when the email is unknown, so lookup
// misses cost about the same as password mismatches.
var dummyHash = mustDummyHash()

func mustDummyHash() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("sealchat-dummy-credential"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("generate dummy bcrypt hash: %v", err))
	}
	return h
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// Authenticator verifies credentials against an account store.
type Authenticator struct {
	accounts store.AccountStore
}

func NewAuthenticator(accounts store.AccountStore) *Authenticator {
	return &Authenticator{accounts: accounts}
}

// Authenticate returns the matching user record, or nil when the email
// is unknown or the password does not match. The two failures are
// indistinguishable to the caller.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	user, err := a.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, nil
	}
	return user, nil
}

// Register creates a new account. The caller must still log in
// afterwards; registration never authenticates a session. Returns
// store.ErrEmailExists when the email is already taken.
func (a *Authenticator) Register(ctx context.Context, fullName, email, password string) (string, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return a.accounts.AddUser(ctx, fullName, email, hash)
}
