package store

import (
	"context"
	"sync"
	"time"

	"github.com/gosuda/sealchat/cryptoops"
)

// Memory is an AccountStore backed by process memory. It backs tests
// and ephemeral deployments; nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]*User
	byEmail  map[string]string // normalized email → id
	messages []StoredMessage
	nextMsg  int64
}

var _ AccountStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *Memory) AddUser(_ context.Context, fullName, email string, passwordHash []byte) (string, error) {
	norm := cryptoops.NormalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[norm]; exists {
		return "", ErrEmailExists
	}
	user := &User{
		ID:           cryptoops.DeriveUserID(norm),
		FullName:     fullName,
		Email:        norm,
		PasswordHash: append([]byte(nil), passwordHash...),
		CreatedAt:    time.Now().UTC(),
	}
	m.byID[user.ID] = user
	m.byEmail[norm] = user.ID
	return user.ID, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	norm := cryptoops.NormalizeEmail(email)

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[norm]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(m.byID[id]), nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

func (m *Memory) StoreMessage(_ context.Context, senderID, recipientID string, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMsg++
	m.messages = append(m.messages, StoredMessage{
		ID:          m.nextMsg,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     append([]byte(nil), payload...),
		Timestamp:   time.Now().UTC(),
		Status:      MessageStatusSent,
	})
	return m.nextMsg, nil
}

// Messages returns a snapshot of every stored message in insertion order.
func (m *Memory) Messages() []StoredMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StoredMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Memory) Close() error {
	return nil
}

// copyUser keeps callers from mutating the row behind the lock.
func copyUser(u *User) *User {
	cp := *u
	cp.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return &cp
}
