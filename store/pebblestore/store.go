// Package pebblestore implements store.AccountStore on a Pebble
// key/value database.
//
// Key layout:
//
//	u:<user id>          → JSON user row
//	e:<normalized email> → user id (uniqueness index)
//	m:<8B BE sequence>   → JSON stored message
//	s:msg                → last allocated message sequence (8B BE)
package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/sealchat/cryptoops"
	"github.com/gosuda/sealchat/store"
)

const (
	userPrefix  = "u:"
	emailPrefix = "e:"
	msgPrefix   = "m:"
	seqKey      = "s:msg"
)

// Store is a Pebble-backed AccountStore. The mutex serializes the
// read-modify-write sections (email uniqueness, sequence allocation);
// plain lookups go straight to Pebble.
type Store struct {
	db *pebble.DB
	mu sync.Mutex
}

var _ store.AccountStore = (*Store)(nil)

// Open opens (or creates) the database under path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("[Store] database opened")
	return &Store{db: db}, nil
}

func (s *Store) AddUser(_ context.Context, fullName, email string, passwordHash []byte) (string, error) {
	norm := cryptoops.NormalizeEmail(email)
	emailKey := []byte(emailPrefix + norm)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, closer, err := s.db.Get(emailKey)
	if err == nil {
		closer.Close()
		return "", store.ErrEmailExists
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return "", fmt.Errorf("check email index: %w", err)
	}

	user := store.User{
		ID:           cryptoops.DeriveUserID(norm),
		FullName:     fullName,
		Email:        norm,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	row, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("marshal user row: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte(userPrefix+user.ID), row, nil); err != nil {
		return "", err
	}
	if err := batch.Set(emailKey, []byte(user.ID), nil); err != nil {
		return "", err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("commit user row: %w", err)
	}

	log.Debug().Str("user", user.ID).Msg("[Store] user created")
	return user.ID, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	norm := cryptoops.NormalizeEmail(email)
	id, err := s.get([]byte(emailPrefix + norm))
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, string(id))
}

func (s *Store) GetUserByID(_ context.Context, id string) (*store.User, error) {
	row, err := s.get([]byte(userPrefix + id))
	if err != nil {
		return nil, err
	}
	var user store.User
	if err := json.Unmarshal(row, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user row: %w", err)
	}
	return &user, nil
}

func (s *Store) StoreMessage(_ context.Context, senderID, recipientID string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.lastSeq()
	if err != nil {
		return 0, err
	}
	seq++

	msg := store.StoredMessage{
		ID:          seq,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
		Status:      store.MessageStatusSent,
	}
	row, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message row: %w", err)
	}

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(seq))

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(msgKey(seq), row, nil); err != nil {
		return 0, err
	}
	if err := batch.Set([]byte(seqKey), seqBuf[:], nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit message row: %w", err)
	}

	log.Debug().Int64("id", seq).Str("recipient", recipientID).Msg("[Store] offline message stored")
	return seq, nil
}

// Messages returns every stored message in sequence order. This is a
// diagnostic accessor, not part of store.AccountStore; the protocol
// defines no pickup path yet.
func (s *Store) Messages() ([]store.StoredMessage, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(msgPrefix),
		UpperBound: []byte("m;"), // ';' is the byte after ':'
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []store.StoredMessage
	for valid := iter.First(); valid; valid = iter.Next() {
		var msg store.StoredMessage
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message row: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) Close() error {
	log.Info().Msg("[Store] database closed")
	return s.db.Close()
}

// get copies the value for key out of Pebble before releasing it.
func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	closer.Close()
	return out, nil
}

// lastSeq reads the allocated sequence head. Must hold mu.
func (s *Store) lastSeq() (int64, error) {
	val, err := s.get([]byte(seqKey))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt sequence key: %d bytes", len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func msgKey(seq int64) []byte {
	key := make([]byte, len(msgPrefix)+8)
	copy(key, msgPrefix)
	binary.BigEndian.PutUint64(key[len(msgPrefix):], uint64(seq))
	return key
}
