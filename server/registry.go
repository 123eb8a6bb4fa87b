package server

import (
	"sync"

	"github.com/gosuda/sealchat/wire"
)

// Registry tracks which live session currently speaks for each
// authenticated user. Critical sections hold only map mutation and
// snapshot construction, never blocking I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // key: user ID
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register binds userID to sess. A second login for the same user
// silently replaces the previous binding; the evicted session keeps
// its connection and merely stops receiving routed messages.
func (r *Registry) Register(userID string, sess *Session) {
	r.mu.Lock()
	r.sessions[userID] = sess
	r.mu.Unlock()
}

// Unregister removes the binding only while it still points at sess,
// so a replaced session's teardown cannot evict its successor.
func (r *Registry) Unregister(userID string, sess *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[userID]; ok && cur == sess {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
}

// Get returns the live session for userID, or nil.
func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListOnline returns a point-in-time snapshot of the authenticated
// users, in no particular order.
func (r *Registry) ListOnline() []wire.UserSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]wire.UserSummary, 0, len(r.sessions))
	for _, sess := range r.sessions {
		u := sess.User()
		if u == nil {
			continue
		}
		users = append(users, wire.UserSummary{ID: u.ID, FullName: u.FullName})
	}
	return users
}
