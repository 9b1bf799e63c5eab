package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns every session record. All operations serialize on a single
// mutex: no two mutations interleave, and multi-key steps (evicting a
// device's prior session before inserting its replacement) are atomic.
// State is memory-resident only and rebuilt from zero on startup.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session // keyed by session id
	byDevice map[string]string   // device id -> session id
	byToken  map[string]string   // credential token -> session id
	ttl      time.Duration
}

// NewStore creates an empty store whose sessions live for ttl from
// creation.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		byDevice: make(map[string]string),
		byToken:  make(map[string]string),
		ttl:      ttl,
	}
}

// Create mints a session for deviceID, evicting any existing session
// for that device first. At most one session per device exists at any
// instant; the evicted id stops validating immediately.
func (st *Store) Create(deviceID, token string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if prevID, ok := st.byDevice[deviceID]; ok {
		if prev := st.sessions[prevID]; prev != nil {
			st.removeLocked(prev)
		}
		log.Printf("🔁 Session evicted for device %s: %s", deviceID, prevID)
	}

	now := time.Now()
	sess := &Session{
		ID:             uuid.New().String(),
		DeviceID:       deviceID,
		Token:          token,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(st.ttl),
	}
	st.sessions[sess.ID] = sess
	st.byDevice[deviceID] = sess.ID
	st.byToken[token] = sess.ID

	return copySession(sess)
}

// Validate returns the session for id, or (nil, false) if it does not
// exist or has expired; an expired session is deleted on sight and is
// indistinguishable from one that never existed. With refresh set,
// LastActivityAt is updated; ExpiresAt never moves.
func (st *Store) Validate(id string, refresh bool) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	if sess.IsExpired() {
		st.removeLocked(sess)
		return nil, false
	}
	if refresh {
		sess.LastActivityAt = time.Now()
	}
	return copySession(sess), true
}

// ValidateByToken looks a session up by its presented credential token.
// Expired sessions are deleted on sight, as in Validate.
func (st *Store) ValidateByToken(token string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id, ok := st.byToken[token]
	if !ok {
		return nil, false
	}
	sess := st.sessions[id]
	if sess == nil {
		delete(st.byToken, token)
		return nil, false
	}
	if sess.IsExpired() {
		st.removeLocked(sess)
		return nil, false
	}
	return copySession(sess), true
}

// GetByDevice returns the session for deviceID, if a valid one exists.
func (st *Store) GetByDevice(deviceID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id, ok := st.byDevice[deviceID]
	if !ok {
		return nil, false
	}
	sess := st.sessions[id]
	if sess == nil {
		delete(st.byDevice, deviceID)
		return nil, false
	}
	if sess.IsExpired() {
		st.removeLocked(sess)
		return nil, false
	}
	return copySession(sess), true
}

// Revoke removes the session with the given id. Absent ids are a no-op.
func (st *Store) Revoke(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sess, ok := st.sessions[id]; ok {
		st.removeLocked(sess)
	}
}

// RevokeByDevice removes all sessions for deviceID — normally zero or
// one — and leaves every other device's sessions untouched.
func (st *Store) RevokeByDevice(deviceID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.byDevice[deviceID]; ok {
		if sess := st.sessions[id]; sess != nil {
			st.removeLocked(sess)
		} else {
			delete(st.byDevice, deviceID)
		}
	}
	// Defensive scan for records the index lost track of.
	for _, sess := range st.sessions {
		if sess.DeviceID == deviceID {
			st.removeLocked(sess)
		}
	}
}

// SweepExpired removes every expired session and returns how many were
// removed.
func (st *Store) SweepExpired() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for _, sess := range st.sessions {
		if sess.IsExpired() {
			st.removeLocked(sess)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of currently valid sessions.
func (st *Store) ActiveCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	count := 0
	for _, sess := range st.sessions {
		if !sess.IsExpired() {
			count++
		}
	}
	return count
}

// ListActive returns an unordered snapshot of all valid sessions.
func (st *Store) ListActive() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		if !sess.IsExpired() {
			out = append(out, copySession(sess))
		}
	}
	return out
}

// removeLocked deletes a session and its index entries. Caller holds
// st.mu.
func (st *Store) removeLocked(sess *Session) {
	delete(st.sessions, sess.ID)
	if st.byDevice[sess.DeviceID] == sess.ID {
		delete(st.byDevice, sess.DeviceID)
	}
	if st.byToken[sess.Token] == sess.ID {
		delete(st.byToken, sess.Token)
	}
}

func copySession(sess *Session) *Session {
	c := *sess
	return &c
}
