package conversation

import (
	"sync"
	"sync/atomic"
)

// Mode is a chat's conversation mode.
type Mode int32

// Conversation modes.
const (
	// ModeNormal routes messages through intent analysis.
	ModeNormal Mode = iota
	// ModeBookkeeping captures ledger entries until the user confirms.
	ModeBookkeeping
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeBookkeeping:
		return "bookkeeping"
	default:
		return "unknown"
	}
}

// session is the per-chat state. turn serializes whole turns; mode is
// atomic so it can be read without waiting for a turn to finish.
type session struct {
	turn sync.Mutex
	mode atomic.Int32
}

func (s *session) Mode() Mode     { return Mode(s.mode.Load()) }
func (s *session) setMode(m Mode) { s.mode.Store(int32(m)) }

// SessionStore holds one session per chat key for the life of the
// process. Sessions are created on first use in ModeNormal.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session)}
}

func (s *SessionStore) get(key string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{}
		s.sessions[key] = sess
	}
	return sess
}

// lock acquires the chat's turn lock and returns its session along
// with the matching unlock function.
func (s *SessionStore) lock(key string) (*session, func()) {
	sess := s.get(key)
	sess.turn.Lock()
	return sess, sess.turn.Unlock
}

// Mode returns the chat's current mode. Unknown chats are in
// ModeNormal and are not added to the store.
func (s *SessionStore) Mode(key string) Mode {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()
	if !ok {
		return ModeNormal
	}
	return sess.Mode()
}

// Len returns the number of known chats.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
