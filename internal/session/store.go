// Package session keeps per-session conversation history in process memory.
//
// The map itself is mutex-guarded, so requests against different session keys
// are fully independent. Same-key traffic is intentionally not serialized
// across a Get/Upsert pair: two concurrent exchanges can both read the same
// prior history and append independently, and the stored order is whichever
// Upsert lands last. Last-writer-wins is acceptable for a conversational aid
// and callers must not rely on stricter ordering.
package session

import (
	"strings"
	"sync"
	"time"
)

// DefaultMaxTurns caps how many turns a session retains before the oldest
// are evicted.
const DefaultMaxTurns = 20

// Role tags one side of an exchange.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged piece of text. It doubles as a stored turn and
// as an entry of the composed prompt handed to the completion provider.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Session is one named conversation context.
type Session struct {
	System    string    `json:"system,omitempty"`
	Turns     []Message `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store holds all sessions for the life of the process. No TTL is applied;
// the only growth bound is the per-session turn cap.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxTurns int
}

// NewStore creates a store trimming each session to maxTurns turns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		sessions: make(map[string]*Session),
		maxTurns: maxTurns,
	}
}

// Get returns a snapshot of the session, or ok=false when the key has never
// been seen (or was reset). Absent is a valid state, not an error.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	return snapshot(sess), true
}

// Upsert appends the supplied non-empty turns (user first, then assistant),
// updates the sticky system directive only when a non-empty one is given,
// trims to the turn cap and bumps the timestamp. The session is created
// lazily when absent.
func (s *Store) Upsert(key, systemDirective, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		sess = &Session{}
		s.sessions[key] = sess
	}

	if strings.TrimSpace(systemDirective) != "" {
		sess.System = systemDirective
	}
	if userText != "" {
		sess.Turns = append(sess.Turns, Message{Role: RoleUser, Text: userText})
	}
	if assistantText != "" {
		sess.Turns = append(sess.Turns, Message{Role: RoleAssistant, Text: assistantText})
	}
	if over := len(sess.Turns) - s.maxTurns; over > 0 {
		sess.Turns = append(sess.Turns[:0:0], sess.Turns[over:]...)
	}
	sess.UpdatedAt = time.Now().UTC()
}

// Reset removes the session entirely; a subsequent Get returns absent.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

// Len reports how many sessions are currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func snapshot(sess *Session) Session {
	out := Session{
		System:    sess.System,
		UpdatedAt: sess.UpdatedAt,
	}
	out.Turns = append(out.Turns, sess.Turns...)
	return out
}
