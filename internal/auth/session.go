package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Session is one logged-in browser. Secret is the user's plaintext password,
// held only here for the lifetime of the session: it keys the credential
// vault and is never persisted anywhere.
type Session struct {
	Token     string
	UserID    string
	Secret    string
	CreatedAt time.Time
	LastSeen  time.Time
}

// SessionStore holds live sessions in memory. A server restart logs
// everyone out, which is acceptable because the vault key cannot be
// recovered from disk anyway.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxIdle  time.Duration
}

// NewSessionStore creates a store that expires sessions after maxIdle
// without activity.
func NewSessionStore(maxIdle time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		maxIdle:  maxIdle,
	}
}

// Create opens a session for the user and returns its bearer token.
func (s *SessionStore) Create(userID, secret string) (*Session, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session := &Session{
		Token:     hex.EncodeToString(raw),
		UserID:    userID,
		Secret:    secret,
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
	}

	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()

	return session, nil
}

// Get returns the session for a token, refreshing its idle timer. Expired
// sessions are dropped on access.
func (s *SessionStore) Get(token string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, false
	}

	if s.maxIdle > 0 && time.Since(session.LastSeen) > s.maxIdle {
		delete(s.sessions, token)
		return nil, false
	}

	session.LastSeen = time.Now()
	return session, true
}

// Delete ends one session.
func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// UpdateSecret replaces the vault key in every live session of the user,
// called after a password change re-wraps the stored credentials.
func (s *SessionStore) UpdateSecret(userID, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.UserID == userID {
			session.Secret = secret
		}
	}
}

// HashPassword produces the bcrypt hash stored for login verification.
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
