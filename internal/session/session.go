// Package session issues and checks admin sessions. A Session is an
// explicit object whose expiry is evaluated every time it is read rather
// than cached as a flag.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
	"github.com/jonesrussell/north-cloud/reader/internal/config"
)

const minSecretLen = 32

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRevoked            = errors.New("session revoked")
)

// Session is one authenticated admin login.
type Session struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	token string

	mu        sync.Mutex
	loggedOut bool
}

// Token returns the signed bearer token for s.
func (s *Session) Token() string {
	return s.token
}

// IsAuthenticated reports whether s is usable at now. A nil session is
// never authenticated.
func (s *Session) IsAuthenticated(now time.Time) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loggedOut && now.Before(s.ExpiresAt)
}

// Logout ends s locally. Use Manager.Revoke to also reject its token.
func (s *Session) Logout() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.loggedOut = true
	s.mu.Unlock()
}

type claims struct {
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 session tokens.
type Manager struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	username string
	password string
	now      func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for issuing and checking tokens.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager validates cfg and returns a manager. The configured password
// may be a bcrypt hash.
func NewManager(cfg config.AuthConfig, opts ...Option) (*Manager, error) {
	if len(cfg.JWTSecret) < minSecretLen {
		return nil, apperrors.NewConfigurationError("session", "jwt_secret",
			"must be at least %d bytes", minSecretLen)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, apperrors.NewConfigurationError("session", "username",
			"username and password are required")
	}
	if cfg.SessionTTL <= 0 {
		return nil, apperrors.NewConfigurationError("session", "session_ttl", "must be positive")
	}

	m := &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		ttl:      cfg.SessionTTL,
		username: cfg.Username,
		password: cfg.Password,
		now:      time.Now,
		revoked:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Login checks the admin credentials and issues a session.
func (m *Manager) Login(username, password string) (*Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	if !m.checkPassword(password) || !userOK {
		return nil, ErrInvalidCredentials
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Subject:   username,
		IssuedAt:  now.UTC(),
		ExpiresAt: now.Add(m.ttl).UTC(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.Subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			NotBefore: jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	s.token = signed
	return s, nil
}

func (m *Manager) checkPassword(password string) bool {
	if strings.HasPrefix(m.password, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(m.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
}

// Parse verifies a bearer token and rebuilds its session.
func (m *Manager) Parse(tokenString string) (*Session, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if m.isRevoked(c.ID) {
		return nil, ErrRevoked
	}

	s := &Session{
		ID:        c.ID,
		Subject:   c.Subject,
		ExpiresAt: c.ExpiresAt.Time,
		token:     tokenString,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	return s, nil
}

// Revoke logs s out and rejects its token until it would have expired.
func (m *Manager) Revoke(s *Session) {
	if s == nil {
		return
	}
	s.Logout()

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, exp := range m.revoked {
		if !now.Before(exp) {
			delete(m.revoked, id)
		}
	}
	m.revoked[s.ID] = s.ExpiresAt
}

func (m *Manager) isRevoked(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[id]
	return ok
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}
