package session_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
	"github.com/jonesrussell/north-cloud/reader/internal/config"
	"github.com/jonesrussell/north-cloud/reader/internal/session"
)

const secret = "0123456789abcdef0123456789abcdef"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, password string) (*session.Manager, *clock) {
	t.Helper()
	clk := &clock{t: time.Now().Truncate(time.Second)}
	m, err := session.NewManager(config.AuthConfig{
		JWTSecret:  secret,
		Username:   "editor",
		Password:   password,
		Issuer:     "reader-test",
		SessionTTL: time.Hour,
	}, session.WithClock(clk.Now))
	require.NoError(t, err)
	return m, clk
}

func TestNewManager_RejectsBadConfig(t *testing.T) {
	_, err := session.NewManager(config.AuthConfig{JWTSecret: "short", Username: "u", Password: "p", SessionTTL: time.Hour})
	assert.True(t, apperrors.IsConfigurationError(err))

	_, err = session.NewManager(config.AuthConfig{JWTSecret: secret, SessionTTL: time.Hour})
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestLoginAndParse(t *testing.T) {
	m, clk := newManager(t, "hunter2")

	_, err := m.Login("editor", "wrong")
	require.ErrorIs(t, err, session.ErrInvalidCredentials)

	s, err := m.Login("editor", "hunter2")
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated(clk.Now()))
	assert.NotEmpty(t, s.Token())

	parsed, err := m.Parse(s.Token())
	require.NoError(t, err)
	assert.Equal(t, s.ID, parsed.ID)
	assert.Equal(t, "editor", parsed.Subject)
	assert.True(t, parsed.ExpiresAt.Equal(s.ExpiresAt))
}

func TestLogin_BcryptPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	m, _ := newManager(t, string(hash))

	_, err = m.Login("editor", "s3cret")
	require.NoError(t, err)
	_, err = m.Login("editor", string(hash))
	require.ErrorIs(t, err, session.ErrInvalidCredentials)
}

func TestSession_ExpiryIsCheckedAtReadTime(t *testing.T) {
	m, clk := newManager(t, "pw")
	s, err := m.Login("editor", "pw")
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	assert.True(t, s.IsAuthenticated(clk.Now()))

	clk.Advance(2 * time.Minute)
	assert.False(t, s.IsAuthenticated(clk.Now()))

	_, err = m.Parse(s.Token())
	require.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	m, clk := newManager(t, "pw")
	s, err := m.Login("editor", "pw")
	require.NoError(t, err)

	m.Revoke(s)
	assert.False(t, s.IsAuthenticated(clk.Now()))
	_, err = m.Parse(s.Token())
	require.ErrorIs(t, err, session.ErrRevoked)

	var nilSession *session.Session
	assert.False(t, nilSession.IsAuthenticated(clk.Now()))
}

func TestParse_RejectsForeignTokens(t *testing.T) {
	m, _ := newManager(t, "pw")
	other, err := session.NewManager(config.AuthConfig{
		JWTSecret:  "ffffffffffffffffffffffffffffffff",
		Username:   "editor",
		Password:   "pw",
		Issuer:     "reader-test",
		SessionTTL: time.Hour,
	})
	require.NoError(t, err)

	s, err := other.Login("editor", "pw")
	require.NoError(t, err)
	_, err = m.Parse(s.Token())
	require.ErrorIs(t, err, session.ErrInvalidToken)

	_, err = m.Parse("not-a-token")
	require.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestRequireMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := newManager(t, "pw")
	s, err := m.Login("editor", "pw")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/admin", session.Require(m), func(c *gin.Context) {
		got, ok := session.FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, got.Subject)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + s.Token(), http.StatusUnauthorized},
		{"garbage", "Bearer garbage", http.StatusUnauthorized},
		{"valid", "Bearer " + s.Token(), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "editor", w.Body.String())
			}
		})
	}
}

func TestOptionalMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := newManager(t, "pw")

	router := gin.New()
	router.GET("/", session.Optional(m), func(c *gin.Context) {
		_, ok := session.FromContext(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())
}
