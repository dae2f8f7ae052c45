package session

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const contextKey = "reader.session"

// Require rejects requests without a valid, unexpired bearer session and
// stores the session in the gin context.
func Require(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := m.Parse(bearerToken(c.GetHeader("Authorization")))
		if err != nil || !s.IsAuthenticated(m.Now()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(contextKey, s)
		c.Next()
	}
}

// Optional attaches a session when a valid token is present and lets
// anonymous requests through.
func Optional(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m != nil {
			if token := bearerToken(c.GetHeader("Authorization")); token != "" {
				if s, err := m.Parse(token); err == nil {
					c.Set(contextKey, s)
				}
			}
		}
		c.Next()
	}
}

// FromContext returns the session stored by Require or Optional.
func FromContext(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
