package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/session-gate/internal/models"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
	"github.com/noah-isme/session-gate/pkg/response"
)

type authenticator interface {
	Authenticate(ctx context.Context, accessToken, sessionID string, meta models.SessionMetadata) (*models.Identity, error)
}

// ContextIdentityKey is the gin context key storing the resolved identity.
const ContextIdentityKey = "currentIdentity"

// SessionIDHeader carries the session correlation key alongside the token.
const SessionIDHeader = "X-Session-Id"

// Auth protects routes by requiring a valid access token and a live session.
// Every failure kind is collapsed into a single unauthorized response; the
// distinction lives in logs, events and metrics only.
func Auth(sessions authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		meta := models.SessionMetadata{
			IP:        c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
			Endpoint:  c.FullPath(),
			Method:    c.Request.Method,
		}

		identity, err := sessions.Authenticate(c.Request.Context(), token, c.GetHeader(SessionIDHeader), meta)
		if err != nil {
			response.Error(c, appErrors.Redact(err))
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Identity returns the resolved identity stored in the Gin context.
func Identity(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	identity, ok := value.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}
