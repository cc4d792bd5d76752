package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/session-gate/internal/models"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
	"github.com/noah-isme/session-gate/pkg/response"
)

type authenticatorMock struct {
	identity *models.Identity
	err      error

	gotToken     string
	gotSessionID string
	gotMeta      models.SessionMetadata
}

func (m *authenticatorMock) Authenticate(ctx context.Context, accessToken, sessionID string, meta models.SessionMetadata) (*models.Identity, error) {
	m.gotToken = accessToken
	m.gotSessionID = sessionID
	m.gotMeta = meta
	if m.err != nil {
		return nil, m.err
	}
	return m.identity, nil
}

func newAuthRouter(mock *authenticatorMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(mock))
	r.GET("/protected", func(c *gin.Context) {
		identity := Identity(c)
		response.JSON(c, http.StatusOK, gin.H{"user_id": identity.UserID})
	})
	return r
}

func TestAuthMiddlewarePassesIdentity(t *testing.T) {
	mock := &authenticatorMock{identity: &models.Identity{UserID: "u1", Email: "user@example.com", SessionID: "s1"}}
	r := newAuthRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer the-token")
	req.Header.Set(SessionIDHeader, "s1")
	req.Header.Set("User-Agent", "test-agent")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "the-token", mock.gotToken)
	assert.Equal(t, "s1", mock.gotSessionID)
	assert.Equal(t, "test-agent", mock.gotMeta.UserAgent)
	assert.Equal(t, http.MethodGet, mock.gotMeta.Method)
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	mock := &authenticatorMock{}
	r := newAuthRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, mock.gotToken)
}

func TestAuthMiddlewareBadScheme(t *testing.T) {
	mock := &authenticatorMock{}
	r := newAuthRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, mock.gotToken)
}

func TestAuthMiddlewareRedactsFailureKind(t *testing.T) {
	mock := &authenticatorMock{err: appErrors.ErrSessionInactive}
	r := newAuthRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	// The specific failure kind must not leak to the caller.
	assert.Equal(t, appErrors.ErrUnauthorized.Code, envelope.Error.Code)
}

func TestAuthMiddlewareStoreFailureNotRedacted(t *testing.T) {
	mock := &authenticatorMock{err: appErrors.ErrStoreUnavailable}
	r := newAuthRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer the-token")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIdentityMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	assert.Nil(t, Identity(c))
}
