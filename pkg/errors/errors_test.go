package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactCollapsesUnauthorizedKinds(t *testing.T) {
	for _, err := range []*Error{ErrSessionInactive, ErrSessionExpired, ErrTokenExpired, ErrTokenInvalid, ErrTokenMismatch, ErrInvalidCredentials} {
		redacted := FromError(Redact(err))
		assert.Equal(t, ErrUnauthorized.Code, redacted.Code, "kind %s must redact", err.Code)
		assert.Equal(t, http.StatusUnauthorized, redacted.Status)
	}
}

func TestRedactPassesThroughNonAuthErrors(t *testing.T) {
	redacted := FromError(Redact(ErrStoreUnavailable))
	assert.Equal(t, ErrStoreUnavailable.Code, redacted.Code)
	assert.Equal(t, http.StatusServiceUnavailable, redacted.Status)

	assert.NoError(t, Redact(nil))
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(errors.New("boom"))
	require.NotNil(t, err)
	assert.Equal(t, ErrInternal.Code, err.Code)
}

func TestCloneOverridesMessage(t *testing.T) {
	clone := Clone(ErrUnauthorized, "custom message")
	assert.Equal(t, ErrUnauthorized.Code, clone.Code)
	assert.Equal(t, "custom message", clone.Message)
	assert.Equal(t, "unauthorized", ErrUnauthorized.Message)
}

func TestIsMatchesWrappedCode(t *testing.T) {
	wrapped := Wrap(errors.New("db down"), ErrStoreUnavailable.Code, ErrStoreUnavailable.Status, "failed to load session")
	assert.True(t, Is(wrapped, ErrStoreUnavailable))
	assert.False(t, Is(wrapped, ErrUnauthorized))
	assert.False(t, Is(errors.New("plain"), ErrUnauthorized))
}
