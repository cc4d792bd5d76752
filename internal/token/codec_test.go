package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/session-gate/pkg/config"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
)

func newTestCodec(secret string) *Codec {
	return NewCodec(config.TokenConfig{Secret: secret, Issuer: "session-gate"})
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec("secret")

	signed, expiresAt, err := codec.Issue("u42", "user@example.com", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := codec.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "u42", claims.Subject)
}

func TestVerifyExpired(t *testing.T) {
	codec := newTestCodec("secret")

	signed, _, err := codec.Issue("u42", "user@example.com", -time.Minute)
	require.NoError(t, err)

	_, err = codec.Verify(signed)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErrors.FromError(err).Code)
}

func TestVerifyForged(t *testing.T) {
	codec := newTestCodec("secret")
	other := newTestCodec("different-secret")

	signed, _, err := other.Issue("u42", "user@example.com", time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(signed)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErrors.FromError(err).Code)
}

func TestIssueTokensAreUnique(t *testing.T) {
	codec := newTestCodec("secret")

	// Two tokens for the same identity in the same instant must still
	// differ, otherwise rotation cannot supersede the older one.
	first, _, err := codec.Issue("u42", "user@example.com", time.Hour)
	require.NoError(t, err)
	second, _, err := codec.Issue("u42", "user@example.com", time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, codec.Fingerprint(first), codec.Fingerprint(second))
}

func TestVerifyWrongIssuer(t *testing.T) {
	verifier := newTestCodec("secret")
	minter := NewCodec(config.TokenConfig{Secret: "secret", Issuer: "some-other-service"})

	signed, _, err := minter.Issue("u42", "user@example.com", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErrors.FromError(err).Code)
}

func TestVerifyAudience(t *testing.T) {
	web := NewCodec(config.TokenConfig{Secret: "secret", Issuer: "session-gate", Audience: []string{"web"}})
	api := NewCodec(config.TokenConfig{Secret: "secret", Issuer: "session-gate", Audience: []string{"api"}})

	signed, _, err := web.Issue("u42", "user@example.com", time.Hour)
	require.NoError(t, err)

	_, err = web.Verify(signed)
	require.NoError(t, err)

	_, err = api.Verify(signed)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErrors.FromError(err).Code)
}

func TestVerifyMalformed(t *testing.T) {
	codec := newTestCodec("secret")

	_, err := codec.Verify("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErrors.FromError(err).Code)
}

func TestRefreshTokenFingerprint(t *testing.T) {
	codec := newTestCodec("secret")

	raw, err := codec.NewRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	fp := codec.Fingerprint(raw)
	assert.NotEqual(t, raw, fp)
	assert.True(t, codec.FingerprintMatches(raw, fp))
	assert.False(t, codec.FingerprintMatches("stolen-from-elsewhere", fp))

	second, err := codec.NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, second)
}

func TestFingerprintDependsOnSecret(t *testing.T) {
	a := newTestCodec("secret-a")
	b := newTestCodec("secret-b")

	assert.NotEqual(t, a.Fingerprint("token"), b.Fingerprint("token"))
}
