package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/session-gate/internal/models"
	"github.com/noah-isme/session-gate/pkg/config"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
)

// Codec issues and verifies signed access tokens and mints opaque refresh
// tokens. It is a pure cryptographic boundary: it knows nothing about
// sessions and has no side effects.
type Codec struct {
	secret   []byte
	issuer   string
	audience []string
}

// NewCodec builds a codec from explicit configuration.
func NewCodec(cfg config.TokenConfig) *Codec {
	return &Codec{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

// Issue produces a signed HS256 token for the identity with expiry now+ttl.
func (c *Codec) Issue(userID, email string, ttl time.Duration) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := &models.AccessClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			// A unique jti per token; without it two tokens minted for the
			// same identity in the same second are byte-identical and
			// rotation cannot distinguish old from new.
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   userID,
			Audience:  c.audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates an access token. It fails with TOKEN_EXPIRED
// when the embedded expiry has passed and TOKEN_INVALID on any signature,
// structural, issuer or audience problem.
func (c *Codec) Verify(tokenString string) (*models.AccessClaims, error) {
	opts := make([]jwt.ParserOption, 0, 2)
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		opts = append(opts, jwt.WithAudience(c.audience[0]))
	}

	tok, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, "token has expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTokenInvalid.Code, appErrors.ErrTokenInvalid.Status, "invalid token")
	}

	claims, ok := tok.Claims.(*models.AccessClaims)
	if !ok || !tok.Valid {
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "invalid token claims")
	}

	return claims, nil
}

// NewRefreshToken mints an opaque refresh token from 32 random bytes.
func (c *Codec) NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint derives a keyed digest of token material suitable for storage.
// Fingerprints are compared with hmac.Equal, never the raw secrets.
func (c *Codec) Fingerprint(raw string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// FingerprintMatches compares a presented token against a stored fingerprint
// in constant time.
func (c *Codec) FingerprintMatches(raw, storedFingerprint string) bool {
	return hmac.Equal([]byte(c.Fingerprint(raw)), []byte(storedFingerprint))
}
