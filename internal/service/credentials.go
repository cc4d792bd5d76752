package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/session-gate/internal/models"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
)

// CredentialVerifier is the contract to the external user/credential store.
// The session lifecycle never sees raw password material beyond Verify, and
// Lookup is the only other read it performs (to restamp claims on refresh).
type CredentialVerifier interface {
	Verify(ctx context.Context, email, password string) (*models.User, error)
	Lookup(ctx context.Context, userID string) (*models.User, error)
}

type credentialUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// BcryptVerifier checks credentials against the user table with bcrypt.
type BcryptVerifier struct {
	repo   credentialUserStore
	logger *zap.Logger
}

// NewBcryptVerifier constructs the default credential verifier.
func NewBcryptVerifier(repo credentialUserStore, logger *zap.Logger) *BcryptVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BcryptVerifier{repo: repo, logger: logger}
}

// Verify authenticates the email/password pair. Unknown accounts and wrong
// passwords produce the same error so the response cannot confirm whether an
// email is registered.
func (v *BcryptVerifier) Verify(ctx context.Context, email, password string) (*models.User, error) {
	user, err := v.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to fetch user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	if err := v.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		v.logger.Warn("failed to update last login", zap.Error(err))
	}

	return user, nil
}

// Lookup returns the user behind an existing session, rejecting accounts
// that were deactivated after login.
func (v *BcryptVerifier) Lookup(ctx context.Context, userID string) (*models.User, error) {
	user, err := v.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	return user, nil
}
