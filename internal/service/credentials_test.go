package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/session-gate/internal/models"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
)

type mockUserStore struct {
	user             *models.User
	findByEmailErr   error
	findByIDErr      error
	lastLoginUpdated bool
}

func (m *mockUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	return m.user, nil
}

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	return m.user, nil
}

func (m *mockUserStore) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func TestBcryptVerifierSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockUserStore{user: &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), Active: true}}
	verifier := NewBcryptVerifier(repo, nil)

	user, err := verifier.Verify(context.Background(), "user@example.com", "password")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, repo.lastLoginUpdated)
}

func TestBcryptVerifierWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockUserStore{user: &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), Active: true}}
	verifier := NewBcryptVerifier(repo, nil)

	_, err := verifier.Verify(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestBcryptVerifierUnknownEmailSameError(t *testing.T) {
	repo := &mockUserStore{findByEmailErr: sql.ErrNoRows}
	verifier := NewBcryptVerifier(repo, nil)

	_, err := verifier.Verify(context.Background(), "nobody@example.com", "password")
	require.Error(t, err)
	// Unknown account and wrong password are indistinguishable.
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestBcryptVerifierInactiveAccount(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockUserStore{user: &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), Active: false}}
	verifier := NewBcryptVerifier(repo, nil)

	_, err := verifier.Verify(context.Background(), "user@example.com", "password")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestBcryptVerifierStoreFailure(t *testing.T) {
	repo := &mockUserStore{findByEmailErr: errors.New("connection refused")}
	verifier := NewBcryptVerifier(repo, nil)

	_, err := verifier.Verify(context.Background(), "user@example.com", "password")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStoreUnavailable.Code, appErrors.FromError(err).Code)
}

func TestBcryptVerifierLookup(t *testing.T) {
	repo := &mockUserStore{user: &models.User{ID: "u1", Email: "user@example.com", Active: true}}
	verifier := NewBcryptVerifier(repo, nil)

	user, err := verifier.Lookup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)

	repo.user.Active = false
	_, err = verifier.Lookup(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)

	repo.findByIDErr = sql.ErrNoRows
	_, err = verifier.Lookup(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
