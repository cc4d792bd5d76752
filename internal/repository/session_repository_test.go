package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/session-gate/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func sessionRows(ids ...string) *sqlmock.Rows {
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "access_token_fingerprint", "refresh_token_fingerprint", "refresh_expires_at", "ip_address", "user_agent", "last_activity_at", "expires_at", "is_active", "deactivated_reason", "created_at", "updated_at"})
	for _, id := range ids {
		rows.AddRow(id, "u1", "afp", "rfp", now.Add(time.Hour), "192.0.2.1", "agent", now, now.Add(time.Hour), true, nil, now, now)
	}
	return rows
}

func TestCreateWithSupersede(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE, deactivated_reason = $2, updated_at = $3 WHERE user_id = $1 AND is_active = TRUE RETURNING id")).
		WithArgs("u1", models.DeactivationSuperseded, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("old-1").AddRow("old-2"))
	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	session := &models.Session{
		UserID:                  "u1",
		AccessTokenFingerprint:  "afp",
		RefreshTokenFingerprint: "rfp",
		ExpiresAt:               time.Now().Add(time.Hour),
	}
	superseded, err := repo.CreateWithSupersede(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1", "old-2"}, superseded)
	assert.True(t, session.IsActive)
	assert.NotEmpty(t, session.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithSupersedeRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE sessions SET is_active = FALSE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO sessions").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := repo.CreateWithSupersede(context.Background(), &models.Session{UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.Session{UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.Create(context.Background(), session)
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSessionByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+sessionColumns+" FROM sessions WHERE id = $1 LIMIT 1")).
		WithArgs("s1").
		WillReturnRows(sessionRows("s1"))

	session, err := repo.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.Equal(t, "u1", session.UserID)
	assert.True(t, session.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSessionByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("SELECT .+ FROM sessions WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE, deactivated_reason = $2, updated_at = $3 WHERE id = $1 AND is_active = TRUE")).
		WithArgs("s1", models.DeactivationLogout, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Deactivate(context.Background(), "s1", models.DeactivationLogout)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateSessionAlreadyInactive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	// Zero rows affected is not an error.
	mock.ExpectExec("UPDATE sessions SET is_active = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Deactivate(context.Background(), "s1", models.DeactivationLogout)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateAllForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE, deactivated_reason = $2, updated_at = $3 WHERE user_id = $1 AND is_active = TRUE")).
		WithArgs("u1", models.DeactivationCompromised, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.DeactivateAllForUser(context.Background(), "u1", models.DeactivationCompromised)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRotation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	deadline := time.Now().UTC().Add(24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET access_token_fingerprint = $2, refresh_token_fingerprint = $3, refresh_expires_at = $4, last_activity_at = $5, updated_at = $5 WHERE id = $1")).
		WithArgs("s1", "new-afp", "new-rfp", deadline, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateRotation(context.Background(), "s1", "new-afp", "new-rfp", deadline)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateAllForUserRowsAffectedError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET is_active = FALSE").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver does not report rows")))

	_, err := repo.DeactivateAllForUser(context.Background(), "u1", models.DeactivationCompromised)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchActivity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	ts := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET last_activity_at = $2 WHERE id = $1")).
		WithArgs("s1", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TouchActivity(context.Background(), "s1", ts)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveSessions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+sessionColumns+" FROM sessions WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2 ORDER BY last_activity_at DESC")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(sessionRows("s1", "s2"))

	sessions, err := repo.ListActive(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
