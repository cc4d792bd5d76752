package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/session-gate/internal/models"
)

func TestCreateSecurityEvent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	mock.ExpectExec("INSERT INTO auth_events").WillReturnResult(sqlmock.NewResult(1, 1))

	userID := "u1"
	event := &models.SecurityEvent{
		UserID:    &userID,
		Kind:      models.EventLoginSuccess,
		Endpoint:  "/auth/login",
		Method:    "POST",
		IPAddress: "192.0.2.1",
	}
	err := repo.Create(context.Background(), event)
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "session_id", "kind", "endpoint", "method", "ip_address", "user_agent", "detail", "created_at"}).
		AddRow("e1", "u1", "s1", models.EventLogout, "/auth/logout", "POST", "192.0.2.1", "agent", nil, now)
	mock.ExpectQuery("SELECT .+ FROM auth_events WHERE user_id").
		WithArgs("u1", 50).
		WillReturnRows(rows)

	events, err := repo.ListForUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventLogout, events[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}
