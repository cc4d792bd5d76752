package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/session-gate/internal/models"
)

// EventRepository persists security events.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new instance of EventRepository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create stores a security event entry.
func (r *EventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO auth_events (id, user_id, session_id, kind, endpoint, method, ip_address, user_agent, detail, created_at) VALUES (:id, :user_id, :session_id, :kind, :endpoint, :method, :ip_address, :user_agent, :detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create security event: %w", err)
	}
	return nil
}

// ListForUser returns recent events for a user, newest first.
func (r *EventRepository) ListForUser(ctx context.Context, userID string, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, user_id, session_id, kind, endpoint, method, ip_address, user_agent, detail, created_at FROM auth_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	var events []models.SecurityEvent
	if err := r.db.SelectContext(ctx, &events, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}
