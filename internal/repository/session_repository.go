package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/session-gate/internal/models"
)

const sessionColumns = `id, user_id, access_token_fingerprint, refresh_token_fingerprint, refresh_expires_at, ip_address, user_agent, last_activity_at, expires_at, is_active, deactivated_reason, created_at, updated_at`

// SessionRepository provides database access for login sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateWithSupersede atomically deactivates every active session owned by
// the user and inserts the new one. The per-user advisory lock serializes
// racing logins: under read committed alone, login B's deactivate can take
// its snapshot before login A's insert commits, leaving two active rows.
// Returns the ids of the superseded sessions.
func (r *SessionRepository) CreateWithSupersede(ctx context.Context, session *models.Session) ([]string, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = now
	}
	session.UpdatedAt = now
	session.IsActive = true

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Held until commit or rollback; the second login for the same user
	// blocks here until the first one's insert is visible.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, session.UserID); err != nil {
		return nil, fmt.Errorf("lock user sessions: %w", err)
	}

	const supersede = `UPDATE sessions SET is_active = FALSE, deactivated_reason = $2, updated_at = $3 WHERE user_id = $1 AND is_active = TRUE RETURNING id`
	var superseded []string
	if err := tx.SelectContext(ctx, &superseded, supersede, session.UserID, models.DeactivationSuperseded, now); err != nil {
		return nil, fmt.Errorf("supersede sessions: %w", err)
	}

	const insert = `INSERT INTO sessions (id, user_id, access_token_fingerprint, refresh_token_fingerprint, refresh_expires_at, ip_address, user_agent, last_activity_at, expires_at, is_active, created_at, updated_at) VALUES (:id, :user_id, :access_token_fingerprint, :refresh_token_fingerprint, :refresh_expires_at, :ip_address, :user_agent, :last_activity_at, :expires_at, :is_active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login tx: %w", err)
	}
	return superseded, nil
}

// Create inserts a new active session without touching other rows. Used when
// the single-session policy is disabled.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = now
	}
	session.UpdatedAt = now
	session.IsActive = true

	const query = `INSERT INTO sessions (id, user_id, access_token_fingerprint, refresh_token_fingerprint, refresh_expires_at, ip_address, user_agent, last_activity_at, expires_at, is_active, created_at, updated_at) VALUES (:id, :user_id, :access_token_fingerprint, :refresh_token_fingerprint, :refresh_expires_at, :ip_address, :user_agent, :last_activity_at, :expires_at, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1 LIMIT 1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

// Deactivate marks a session inactive with the given reason. Idempotent:
// deactivating an already-inactive session affects no rows and is not an
// error, and the original reason is preserved.
func (r *SessionRepository) Deactivate(ctx context.Context, id, reason string) error {
	const query = `UPDATE sessions SET is_active = FALSE, deactivated_reason = $2, updated_at = $3 WHERE id = $1 AND is_active = TRUE`
	if _, err := r.db.ExecContext(ctx, query, id, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// DeactivateAllForUser marks every active session for the user inactive and
// returns the count affected.
func (r *SessionRepository) DeactivateAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	const query = `UPDATE sessions SET is_active = FALSE, deactivated_reason = $2, updated_at = $3 WHERE user_id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, userID, reason, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivate user sessions: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate user sessions: rows affected: %w", err)
	}
	return count, nil
}

// UpdateRotation stores the fingerprints of freshly rotated tokens and the
// new refresh-token deadline.
func (r *SessionRepository) UpdateRotation(ctx context.Context, id, accessFingerprint, refreshFingerprint string, refreshExpiresAt time.Time) error {
	now := time.Now().UTC()
	const query = `UPDATE sessions SET access_token_fingerprint = $2, refresh_token_fingerprint = $3, refresh_expires_at = $4, last_activity_at = $5, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, accessFingerprint, refreshFingerprint, refreshExpiresAt, now); err != nil {
		return fmt.Errorf("update session rotation: %w", err)
	}
	return nil
}

// TouchActivity updates last_activity_at. Best-effort; callers must tolerate
// failure.
func (r *SessionRepository) TouchActivity(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("touch session activity: %w", err)
	}
	return nil
}

// ListActive returns the user's active sessions, most recent activity first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2 ORDER BY last_activity_at DESC`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}
