package models

import "time"

// Deactivation reasons recorded when a session leaves the active state.
// Expiry is detected lazily and never written back, so it has no reason value.
const (
	DeactivationLogout      = "logout"
	DeactivationSuperseded  = "superseded"
	DeactivationCompromised = "compromised"
)

// Session is the persisted record of one login. Raw tokens are never stored;
// only HMAC fingerprints, so a leaked row cannot be replayed.
type Session struct {
	ID                      string     `db:"id" json:"id"`
	UserID                  string     `db:"user_id" json:"user_id"`
	AccessTokenFingerprint  string     `db:"access_token_fingerprint" json:"-"`
	RefreshTokenFingerprint string     `db:"refresh_token_fingerprint" json:"-"`
	RefreshExpiresAt        time.Time  `db:"refresh_expires_at" json:"refresh_expires_at"`
	IPAddress               string     `db:"ip_address" json:"ip_address"`
	UserAgent               string     `db:"user_agent" json:"user_agent"`
	LastActivityAt          time.Time  `db:"last_activity_at" json:"last_activity_at"`
	ExpiresAt               time.Time  `db:"expires_at" json:"expires_at"`
	IsActive                bool       `db:"is_active" json:"is_active"`
	DeactivatedReason       *string    `db:"deactivated_reason" json:"deactivated_reason,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the session is past its absolute deadline at the
// given instant. Expiry dominates IsActive.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionSummary is the caller-facing view of a session. Fingerprints are
// deliberately absent.
type SessionSummary struct {
	ID             string    `json:"id"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Current        bool      `json:"current"`
}

// SessionMetadata captures request origin details for audit events.
type SessionMetadata struct {
	IP        string
	UserAgent string
	Endpoint  string
	Method    string
}
