package models

import "time"

// Security event kinds emitted at lifecycle decision points.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventLogout            = "logout"
	EventSessionSuperseded = "session_superseded"
	EventAuthFailure       = "auth_failure"
	EventRefreshReuse      = "refresh_reuse_detected"
)

// SecurityEvent is a persisted record of an authentication decision.
type SecurityEvent struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	SessionID *string   `db:"session_id" json:"session_id,omitempty"`
	Kind      string    `db:"kind" json:"kind"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	Method    string    `db:"method" json:"method"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Detail    []byte    `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
