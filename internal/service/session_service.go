package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/session-gate/internal/models"
	"github.com/noah-isme/session-gate/internal/token"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
	"github.com/noah-isme/session-gate/pkg/jobs"
)

type sessionStore interface {
	CreateWithSupersede(ctx context.Context, session *models.Session) ([]string, error)
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Deactivate(ctx context.Context, id, reason string) error
	DeactivateAllForUser(ctx context.Context, userID, reason string) (int64, error)
	UpdateRotation(ctx context.Context, id, accessFingerprint, refreshFingerprint string, refreshExpiresAt time.Time) error
	TouchActivity(ctx context.Context, id string, ts time.Time) error
	ListActive(ctx context.Context, userID string) ([]models.Session, error)
}

// SessionCache is the optional hot-path cache in front of the session store.
// Implementations must refuse to re-cache a session id that was invalidated
// within the cache window, so an in-flight write-back that read the row
// before a deactivation cannot resurrect it.
type SessionCache interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	SetSession(ctx context.Context, session *models.Session) error
	InvalidateSession(ctx context.Context, id string) error
	InvalidateSessions(ctx context.Context, ids []string)
}

// SessionPolicy defines lifetimes and enforcement for session flows.
type SessionPolicy struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SessionTTL    time.Duration
	SingleSession bool
	StoreTimeout  time.Duration
}

// SessionService orchestrates the session lifecycle: login, refresh, logout,
// introspection and the per-request authentication check.
type SessionService struct {
	store      sessionStore
	cache      SessionCache
	codec      *token.Codec
	creds      CredentialVerifier
	events     SecurityEventSink
	metrics    *MetricsService
	touchQueue *jobs.Queue
	validator  *validator.Validate
	logger     *zap.Logger
	policy     SessionPolicy
}

// NewSessionService constructs a SessionService instance. cache, events,
// metrics and touchQueue may be nil.
func NewSessionService(store sessionStore, cache SessionCache, codec *token.Codec, creds CredentialVerifier, events SecurityEventSink, metrics *MetricsService, touchQueue *jobs.Queue, validate *validator.Validate, logger *zap.Logger, policy SessionPolicy) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if events == nil {
		events = NopEventSink{}
	}
	if policy.StoreTimeout <= 0 {
		policy.StoreTimeout = 3 * time.Second
	}
	if policy.RefreshTTL <= 0 {
		policy.RefreshTTL = policy.SessionTTL
	}
	return &SessionService{
		store:      store,
		cache:      cache,
		codec:      codec,
		creds:      creds,
		events:     events,
		metrics:    metrics,
		touchQueue: touchQueue,
		validator:  validate,
		logger:     logger,
		policy:     policy,
	}
}

// Login verifies credentials, enforces the single-active-session policy and
// issues a fresh token pair bound to the new session row.
func (s *SessionService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.creds.Verify(ctx, req.Email, req.Password)
	if err != nil {
		s.metrics.RecordLogin("failure")
		s.events.Emit(models.SecurityEvent{
			Kind:      models.EventLoginFailure,
			Endpoint:  "/auth/login",
			Method:    "POST",
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Detail:    eventDetail(map[string]string{"email": req.Email}),
		})
		return nil, err
	}

	accessToken, _, err := s.codec.Issue(user.ID, user.Email, s.policy.AccessTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, err := s.codec.NewRefreshToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:                      uuid.NewString(),
		UserID:                  user.ID,
		AccessTokenFingerprint:  s.codec.Fingerprint(accessToken),
		RefreshTokenFingerprint: s.codec.Fingerprint(refreshToken),
		RefreshExpiresAt:        now.Add(s.policy.RefreshTTL),
		IPAddress:               req.IP,
		UserAgent:               req.UserAgent,
		ExpiresAt:               now.Add(s.policy.SessionTTL),
	}

	storeCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	var superseded []string
	if s.policy.SingleSession {
		superseded, err = s.store.CreateWithSupersede(storeCtx, session)
	} else {
		err = s.store.Create(storeCtx, session)
	}
	if err != nil {
		s.metrics.RecordLogin("store_failure")
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to persist session")
	}

	if s.cache != nil && len(superseded) > 0 {
		s.cache.InvalidateSessions(ctx, superseded)
	}

	s.metrics.RecordLogin("success")
	s.metrics.RecordSupersession(len(superseded))
	for i := range superseded {
		sid := superseded[i]
		s.events.Emit(models.SecurityEvent{
			Kind:      models.EventSessionSuperseded,
			UserID:    &user.ID,
			SessionID: &sid,
			Endpoint:  "/auth/login",
			Method:    "POST",
			IPAddress: req.IP,
			UserAgent: req.UserAgent,
			Detail:    eventDetail(map[string]string{"superseded_by": session.ID}),
		})
	}
	s.events.Emit(models.SecurityEvent{
		Kind:      models.EventLoginSuccess,
		UserID:    &user.ID,
		SessionID: &session.ID,
		Endpoint:  "/auth/login",
		Method:    "POST",
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})

	return &models.LoginResponse{
		SessionID:    session.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    session.ExpiresAt,
		IssuedAt:     now,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
		},
	}, nil
}

// Refresh rotates the token pair for an active session. The presented
// refresh token must match the stored fingerprint; a mismatch is treated as
// reuse of rotated-out material and deactivates the session defensively.
func (s *SessionService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.RefreshResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	session, err := s.loadSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordRefresh("unknown_session")
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session not found")
		}
		s.metrics.RecordRefresh("store_failure")
		return nil, err
	}

	now := time.Now().UTC()
	if !session.IsActive {
		s.metrics.RecordRefresh("inactive")
		return nil, appErrors.Clone(appErrors.ErrSessionInactive, "session is no longer active")
	}
	if session.Expired(now) {
		s.metrics.RecordRefresh("expired")
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "session has expired")
	}
	if now.After(session.RefreshExpiresAt) {
		s.metrics.RecordRefresh("refresh_expired")
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "refresh token has expired")
	}

	if !s.codec.FingerprintMatches(req.RefreshToken, session.RefreshTokenFingerprint) {
		s.compromise(ctx, session, req)
		s.metrics.RecordRefresh("mismatch")
		return nil, appErrors.Clone(appErrors.ErrTokenMismatch, "refresh token does not match session")
	}

	user, err := s.creds.Lookup(ctx, session.UserID)
	if err != nil {
		s.metrics.RecordRefresh("user_rejected")
		return nil, err
	}

	accessToken, _, err := s.codec.Issue(user.ID, user.Email, s.policy.AccessTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, err := s.codec.NewRefreshToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	storeCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	if err := s.store.UpdateRotation(storeCtx, session.ID, s.codec.Fingerprint(accessToken), s.codec.Fingerprint(refreshToken), now.Add(s.policy.RefreshTTL)); err != nil {
		s.metrics.RecordRefresh("store_failure")
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to rotate session tokens")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSession(ctx, session.ID); err != nil {
			s.logger.Warn("failed to invalidate cached session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	s.metrics.RecordRefresh("success")

	return &models.RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    session.ExpiresAt,
		IssuedAt:     now,
	}, nil
}

// Logout deactivates a session owned by the caller. Idempotent: logging out
// an already-inactive or unknown session succeeds quietly.
func (s *SessionService) Logout(ctx context.Context, sessionID string, identity models.Identity, meta models.SessionMetadata) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	if session.UserID != identity.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "session does not belong to caller")
	}

	storeCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	if err := s.store.Deactivate(storeCtx, session.ID, models.DeactivationLogout); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to deactivate session")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSession(ctx, session.ID); err != nil {
			s.logger.Warn("failed to invalidate cached session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	s.events.Emit(models.SecurityEvent{
		Kind:      models.EventLogout,
		UserID:    &session.UserID,
		SessionID: &session.ID,
		Endpoint:  "/auth/logout",
		Method:    "POST",
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})

	return nil
}

// ListSessions returns the caller's active sessions, newest activity first,
// marking which one served the request.
func (s *SessionService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.SessionSummary, error) {
	storeCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	sessions, err := s.store.ListActive(storeCtx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list sessions")
	}

	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, models.SessionSummary{
			ID:             sess.ID,
			IPAddress:      sess.IPAddress,
			UserAgent:      sess.UserAgent,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
			ExpiresAt:      sess.ExpiresAt,
			Current:        sess.ID == currentSessionID,
		})
	}
	return summaries, nil
}

// Authenticate is the per-request gate: verify the access token, confirm the
// session is live and owned by the token's identity, then record activity
// off the hot path. Session state dominates token validity.
func (s *SessionService) Authenticate(ctx context.Context, accessToken, sessionID string, meta models.SessionMetadata) (*models.Identity, error) {
	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		s.metrics.RecordAuthCheck("bad_token")
		s.emitAuthFailure(nil, nil, meta, "token rejected")
		return nil, err
	}

	if sessionID == "" {
		s.metrics.RecordAuthCheck("missing_session")
		s.emitAuthFailure(&claims.UserID, nil, meta, "missing session id")
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing session id")
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordAuthCheck("unknown_session")
			s.emitAuthFailure(&claims.UserID, &sessionID, meta, "session not found")
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session not found")
		}
		s.metrics.RecordAuthCheck("store_failure")
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case !session.IsActive:
		s.metrics.RecordAuthCheck("inactive")
		s.emitAuthFailure(&claims.UserID, &sessionID, meta, "session inactive")
		return nil, appErrors.Clone(appErrors.ErrSessionInactive, "session is no longer active")
	case session.Expired(now):
		s.metrics.RecordAuthCheck("expired")
		s.emitAuthFailure(&claims.UserID, &sessionID, meta, "session expired")
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "session has expired")
	case session.UserID != claims.UserID:
		// Token/session mix-and-match: a valid token presented with some
		// other user's session id.
		s.metrics.RecordAuthCheck("identity_mismatch")
		s.emitAuthFailure(&claims.UserID, &sessionID, meta, "identity mismatch")
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token does not match session")
	case !s.codec.FingerprintMatches(accessToken, session.AccessTokenFingerprint):
		// A structurally valid token from before the last rotation.
		s.metrics.RecordAuthCheck("stale_token")
		s.emitAuthFailure(&claims.UserID, &sessionID, meta, "stale access token")
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token superseded by rotation")
	}

	s.metrics.RecordAuthCheck("success")
	s.scheduleTouch(session.ID, now)

	return &models.Identity{
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: session.ID,
	}, nil
}

// compromise handles refresh-token reuse: the session is deactivated rather
// than merely rejecting the request, since the stored fingerprint no longer
// matching means someone presented rotated-out material.
func (s *SessionService) compromise(ctx context.Context, session *models.Session, req models.RefreshRequest) {
	storeCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	if err := s.store.Deactivate(storeCtx, session.ID, models.DeactivationCompromised); err != nil {
		s.logger.Error("failed to deactivate session after refresh reuse", zap.String("session_id", session.ID), zap.Error(err))
	}
	if s.cache != nil {
		if err := s.cache.InvalidateSession(ctx, session.ID); err != nil {
			s.logger.Warn("failed to invalidate cached session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	s.events.Emit(models.SecurityEvent{
		Kind:      models.EventRefreshReuse,
		UserID:    &session.UserID,
		SessionID: &session.ID,
		Endpoint:  "/auth/refresh",
		Method:    "POST",
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
}

// loadSession reads the session row, preferring the cache on the hot path.
// sql.ErrNoRows passes through for callers to map; any other store failure
// is surfaced as STORE_UNAVAILABLE so the caller can retry rather than being
// silently rejected.
func (s *SessionService) loadSession(ctx context.Context, id string) (*models.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetSession(ctx, id); err == nil {
			s.metrics.RecordCacheLookup(true)
			return cached, nil
		}
		s.metrics.RecordCacheLookup(false)
	}

	storeCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	session, err := s.store.FindByID(storeCtx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load session")
	}

	if s.cache != nil && session.IsActive {
		if err := s.cache.SetSession(ctx, session); err != nil {
			s.logger.Warn("failed to cache session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	return session, nil
}

// scheduleTouch records last-activity without blocking the request. A lost
// touch under contention only delays freshness and is acceptable.
func (s *SessionService) scheduleTouch(sessionID string, ts time.Time) {
	if s.touchQueue != nil {
		if !s.touchQueue.TryEnqueue(jobs.Job{ID: sessionID, Type: "touch", Payload: ts}) {
			s.logger.Debug("activity touch dropped, queue saturated", zap.String("session_id", sessionID))
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.policy.StoreTimeout)
		defer cancel()
		if err := s.store.TouchActivity(ctx, sessionID, ts); err != nil {
			s.logger.Debug("failed to touch session activity", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

func (s *SessionService) emitAuthFailure(userID, sessionID *string, meta models.SessionMetadata, reason string) {
	s.events.Emit(models.SecurityEvent{
		Kind:      models.EventAuthFailure,
		UserID:    userID,
		SessionID: sessionID,
		Endpoint:  meta.Endpoint,
		Method:    meta.Method,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Detail:    eventDetail(map[string]string{"reason": reason}),
	})
}

func (s *SessionService) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.policy.StoreTimeout)
}
