package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/session-gate/internal/models"
	appErrors "github.com/noah-isme/session-gate/pkg/errors"
)

// CacheRepository is a Redis read-through cache for session rows on the
// per-request authentication path. Entries carry a short TTL and are dropped
// on every state change. Invalidation leaves a tombstone for the TTL window
// so an in-flight write-back that read the row before deactivation cannot
// re-cache it as active.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// Refuses the write when the tombstone exists. Checking and setting in one
// script keeps the deactivation ordering airtight: a tombstone written first
// blocks the set, a tombstone written after is followed by the DEL.
var setSessionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1`)

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger, ttl time.Duration) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CacheRepository{client: client, logger: logger, ttl: ttl}
}

func sessionKey(id string) string {
	return "session:" + id
}

func tombstoneKey(id string) string {
	return "session:" + id + ":gone"
}

// GetSession retrieves a cached session row.
func (r *CacheRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if r == nil || r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get session %s: %w", id, err)
	}

	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal cached session %s: %w", id, err)
	}
	return &session, nil
}

// SetSession stores a session row with the configured TTL. Only active rows
// are worth caching; inactive ones are always answered from the store. The
// write is dropped silently when the session was invalidated inside the TTL
// window.
func (r *CacheRepository) SetSession(ctx context.Context, session *models.Session) error {
	if r == nil || r.client == nil || session == nil {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}

	keys := []string{sessionKey(session.ID), tombstoneKey(session.ID)}
	if err := setSessionScript.Run(ctx, r.client, keys, payload, r.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", session.ID, err)
	}
	return nil
}

// InvalidateSession drops the cached row after any state change and leaves a
// tombstone so the row cannot be written back from a read that predates the
// change.
func (r *CacheRepository) InvalidateSession(ctx context.Context, id string) error {
	if r == nil || r.client == nil {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tombstoneKey(id), "1", r.ttl)
	pipe.Del(ctx, sessionKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session %s: %w", id, err)
	}
	return nil
}

// InvalidateSessions drops a batch of cached rows, logging rather than
// failing on individual errors. Used after login supersession.
func (r *CacheRepository) InvalidateSessions(ctx context.Context, ids []string) {
	if r == nil || r.client == nil {
		return
	}
	for _, id := range ids {
		if err := r.InvalidateSession(ctx, id); err != nil {
			r.logger.Warn("failed to invalidate cached session", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
