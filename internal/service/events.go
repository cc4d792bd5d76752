package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/session-gate/internal/models"
	"github.com/noah-isme/session-gate/pkg/jobs"
)

// SecurityEventSink receives events at lifecycle decision points: login
// success and failure, auth failure, logout, supersession, refresh reuse.
// Emission must never block or fail the request that produced the event.
type SecurityEventSink interface {
	Emit(event models.SecurityEvent)
}

type eventStore interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
}

// EventRecorder persists security events through the background queue.
type EventRecorder struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewEventRecorder builds the recorder and its queue. Start the returned
// recorder's queue before serving and stop it on shutdown.
func NewEventRecorder(store eventStore, logger *zap.Logger, cfg jobs.QueueConfig) *EventRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	r := &EventRecorder{logger: logger}
	r.queue = jobs.NewQueue("auth_events", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(*models.SecurityEvent)
		if !ok {
			return nil
		}
		return store.Create(ctx, event)
	}, cfg)
	return r
}

// Start begins draining events.
func (r *EventRecorder) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop flushes workers.
func (r *EventRecorder) Stop() {
	r.queue.Stop()
}

// Emit enqueues the event without blocking. A full buffer drops the event
// with a log line; auth decisions are never delayed by the sink.
func (r *EventRecorder) Emit(event models.SecurityEvent) {
	fields := []zap.Field{zap.String("kind", event.Kind), zap.String("ip", event.IPAddress)}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", *event.UserID))
	}
	if event.SessionID != nil {
		fields = append(fields, zap.String("session_id", *event.SessionID))
	}
	r.logger.Info("security_event", fields...)

	ok := r.queue.TryEnqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    event.Kind,
		Payload: &event,
	})
	if !ok {
		r.logger.Warn("security event dropped, queue saturated", zap.String("kind", event.Kind))
	}
}

// NopEventSink discards events. Useful in tests.
type NopEventSink struct{}

// Emit implements SecurityEventSink.
func (NopEventSink) Emit(models.SecurityEvent) {}

func eventDetail(v interface{}) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
