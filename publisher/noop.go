package publisher

import (
	"context"

	"go.uber.org/zap"

	"storefront/api/models"
)

// NoopPublisher stands in when Pub/Sub is disabled. Every publish succeeds
// without sending anything so the API runs without the analytics backend.
type NoopPublisher struct {
	logger *zap.Logger
}

func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopPublisher{logger: logger}
}

func (n *NoopPublisher) PublishUserEvent(_ context.Context, event models.UserEvent) (string, error) {
	n.logger.Warn("Pub/Sub is not enabled, user event not published",
		zap.String("event_name", string(event.EventName)))
	return "", nil
}

func (n *NoopPublisher) PublishSessionEvent(_ context.Context, event models.SessionEvent) (string, error) {
	n.logger.Warn("Pub/Sub is not enabled, session event not published",
		zap.String("session_event_type", string(event.SessionEventType)))
	return "", nil
}

func (n *NoopPublisher) PublishUserEventBatch(_ context.Context, events []models.UserEvent) BatchResult {
	n.logger.Warn("Pub/Sub is not enabled, batch user events not published", zap.Int("size", len(events)))
	return BatchResult{Published: len(events)}
}

func (n *NoopPublisher) PublishSessionEventBatch(_ context.Context, events []models.SessionEvent) BatchResult {
	n.logger.Warn("Pub/Sub is not enabled, batch session events not published", zap.Int("size", len(events)))
	return BatchResult{Published: len(events)}
}

func (n *NoopPublisher) IsReady() bool { return false }

func (n *NoopPublisher) Topics() Topics { return Topics{} }

func (n *NoopPublisher) Close() error { return nil }
