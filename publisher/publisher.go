package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"storefront/api/metrics"
	"storefront/api/models"
)

var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrPublishTimeout  = errors.New("publish timed out")
)

// Topics names the two channels events are produced to.
type Topics struct {
	UserEvents    string `json:"event_topic"`
	SessionEvents string `json:"session_topic"`
}

// BatchResult is the aggregate outcome of a batch publish. Failures are
// reported here, never as an error.
type BatchResult struct {
	Published  int
	Failed     int
	MessageIDs []string
	Errors     []error
	// FailedIndexes are positions in the input slice that were not published.
	FailedIndexes []int
}

// EventPublisher is the producer side of the tracking pipeline.
type EventPublisher interface {
	PublishUserEvent(ctx context.Context, event models.UserEvent) (string, error)
	PublishSessionEvent(ctx context.Context, event models.SessionEvent) (string, error)
	PublishUserEventBatch(ctx context.Context, events []models.UserEvent) BatchResult
	PublishSessionEventBatch(ctx context.Context, events []models.SessionEvent) BatchResult
	IsReady() bool
	Topics() Topics
	Close() error
}

// Publisher produces envelopes onto a watermill message.Publisher.
type Publisher struct {
	backend        message.Publisher
	topics         Topics
	timeout        time.Duration
	circuitBreaker *gobreaker.CircuitBreaker[struct{}]
	logger         *zap.Logger

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithTimeout bounds every single publish call.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.timeout = d }
}

// WithCircuitBreaker wraps publishes in a breaker that opens after the given
// number of consecutive failures.
func WithCircuitBreaker(failures uint32, openFor time.Duration) Option {
	return func(p *Publisher) {
		p.circuitBreaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "pubsub-publish",
			Timeout: openFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
}

func NewPublisher(backend message.Publisher, topics Topics, logger *zap.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		backend: backend,
		topics:  topics,
		timeout: 10 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.backend != nil && p.topics.UserEvents != "" && p.topics.SessionEvents != ""
}

func (p *Publisher) Topics() Topics {
	return p.topics
}

func (p *Publisher) PublishUserEvent(ctx context.Context, event models.UserEvent) (string, error) {
	id, err := p.publish(ctx, p.topics.UserEvents, event, event.RoutingAttributes())
	if err != nil {
		p.logger.Error("Failed to publish user event",
			zap.String("event_name", string(event.EventName)),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
		return "", err
	}
	p.logger.Info("User event published",
		zap.String("event_name", string(event.EventName)),
		zap.String("message_id", id),
	)
	return id, nil
}

func (p *Publisher) PublishSessionEvent(ctx context.Context, event models.SessionEvent) (string, error) {
	id, err := p.publish(ctx, p.topics.SessionEvents, event, event.RoutingAttributes())
	if err != nil {
		p.logger.Error("Failed to publish session event",
			zap.String("session_event_type", string(event.SessionEventType)),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
		return "", err
	}
	p.logger.Info("Session event published",
		zap.String("session_event_type", string(event.SessionEventType)),
		zap.String("message_id", id),
	)
	return id, nil
}

func (p *Publisher) PublishUserEventBatch(ctx context.Context, events []models.UserEvent) BatchResult {
	result := publishAll(ctx, events, p.PublishUserEvent)
	p.logBatch(p.topics.UserEvents, len(events), result)
	return result
}

func (p *Publisher) PublishSessionEventBatch(ctx context.Context, events []models.SessionEvent) BatchResult {
	result := publishAll(ctx, events, p.PublishSessionEvent)
	p.logBatch(p.topics.SessionEvents, len(events), result)
	return result
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.backend == nil {
		return nil
	}
	if err := p.backend.Close(); err != nil {
		return fmt.Errorf("close pubsub backend: %w", err)
	}
	p.logger.Info("Pub/Sub publisher closed")
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return "", ErrPublisherClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	for k, v := range attrs {
		msg.Metadata.Set(k, v)
	}
	// Lets JetStream drop duplicates of the same message.
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	msg.Metadata.Set("content_type", "application/json")

	send := func() (struct{}, error) {
		return struct{}{}, p.sendWithTimeout(ctx, topic, msg)
	}
	if p.circuitBreaker != nil {
		_, err = p.circuitBreaker.Execute(send)
	} else {
		_, err = send()
	}

	metrics.RecordPublish(topic, err)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return msg.UUID, nil
}

func (p *Publisher) sendWithTimeout(ctx context.Context, topic string, msg *message.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	msg.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- p.backend.Publish(topic, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrPublishTimeout
		}
		return ctx.Err()
	}
}

func (p *Publisher) logBatch(topic string, size int, result BatchResult) {
	fields := []zap.Field{
		zap.String("topic", topic),
		zap.Int("size", size),
		zap.Int("published", result.Published),
		zap.Int("failed", result.Failed),
	}
	if result.Failed > 0 {
		fields = append(fields, zap.Errors("errors", result.Errors))
		p.logger.Warn("Published batch with failures", fields...)
		return
	}
	p.logger.Info("Published batch", fields...)
}

// publishAll attempts every event concurrently and collects per-event
// outcomes. MessageIDs keeps input order; failed slots are dropped.
func publishAll[T any](ctx context.Context, events []T, publish func(context.Context, T) (string, error)) BatchResult {
	ids := make([]string, len(events))
	errs := make([]error, len(events))

	var wg sync.WaitGroup
	for i := range events {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = publish(ctx, events[i])
		}(i)
	}
	wg.Wait()

	var result BatchResult
	for i := range events {
		if errs[i] != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("event %d: %w", i, errs[i]))
			result.FailedIndexes = append(result.FailedIndexes, i)
			continue
		}
		result.Published++
		result.MessageIDs = append(result.MessageIDs, ids[i])
	}
	return result
}
