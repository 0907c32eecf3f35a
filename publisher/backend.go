package publisher

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"storefront/api/config"
)

// New selects the publisher once at startup. A disabled feature flag or a
// backend that fails to initialise yields a NoopPublisher.
func New(cfg config.PubSubConfig, logger *zap.Logger) EventPublisher {
	if !cfg.Enabled {
		logger.Info("Pub/Sub disabled, events will not be published")
		return NewNoopPublisher(logger)
	}

	wmLogger := NewWatermillLogger(logger.Named("watermill"))

	var (
		backend message.Publisher
		err     error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		backend = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
	default:
		backend, err = newNATSBackend(cfg, wmLogger)
	}
	if err != nil {
		logger.Error("Failed to initialize Pub/Sub, falling back to no-op publisher",
			zap.String("backend", cfg.Backend),
			zap.Error(err),
		)
		return NewNoopPublisher(logger)
	}

	topics := Topics{UserEvents: cfg.UserTopic, SessionEvents: cfg.SessionTopic}
	logger.Info("Pub/Sub initialized",
		zap.String("backend", cfg.Backend),
		zap.String("event_topic", topics.UserEvents),
		zap.String("session_topic", topics.SessionEvents),
	)

	return NewPublisher(backend, topics, logger,
		WithTimeout(cfg.PublishTimeout),
		WithCircuitBreaker(5, 30*time.Second),
	)
}

func newNATSBackend(cfg config.PubSubConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name("storefront-api"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.Timeout(cfg.PublishTimeout),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: cfg.AutoProvision,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(2),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill nats publisher: %w", err)
	}
	return pub, nil
}
