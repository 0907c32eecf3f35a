// Package main replays a storefront shopping journey against the event
// ingestion API using the tracker client. Failed sends are kept in a
// badger-backed queue under -state and retried on the next run; the visitor
// identity is new on every run.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"storefront/api/logger"
	"storefront/api/tracker"
)

var (
	apiURL    string
	stateDir  string
	userID    string
	pageURL   string
	journeys  int
	flushWait time.Duration
	logLevel  string
)

func init() {
	flag.StringVar(&apiURL, "api", "http://localhost:8080/api/events", "Base URL of the event ingestion API")
	flag.StringVar(&stateDir, "state", "", "Directory for the persistent identity and retry queue (empty keeps state in memory)")
	flag.StringVar(&userID, "user", "", "Authenticated user id; empty tracks an anonymous visitor")
	flag.StringVar(&pageURL, "page", "http://localhost:5173/products?utm_source=eventgen&utm_medium=cli", "Page URL reported with every event")
	flag.IntVar(&journeys, "n", 1, "Number of shopping journeys to replay")
	flag.DurationVar(&flushWait, "flush-timeout", 10*time.Second, "Time allowed for retrying queued events before exit")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	log := logger.New(logger.Config{Level: logLevel, Format: "console"})
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		fmt.Fprintf(os.Stderr, "eventgen: %v\n", err)
		os.Exit(1)
	}
}

func run(log *zap.Logger) error {
	page, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("invalid -page: %w", err)
	}

	identityStore, queueStore, closeStores, err := openStores(stateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStores(); err != nil {
			log.Warn("Closing state store failed", zap.Error(err))
		}
	}()

	identity := tracker.NewIdentityResolver(identityStore, log.Named("identity"))
	builder := tracker.NewBuilder(identity, func() tracker.Environment {
		return tracker.Environment{
			PageURL:   page.String(),
			UserAgent: "eventgen/1.0",
			Query:     page.Query(),
		}
	})
	queue := tracker.NewEventQueue(queueStore, log.Named("queue"))
	transport := tracker.NewTransport(apiURL, queue, log.Named("transport"))
	t := tracker.New(identity, builder, transport)

	ctx, cancel := context.WithTimeout(context.Background(), flushWait)
	defer cancel()

	// Events left over from an earlier run go first.
	if err := transport.Flush(ctx); err != nil {
		log.Warn("Retry of queued events failed", zap.Error(err))
	}

	for i := 0; i < journeys; i++ {
		replayJourney(t, i)
	}
	transport.Wait()

	if err := transport.Flush(ctx); err != nil {
		log.Warn("Events remain queued for the next run",
			zap.Int("user_events", queue.User.Len()),
			zap.Int("session_events", queue.Session.Len()),
			zap.Error(err),
		)
	}

	log.Info("Replay finished",
		zap.Int("journeys", journeys),
		zap.String("session_id", identity.SessionID()),
		zap.Int("queued", queue.User.Len()+queue.Session.Len()),
	)
	return nil
}

// openStores keeps the anonymous and session ids in memory, so each run is a
// fresh visit. Only the retry queue is persisted, and only when dir is set.
func openStores(dir string) (identity, queue tracker.Storage, closeFn func() error, err error) {
	identity = tracker.NewMemoryStorage()
	if dir == "" {
		return identity, tracker.NewMemoryStorage(), func() error { return nil }, nil
	}
	bs, err := tracker.OpenBadgerStorage(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	return identity, bs, bs.Close, nil
}

func replayJourney(t *tracker.Tracker, n int) {
	productID := fmt.Sprintf("prod-%03d", n+1)

	t.TrackOpenSession()
	t.TrackPageView()
	t.TrackSearch("desk lamp")
	t.TrackViewProduct(productID, "Desk Lamp", "lighting", 39.9)

	if userID != "" {
		t.SetUser(userID)
		t.TrackLogin()
	}

	t.TrackAddToCart(productID, 2, 39.9, "Desk Lamp")
	t.TrackCheckout(79.8)
	t.TrackPurchase(fmt.Sprintf("order-%d-%d", time.Now().Unix(), n), 79.8)
	t.TrackCloseSession()
}
