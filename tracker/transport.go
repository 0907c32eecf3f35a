package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"storefront/api/models"
)

const (
	DefaultSendTimeout = 5 * time.Second

	// maxDelivered bounds the delivered-fingerprint set; it is reset when full.
	maxDelivered = 10_000
)

// Transport delivers envelopes to the ingestion gateway. Sends are detached:
// callers never wait and never see an error. Failed envelopes go to the
// EventQueue and are retried by Flush.
type Transport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	queue   *EventQueue
	logger  *zap.Logger

	inflight sync.WaitGroup

	mu        sync.Mutex
	delivered map[uint64]struct{}
}

type TransportOption func(*Transport)

func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) { t.client = client }
}

func WithSendTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) { t.timeout = timeout }
}

// NewTransport targets baseURL, the events prefix of the gateway
// (e.g. http://localhost:5000/api/events).
func NewTransport(baseURL string, queue *EventQueue, logger *zap.Logger, opts ...TransportOption) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{},
		timeout:   DefaultSendTimeout,
		queue:     queue,
		logger:    logger,
		delivered: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) SendUserEvent(ev models.UserEvent) {
	t.dispatch("/user", ev, string(ev.EventName), func() { t.queue.User.Add(ev) })
}

func (t *Transport) SendSessionEvent(ev models.SessionEvent) {
	t.dispatch("/session", ev, string(ev.SessionEventType), func() { t.queue.Session.Add(ev) })
}

func (t *Transport) dispatch(path string, ev any, name string, enqueue func()) {
	body, err := json.Marshal(ev)
	if err != nil {
		t.logger.Error("Failed to encode tracking event", zap.String("event", name), zap.Error(err))
		return
	}
	fp := xxhash.Sum64(body)

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.post(ctx, path, body, nil); err != nil {
			if t.wasDelivered(fp) {
				t.logger.Debug("Dropping failed resend of delivered event", zap.String("event", name))
				return
			}
			t.logger.Warn("Event tracking failed, queued for retry", zap.String("event", name), zap.Error(err))
			enqueue()
			return
		}
		t.markDelivered(fp)
	}()
}

// Wait blocks until every in-flight send has finished.
func (t *Transport) Wait() {
	t.inflight.Wait()
}

// Flush retries the queued events through the batch endpoints. Entries are
// only removed once the gateway accepted them.
func (t *Transport) Flush(ctx context.Context) error {
	userErr := flushQueue(ctx, t, t.queue.User, "/user/batch")
	sessionErr := flushQueue(ctx, t, t.queue.Session, "/session/batch")
	return errors.Join(userErr, sessionErr)
}

// Run flushes the queue every interval until ctx is done.
func (t *Transport) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.logger.Warn("Event queue flush failed", zap.Error(err))
			}
		}
	}
}

func flushQueue[T any](ctx context.Context, t *Transport, q *Queue[T], path string) error {
	pending := q.Snapshot()
	if len(pending) == 0 {
		return nil
	}

	// fps[i] belongs to the i-th event in the request body.
	raw := make([]json.RawMessage, 0, len(pending))
	fps := make([]uint64, 0, len(pending))
	for _, ev := range pending {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		raw = append(raw, data)
		fps = append(fps, xxhash.Sum64(data))
	}

	body, err := json.Marshal(models.EventBatchRequest{Events: raw})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	var result models.EventBatchResult
	if err := t.post(ctx, path, body, &result); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}

	retry := make(map[uint64]struct{}, len(result.RetryIndexes))
	for _, i := range result.RetryIndexes {
		if i >= 0 && i < len(fps) {
			retry[fps[i]] = struct{}{}
		}
	}
	done := make(map[uint64]struct{}, len(fps))
	for _, fp := range fps {
		if _, ok := retry[fp]; !ok {
			done[fp] = struct{}{}
		}
	}

	q.RemoveFunc(func(ev T) bool {
		fp, err := fingerprint(ev)
		if err != nil {
			return false
		}
		_, ok := done[fp]
		return ok
	})
	for fp := range done {
		t.markDelivered(fp)
	}

	t.logger.Info("Flushed queued events",
		zap.String("path", path),
		zap.Int("sent", len(raw)),
		zap.Int("published", result.Published),
		zap.Int("rejected", result.Rejected),
		zap.Int("kept", len(result.RetryIndexes)),
	)
	if len(result.RetryIndexes) > 0 {
		return fmt.Errorf("flush %s: %d events not published", path, len(result.RetryIndexes))
	}
	return nil
}

// post sends body and, when out is set, decodes a 2xx response into it.
func (t *Transport) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (t *Transport) markDelivered(fp uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.delivered) >= maxDelivered {
		t.delivered = make(map[uint64]struct{})
	}
	t.delivered[fp] = struct{}{}
}

func (t *Transport) wasDelivered(fp uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.delivered[fp]
	return ok
}

func fingerprint(v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("fingerprint: %w", err)
	}
	return xxhash.Sum64(data), nil
}
