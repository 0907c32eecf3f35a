package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/api/models"
	"storefront/api/publisher"
	"storefront/api/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePublisher struct {
	mu           sync.Mutex
	ready        bool
	fail         bool
	failSessions map[string]bool
	user         []models.UserEvent
	sessions     []models.SessionEvent
}

func (f *fakePublisher) PublishUserEvent(_ context.Context, e models.UserEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.failSessions[e.SessionID] {
		return "", errors.New("broker down")
	}
	f.user = append(f.user, e)
	return "msg-1", nil
}

func (f *fakePublisher) PublishSessionEvent(_ context.Context, e models.SessionEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.failSessions[e.SessionID] {
		return "", errors.New("broker down")
	}
	f.sessions = append(f.sessions, e)
	return "msg-2", nil
}

func (f *fakePublisher) PublishUserEventBatch(ctx context.Context, events []models.UserEvent) publisher.BatchResult {
	var r publisher.BatchResult
	for i, e := range events {
		if _, err := f.PublishUserEvent(ctx, e); err != nil {
			r.Failed++
			r.FailedIndexes = append(r.FailedIndexes, i)
			continue
		}
		r.Published++
	}
	return r
}

func (f *fakePublisher) PublishSessionEventBatch(ctx context.Context, events []models.SessionEvent) publisher.BatchResult {
	var r publisher.BatchResult
	for i, e := range events {
		if _, err := f.PublishSessionEvent(ctx, e); err != nil {
			r.Failed++
			r.FailedIndexes = append(r.FailedIndexes, i)
			continue
		}
		r.Published++
	}
	return r
}

func (f *fakePublisher) IsReady() bool { return f.ready }
func (f *fakePublisher) Topics() publisher.Topics {
	return publisher.Topics{UserEvents: "ndsv-pubsub", SessionEvents: "session-topic"}
}
func (f *fakePublisher) Close() error { return nil }

type fakeArchive struct {
	mu       sync.Mutex
	user     []models.UserEvent
	sessions []models.SessionEvent
	counts   []store.EventCountByTime
	interval string
}

func (a *fakeArchive) InsertUserEvents(_ context.Context, events []models.UserEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = append(a.user, events...)
	return nil
}

func (a *fakeArchive) InsertSessionEvents(_ context.Context, events []models.SessionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, events...)
	return nil
}

func (a *fakeArchive) GetEventCountsOverTime(_ context.Context, interval string, _, _ time.Time, _ string) ([]store.EventCountByTime, error) {
	if interval == "Fortnight" {
		return nil, store.ErrInvalidInterval
	}
	a.interval = interval
	return a.counts, nil
}

func (a *fakeArchive) GetUniqueUsersOverTime(_ context.Context, interval string, _, _ time.Time) ([]store.EventCountByTime, error) {
	a.interval = interval
	return a.counts, nil
}

func trackRouter(h *TrackHandlers) *gin.Engine {
	r := gin.New()
	g := r.Group("/api/events")
	g.POST("/user", h.TrackUserEvent)
	g.POST("/session", h.TrackSessionEvent)
	g.POST("/user/batch", h.TrackUserEventBatch)
	g.POST("/session/batch", h.TrackSessionEventBatch)
	g.GET("/health", h.CheckHealth)
	g.GET("/stats/event-counts", h.GetEventCountsOverTime)
	g.GET("/stats/unique-users", h.GetUniqueUsersOverTime)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestTrackUserEvent(t *testing.T) {
	pub := &fakePublisher{ready: true}
	archive := &fakeArchive{}
	h := NewTrackHandlers(pub, archive, zap.NewNop())
	r := trackRouter(h)

	w := doJSON(r, http.MethodPost, "/api/events/user",
		`{"session_id":"s-1","user_id":"anon_1_x","event_name":"add_to_cart","product_id":"p-1","quantity":2,"ab_bucket":"B"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	assert.Equal(t, "User event received", body["message"])
	assert.Equal(t, "add_to_cart", body["event_name"])
	assert.Equal(t, "msg-1", body["message_id"])

	require.Len(t, pub.user, 1)
	assert.Equal(t, 2, *pub.user[0].Quantity)
	assert.JSONEq(t, `"B"`, string(pub.user[0].Extra["ab_bucket"]), "unknown fields are forwarded")

	h.Wait()
	assert.Len(t, archive.user, 1)
}

func TestTrackUserEvent_Validation(t *testing.T) {
	pub := &fakePublisher{ready: true}
	r := trackRouter(NewTrackHandlers(pub, nil, zap.NewNop()))

	w := doJSON(r, http.MethodPost, "/api/events/user", `{"session_id":"s-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required fields: event_name and session_id", decode(t, w)["error"])

	w = doJSON(r, http.MethodPost, "/api/events/user", `{"event_name":"search"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/events/user", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, pub.user)
}

func TestTrackEvents_PublishFailure(t *testing.T) {
	pub := &fakePublisher{ready: true, fail: true}
	archive := &fakeArchive{}
	h := NewTrackHandlers(pub, archive, zap.NewNop())
	r := trackRouter(h)

	w := doJSON(r, http.MethodPost, "/api/events/user", `{"session_id":"s","event_name":"login"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to track user event", decode(t, w)["error"])

	w = doJSON(r, http.MethodPost, "/api/events/session", `{"session_id":"s","session_event_type":"open_session"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to track session event", decode(t, w)["error"])

	h.Wait()
	assert.Empty(t, archive.user, "failed publishes are not archived")
}

func TestTrackSessionEvent(t *testing.T) {
	pub := &fakePublisher{ready: true}
	r := trackRouter(NewTrackHandlers(pub, nil, zap.NewNop()))

	w := doJSON(r, http.MethodPost, "/api/events/session",
		`{"session_id":"s-1","user_id":null,"session_event_type":"open_session","source":"newsletter"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "open_session", decode(t, w)["session_event_type"])
	require.Len(t, pub.sessions, 1)
	assert.Equal(t, "newsletter", *pub.sessions[0].Source)

	w = doJSON(r, http.MethodPost, "/api/events/session", `{"session_id":"s-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required fields: session_event_type and session_id", decode(t, w)["error"])
}

func TestTrackBatch(t *testing.T) {
	pub := &fakePublisher{ready: true}
	archive := &fakeArchive{}
	h := NewTrackHandlers(pub, archive, zap.NewNop())
	r := trackRouter(h)

	w := doJSON(r, http.MethodPost, "/api/events/user/batch", `{"events":[
		{"session_id":"a","event_name":"page_view"},
		{"session_id":"b"},
		"garbage",
		{"session_id":"c","event_name":"search","search_query":"hat"}
	]}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var result models.EventBatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.EventBatchResult{Received: 4, Published: 2, Failed: 0, Rejected: 2}, result)
	assert.Len(t, pub.user, 2)

	w = doJSON(r, http.MethodPost, "/api/events/session/batch", `{"events":[{"session_id":"a","session_event_type":"close_session"}]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, pub.sessions, 1)

	w = doJSON(r, http.MethodPost, "/api/events/user/batch", `{"nope":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.Wait()
	assert.Len(t, archive.user, 2)
	assert.Len(t, archive.sessions, 1)
}

func TestTrackBatch_PartialPublishFailure(t *testing.T) {
	pub := &fakePublisher{ready: true, failSessions: map[string]bool{"down": true}}
	archive := &fakeArchive{}
	h := NewTrackHandlers(pub, archive, zap.NewNop())
	r := trackRouter(h)

	w := doJSON(r, http.MethodPost, "/api/events/user/batch", `{"events":[
		{"session_id":"a","event_name":"page_view"},
		{"session_id":"bad"},
		{"session_id":"down","event_name":"search"},
		{"session_id":"c","event_name":"login"}
	]}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var result models.EventBatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.EventBatchResult{Received: 4, Published: 2, Failed: 1, Rejected: 1, RetryIndexes: []int{2}}, result)

	h.Wait()
	require.Len(t, archive.user, 2)
	for _, ev := range archive.user {
		assert.NotEqual(t, "down", ev.SessionID, "unpublished events are not archived")
	}
}

func TestTrackBatch_NothingPublished(t *testing.T) {
	pub := &fakePublisher{ready: true, fail: true}
	archive := &fakeArchive{}
	h := NewTrackHandlers(pub, archive, zap.NewNop())
	r := trackRouter(h)

	w := doJSON(r, http.MethodPost, "/api/events/session/batch", `{"events":[
		{"session_id":"a","session_event_type":"open_session"},
		{"session_id":"b","session_event_type":"close_session"}
	]}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var result models.EventBatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []int{0, 1}, result.RetryIndexes)

	h.Wait()
	assert.Empty(t, archive.sessions)
}

func TestCheckHealth(t *testing.T) {
	w := doJSON(trackRouter(NewTrackHandlers(&fakePublisher{ready: true}, nil, zap.NewNop())), http.MethodGet, "/api/events/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["pubsubEnabled"])
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, map[string]any{"event_topic": "ndsv-pubsub", "session_topic": "session-topic"}, body["topics"])

	w = doJSON(trackRouter(NewTrackHandlers(&fakePublisher{}, nil, zap.NewNop())), http.MethodGet, "/api/events/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["pubsubEnabled"])
	assert.Equal(t, "not configured", body["status"])
	assert.NotContains(t, body, "topics")
}

func TestStats(t *testing.T) {
	r := trackRouter(NewTrackHandlers(&fakePublisher{}, nil, zap.NewNop()))
	w := doJSON(r, http.MethodGet, "/api/events/stats/event-counts?interval=Day", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	archive := &fakeArchive{counts: []store.EventCountByTime{{Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Count: 7}}}
	r = trackRouter(NewTrackHandlers(&fakePublisher{}, archive, zap.NewNop()))

	w = doJSON(r, http.MethodGet, "/api/events/stats/event-counts", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/api/events/stats/event-counts?interval=Hour&start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/api/events/stats/event-counts?interval=Fortnight", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/api/events/stats/event-counts?interval=Hour&start=2026-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":7`)
	assert.Equal(t, "Hour", archive.interval)

	w = doJSON(r, http.MethodGet, "/api/events/stats/unique-users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Day", archive.interval)
}
