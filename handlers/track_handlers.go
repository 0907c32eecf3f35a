// api/handlers/track_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"storefront/api/logger"
	"storefront/api/metrics"
	"storefront/api/models"
	"storefront/api/publisher"
	"storefront/api/store"
)

const (
	archiveTimeout = 15 * time.Second
	statsTimeout   = 10 * time.Second
)

// TrackHandlers is the event ingestion gateway. Archive is optional.
type TrackHandlers struct {
	Publisher publisher.EventPublisher
	Archive   store.EventArchive
	logger    *zap.Logger

	archiving sync.WaitGroup
}

func NewTrackHandlers(p publisher.EventPublisher, archive store.EventArchive, logger *zap.Logger) *TrackHandlers {
	return &TrackHandlers{
		Publisher: p,
		Archive:   archive,
		logger:    logger,
	}
}

func (h *TrackHandlers) TrackUserEvent(c *gin.Context) {
	log := logger.FromContext(c, h.logger)

	var event models.UserEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		log.Warn("Invalid user event body", zap.Error(err))
		metrics.RecordEventReceived("user", "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := event.Validate(); err != nil {
		metrics.RecordEventReceived("user", "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: event_name and session_id"})
		return
	}

	messageID, err := h.Publisher.PublishUserEvent(c.Request.Context(), event)
	if err != nil {
		log.Error("Error tracking user event", zap.String("event_name", string(event.EventName)), zap.Error(err))
		metrics.RecordEventReceived("user", "failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to track user event"})
		return
	}

	metrics.RecordEventReceived("user", "accepted")
	h.archiveUserEvents([]models.UserEvent{event})

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "User event received",
		"event_name": event.EventName,
		"message_id": messageID,
	})
}

func (h *TrackHandlers) TrackSessionEvent(c *gin.Context) {
	log := logger.FromContext(c, h.logger)

	var event models.SessionEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		log.Warn("Invalid session event body", zap.Error(err))
		metrics.RecordEventReceived("session", "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := event.Validate(); err != nil {
		metrics.RecordEventReceived("session", "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: session_event_type and session_id"})
		return
	}

	messageID, err := h.Publisher.PublishSessionEvent(c.Request.Context(), event)
	if err != nil {
		log.Error("Error tracking session event", zap.String("session_event_type", string(event.SessionEventType)), zap.Error(err))
		metrics.RecordEventReceived("session", "failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to track session event"})
		return
	}

	metrics.RecordEventReceived("session", "accepted")
	h.archiveSessionEvents([]models.SessionEvent{event})

	c.JSON(http.StatusAccepted, gin.H{
		"message":            "Session event received",
		"session_event_type": event.SessionEventType,
		"message_id":         messageID,
	})
}

// TrackUserEventBatch accepts the events a client queued while the gateway
// was unreachable. Invalid entries are counted, not fatal. When nothing could
// be published the answer is 503 so the client keeps its queue.
func (h *TrackHandlers) TrackUserEventBatch(c *gin.Context) {
	raw, ok := h.bindBatch(c)
	if !ok {
		return
	}
	events, positions, rejected := decodeValid(raw, func(e *models.UserEvent) error { return e.Validate() })
	recordBatchReceived("user", len(events), rejected)

	result := h.Publisher.PublishUserEventBatch(c.Request.Context(), events)
	h.archiveUserEvents(publishedOnly(events, result.FailedIndexes))

	respondBatch(c, len(raw), rejected, positions, result)
}

func (h *TrackHandlers) TrackSessionEventBatch(c *gin.Context) {
	raw, ok := h.bindBatch(c)
	if !ok {
		return
	}
	events, positions, rejected := decodeValid(raw, func(e *models.SessionEvent) error { return e.Validate() })
	recordBatchReceived("session", len(events), rejected)

	result := h.Publisher.PublishSessionEventBatch(c.Request.Context(), events)
	h.archiveSessionEvents(publishedOnly(events, result.FailedIndexes))

	respondBatch(c, len(raw), rejected, positions, result)
}

func (h *TrackHandlers) CheckHealth(c *gin.Context) {
	if !h.Publisher.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"pubsubEnabled": false,
			"status":        "not configured",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pubsubEnabled": true,
		"status":        "ready",
		"topics":        h.Publisher.Topics(),
	})
}

func (h *TrackHandlers) GetEventCountsOverTime(c *gin.Context) {
	if h.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event archive is not configured"})
		return
	}
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	start, end, ok := timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), statsTimeout)
	defer cancel()

	results, err := h.Archive.GetEventCountsOverTime(ctx, interval, start, end, c.Query("event_name"))
	if err != nil {
		if errors.Is(err, store.ErrInvalidInterval) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromContext(c, h.logger).Error("Error getting event counts over time", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *TrackHandlers) GetUniqueUsersOverTime(c *gin.Context) {
	if h.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event archive is not configured"})
		return
	}
	interval := c.DefaultQuery("interval", "Day")
	start, end, ok := timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), statsTimeout)
	defer cancel()

	results, err := h.Archive.GetUniqueUsersOverTime(ctx, interval, start, end)
	if err != nil {
		if errors.Is(err, store.ErrInvalidInterval) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromContext(c, h.logger).Error("Error getting unique users over time", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique user statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// Wait blocks until pending archive writes finish.
func (h *TrackHandlers) Wait() {
	h.archiving.Wait()
}

func (h *TrackHandlers) bindBatch(c *gin.Context) ([]json.RawMessage, bool) {
	var req models.EventBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.FromContext(c, h.logger).Warn("Invalid batch body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: expected {\"events\": [...]}"})
		return nil, false
	}
	return req.Events, true
}

func (h *TrackHandlers) archiveUserEvents(events []models.UserEvent) {
	if h.Archive == nil || len(events) == 0 {
		return
	}
	h.archiving.Add(1)
	go func() {
		defer h.archiving.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := h.Archive.InsertUserEvents(ctx, events); err != nil {
			h.logger.Warn("Failed to archive user events", zap.Int("count", len(events)), zap.Error(err))
		}
	}()
}

func (h *TrackHandlers) archiveSessionEvents(events []models.SessionEvent) {
	if h.Archive == nil || len(events) == 0 {
		return
	}
	h.archiving.Add(1)
	go func() {
		defer h.archiving.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := h.Archive.InsertSessionEvents(ctx, events); err != nil {
			h.logger.Warn("Failed to archive session events", zap.Int("count", len(events)), zap.Error(err))
		}
	}()
}

// decodeValid decodes each raw event on its own and keeps the ones that pass
// validate. positions[i] is the index in raw that events[i] came from.
func decodeValid[T any](raw []json.RawMessage, validate func(*T) error) (events []T, positions []int, rejected int) {
	events = make([]T, 0, len(raw))
	positions = make([]int, 0, len(raw))
	for i, r := range raw {
		var ev T
		if err := json.Unmarshal(r, &ev); err != nil {
			rejected++
			continue
		}
		if err := validate(&ev); err != nil {
			rejected++
			continue
		}
		events = append(events, ev)
		positions = append(positions, i)
	}
	return events, positions, rejected
}

func publishedOnly[T any](events []T, failed []int) []T {
	if len(failed) == 0 {
		return events
	}
	skip := make(map[int]struct{}, len(failed))
	for _, i := range failed {
		skip[i] = struct{}{}
	}
	out := make([]T, 0, len(events)-len(failed))
	for i, ev := range events {
		if _, ok := skip[i]; !ok {
			out = append(out, ev)
		}
	}
	return out
}

func recordBatchReceived(kind string, accepted, rejected int) {
	for i := 0; i < accepted; i++ {
		metrics.RecordEventReceived(kind, "accepted")
	}
	for i := 0; i < rejected; i++ {
		metrics.RecordEventReceived(kind, "rejected")
	}
}

func respondBatch(c *gin.Context, received, rejected int, positions []int, result publisher.BatchResult) {
	resp := models.EventBatchResult{
		Received:  received,
		Published: result.Published,
		Failed:    result.Failed,
		Rejected:  rejected,
	}
	for _, i := range result.FailedIndexes {
		if i >= 0 && i < len(positions) {
			resp.RetryIndexes = append(resp.RetryIndexes, positions[i])
		}
	}

	status := http.StatusAccepted
	if result.Published == 0 && result.Failed > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start := time.Now().UTC().Add(-7 * 24 * time.Hour)
	end := time.Now().UTC()

	if startParam := c.Query("start"); startParam != "" {
		t, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return time.Time{}, time.Time{}, false
		}
		start = t
	}
	if endParam := c.Query("end"); endParam != "" {
		t, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return time.Time{}, time.Time{}, false
		}
		end = t
	}
	return start, end, true
}
