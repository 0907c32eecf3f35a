package tracker

import (
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"storefront/api/models"
)

const (
	DefaultQueueCapacity = 100

	UserEventsQueueKey    = "user_events_queue"
	SessionEventsQueueKey = "session_events_queue"
)

// Queue is a bounded FIFO persisted as a JSON array under one storage key.
// Adding past capacity evicts the oldest entry.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	key      string
	storage  Storage
	logger   *zap.Logger
}

func NewQueue[T any](storage Storage, key string, capacity int, logger *zap.Logger) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue[T]{
		capacity: capacity,
		key:      key,
		storage:  storage,
		logger:   logger,
	}
	q.load()
	return q
}

func (q *Queue[T]) Add(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	if over := len(q.items) - q.capacity; over > 0 {
		q.items = append([]T(nil), q.items[over:]...)
	}
	q.save()
}

// Snapshot returns a copy of the queued items, oldest first.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.save()
}

func (q *Queue[T]) RemoveFirst(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(q.items) {
		q.items = nil
	} else {
		q.items = append([]T(nil), q.items[n:]...)
	}
	q.save()
}

// RemoveFunc drops every item for which match returns true and reports how
// many were removed.
func (q *Queue[T]) RemoveFunc(match func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0:0]
	for _, item := range q.items {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	removed := len(q.items) - len(kept)
	if removed > 0 {
		q.items = kept
		q.save()
	}
	return removed
}

func (q *Queue[T]) load() {
	raw, ok, err := q.storage.Get(q.key)
	if err != nil {
		q.logger.Error("Failed to load event queue from storage", zap.String("key", q.key), zap.Error(err))
		return
	}
	if !ok || raw == "" {
		return
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Error("Discarding corrupt event queue", zap.String("key", q.key), zap.Error(err))
		return
	}
	if over := len(items) - q.capacity; over > 0 {
		items = items[over:]
	}
	q.items = items
}

// save must be called with mu held.
func (q *Queue[T]) save() {
	data, err := json.Marshal(q.items)
	if err != nil {
		q.logger.Error("Failed to encode event queue", zap.String("key", q.key), zap.Error(err))
		return
	}
	if err := q.storage.Set(q.key, string(data)); err != nil {
		q.logger.Error("Failed to save event queue to storage", zap.String("key", q.key), zap.Error(err))
	}
}

// EventQueue holds the user and session events waiting for a retry.
type EventQueue struct {
	User    *Queue[models.UserEvent]
	Session *Queue[models.SessionEvent]
}

func NewEventQueue(storage Storage, logger *zap.Logger) *EventQueue {
	return &EventQueue{
		User:    NewQueue[models.UserEvent](storage, UserEventsQueueKey, DefaultQueueCapacity, logger),
		Session: NewQueue[models.SessionEvent](storage, SessionEventsQueueKey, DefaultQueueCapacity, logger),
	}
}
