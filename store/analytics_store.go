// api/store/analytics_store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/api/database"
	"storefront/api/models"
	"storefront/api/utils"
)

var ErrInvalidInterval = errors.New("invalid interval")

// EventArchive mirrors accepted tracking events and answers aggregate queries.
type EventArchive interface {
	InsertUserEvents(ctx context.Context, events []models.UserEvent) error
	InsertSessionEvents(ctx context.Context, events []models.SessionEvent) error
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventName string) ([]EventCountByTime, error)
	GetUniqueUsersOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventCountByTime, error)
}

type AnalyticsStore struct {
	DB     *database.ClickHouseClient
	logger *zap.Logger
}

type EventCountByTime struct {
	Time      time.Time `json:"time"`
	EventName *string   `json:"eventName,omitempty"`
	Count     uint64    `json:"count"`
}

// Schema creates the archive tables. event_data keeps the full envelope JSON,
// unknown client fields included.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS user_events (
		event_id   UUID,
		event_name LowCardinality(String),
		session_id String,
		user_id    Nullable(String),
		product_id Nullable(String),
		page_url   Nullable(String),
		referrer   Nullable(String),
		user_agent Nullable(String),
		timestamp  DateTime64(3, 'UTC'),
		event_data String
	) ENGINE = MergeTree
	ORDER BY (event_name, timestamp)`,
	`CREATE TABLE IF NOT EXISTS session_events (
		event_id           UUID,
		session_event_type LowCardinality(String),
		session_id         String,
		user_id            Nullable(String),
		source             Nullable(String),
		campaign           Nullable(String),
		medium             Nullable(String),
		timestamp          DateTime64(3, 'UTC'),
		event_data         String
	) ENGINE = MergeTree
	ORDER BY (session_event_type, timestamp)`,
}

func NewAnalyticsStore(chClient *database.ClickHouseClient, logger *zap.Logger) *AnalyticsStore {
	return &AnalyticsStore{
		DB:     chClient,
		logger: logger,
	}
}

func (s *AnalyticsStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := s.DB.Conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create archive table: %w", err)
		}
	}
	return nil
}

func (s *AnalyticsStore) InsertUserEvents(ctx context.Context, events []models.UserEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO user_events (
			event_id, event_name, session_id, user_id, product_id, page_url, referrer, user_agent, timestamp, event_data
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Warn("Skipping unencodable user event", zap.String("session_id", event.SessionID), zap.Error(err))
			continue
		}
		err = batch.Append(
			uuid.New(),
			string(event.EventName),
			event.SessionID,
			event.UserID,
			event.ProductID,
			event.PageURL,
			event.Referrer,
			event.UserAgent,
			eventTime(event.Timestamp, time.Now()),
			string(data),
		)
		if err != nil {
			s.logger.Warn("Error appending user event to batch", zap.String("session_id", event.SessionID), zap.Error(err))
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.logger.Debug("Archived user events", zap.Int("count", len(events)))
	return nil
}

func (s *AnalyticsStore) InsertSessionEvents(ctx context.Context, events []models.SessionEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO session_events (
			event_id, session_event_type, session_id, user_id, source, campaign, medium, timestamp, event_data
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Warn("Skipping unencodable session event", zap.String("session_id", event.SessionID), zap.Error(err))
			continue
		}
		err = batch.Append(
			uuid.New(),
			string(event.SessionEventType),
			event.SessionID,
			event.UserID,
			event.Source,
			event.Campaign,
			event.Medium,
			eventTime(event.Timestamp, time.Now()),
			string(data),
		)
		if err != nil {
			s.logger.Warn("Error appending session event to batch", zap.String("session_id", event.SessionID), zap.Error(err))
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.logger.Debug("Archived session events", zap.Int("count", len(events)))
	return nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventName string) ([]EventCountByTime, error) {
	query, args, err := eventCountsQuery(interval, start, end, eventName)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var (
			timeBucket time.Time
			count      uint64
			name       string
			current    EventCountByTime
		)

		if eventName != "" {
			if err := rows.Scan(&timeBucket, &count, &name); err != nil {
				s.logger.Warn("Error scanning event count row", zap.Error(err))
				continue
			}
			current.EventName = &name
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				s.logger.Warn("Error scanning event count row", zap.Error(err))
				continue
			}
		}

		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}

func (s *AnalyticsStore) GetUniqueUsersOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	// Anonymous visitors count through their session id.
	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(coalesce(user_id, session_id)) AS unique_users
		FROM user_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique users over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var uniqueUsers uint64
		if err := rows.Scan(&timeBucket, &uniqueUsers); err != nil {
			s.logger.Warn("Error scanning unique users row", zap.Error(err))
			continue
		}
		results = append(results, EventCountByTime{Time: timeBucket, Count: uniqueUsers})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique users: %w", err)
	}

	return results, nil
}

func eventCountsQuery(interval string, start, end time.Time, eventName string) (string, []any, error) {
	if !utils.IsValidInterval(interval) {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	args := []any{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"

	if eventName != "" {
		selectCols += ", event_name"
		groupByCols += ", event_name"
		whereClause += " AND event_name = ?"
		args = append(args, eventName)
		orderByCols += ", event_name ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM user_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)
	return query, args, nil
}

// eventTime parses the envelope timestamp, using fallback when it is absent
// or malformed.
func eventTime(ts string, fallback time.Time) time.Time {
	if ts == "" {
		return fallback.UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fallback.UTC()
	}
	return t.UTC()
}
