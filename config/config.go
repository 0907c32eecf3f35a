package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Auth       AuthConfig
	PubSub     PubSubConfig
	RAG        RAGConfig
	RateLimit  RateLimitConfig
	ClickHouse ClickHouseConfig
}

type ServerConfig struct {
	Port      string
	GinMode   string
	ClientURL string
	Env       string
}

type LogConfig struct {
	Level  string
	Format string
}

type AuthConfig struct {
	JWTSecret string
	// TrustClientCustomerID lets unauthenticated callers name a customer_id in
	// the chat body. Off by default: only a verified token selects a tier.
	TrustClientCustomerID bool
}

type PubSubConfig struct {
	Enabled        bool
	Backend        string // nats, memory
	NATSURL        string
	UserTopic      string
	SessionTopic   string
	PublishTimeout time.Duration
	AutoProvision  bool
}

type RAGConfig struct {
	BaseURL         string
	ChatTimeout     time.Duration
	HistoryTimeout  time.Duration
	HealthTimeout   time.Duration
	BreakerEnabled  bool
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type ClickHouseConfig struct {
	Host       string
	NativePort int
	DBName     string
	Username   string
	Password   string
}

// Enabled reports whether an event archive should be opened.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

const (
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Load reads configuration from the environment. Every key has a default; only
// values that fail to parse are reported.
func Load() (*Config, error) {
	r := &reader{}

	cfg := &Config{
		Server: ServerConfig{
			Port:      r.str("PORT", "8080"),
			GinMode:   r.str("GIN_MODE", "debug"),
			ClientURL: r.str("CLIENT_URL", "http://localhost:5173"),
			Env:       r.str("APP_ENV", "development"),
		},
		Log: LogConfig{
			Level:  r.str("LOG_LEVEL", "info"),
			Format: r.str("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             r.str("JWT_SECRET_KEY", ""),
			TrustClientCustomerID: r.boolean("CHAT_TRUST_CLIENT_CUSTOMER_ID", false),
		},
		PubSub: PubSubConfig{
			Enabled:        r.boolean("ENABLE_PUBSUB", false),
			Backend:        strings.ToLower(r.str("PUBSUB_BACKEND", BackendNATS)),
			NATSURL:        r.str("NATS_URL", "nats://localhost:4222"),
			UserTopic:      r.str("PUBSUB_EVENT_TOPIC", "ndsv-pubsub"),
			SessionTopic:   r.str("PUBSUB_SESSION_TOPIC", "session-topic"),
			PublishTimeout: r.duration("PUBSUB_PUBLISH_TIMEOUT", 10*time.Second),
			AutoProvision:  r.boolean("PUBSUB_AUTO_PROVISION", false),
		},
		RAG: RAGConfig{
			BaseURL:         strings.TrimRight(r.str("RAG_SERVICE_URL", "http://localhost:8000"), "/"),
			ChatTimeout:     r.duration("RAG_CHAT_TIMEOUT", 60*time.Second),
			HistoryTimeout:  r.duration("RAG_HISTORY_TIMEOUT", 30*time.Second),
			HealthTimeout:   r.duration("RAG_HEALTH_TIMEOUT", 10*time.Second),
			BreakerEnabled:  r.boolean("RAG_BREAKER_ENABLED", true),
			BreakerFailures: uint32(r.positive("RAG_BREAKER_FAILURES", 5)),
			BreakerTimeout:  r.duration("RAG_BREAKER_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: r.positive("RATE_LIMIT_REQUESTS", 100),
			Window:   r.duration("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		ClickHouse: ClickHouseConfig{
			Host:       r.str("CLICKHOUSE_HOST", ""),
			NativePort: r.integer("CLICKHOUSE_NATIVE_PORT", 9000),
			DBName:     r.str("CLICKHOUSE_DB_NAME", "default"),
			Username:   r.str("CLICKHOUSE_USERNAME", "default"),
			Password:   r.str("CLICKHOUSE_PASSWORD", ""),
		},
	}

	switch cfg.PubSub.Backend {
	case BackendNATS, BackendMemory:
	default:
		r.errs = append(r.errs, fmt.Errorf("PUBSUB_BACKEND: unsupported backend %q", cfg.PubSub.Backend))
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(r.errs...))
	}
	return cfg, nil
}

type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) positive(key string, def int) int {
	n := r.integer(key, def)
	if n <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s must be positive, got %d", key, n))
		return def
	}
	return n
}

// duration parses a Go duration. Every duration knob here is a timeout or a
// window, so zero and negative values are rejected.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s must be positive, got %s", key, d))
		return def
	}
	return d
}
