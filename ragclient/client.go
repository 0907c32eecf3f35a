package ragclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"storefront/api/config"
	"storefront/api/models"
)

const (
	DefaultSessionHistoryLimit  = 50
	DefaultCustomerHistoryLimit = 100

	maxErrorBody = 64 << 10
)

// Client talks to the external RAG service. The service decides the access
// tier from customer_id; this client only forwards it.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	chatTimeout    time.Duration
	historyTimeout time.Duration
	healthTimeout  time.Duration
	breaker        *gobreaker.CircuitBreaker[struct{}]
	logger         *zap.Logger
}

func New(cfg config.RAGConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:        cfg.BaseURL,
		httpClient:     &http.Client{Transport: http.DefaultTransport},
		chatTimeout:    cfg.ChatTimeout,
		historyTimeout: cfg.HistoryTimeout,
		healthTimeout:  cfg.HealthTimeout,
		logger:         logger,
	}
	if cfg.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "rag-service",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return !countsAsFailure(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	logger.Info("RAG Service initialized", zap.String("url", c.baseURL))
	return c
}

// BreakerState reports the circuit breaker state, "disabled" without one.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

func (c *Client) SendMessage(ctx context.Context, payload models.ChatMessageRequest) (*models.ChatMessageResponse, error) {
	var out models.ChatMessageResponse
	err := c.do(ctx, "sendMessage", http.MethodPost, "/chat/message", nil, payload, &out, c.chatTimeout)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSessionHistory(ctx context.Context, sessionID string, limit int) (*models.ChatHistoryResponse, error) {
	if limit <= 0 {
		limit = DefaultSessionHistoryLimit
	}
	var out models.ChatHistoryResponse
	path := "/chat/history/" + url.PathEscape(sessionID)
	err := c.do(ctx, "getSessionHistory", http.MethodGet, path, limitQuery(limit), nil, &out, c.historyTimeout)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCustomerHistory(ctx context.Context, customerID string, limit int) (*models.ChatHistoryResponse, error) {
	if limit <= 0 {
		limit = DefaultCustomerHistoryLimit
	}
	var out models.ChatHistoryResponse
	path := "/chat/history/customer/" + url.PathEscape(customerID)
	err := c.do(ctx, "getCustomerHistory", http.MethodGet, path, limitQuery(limit), nil, &out, c.historyTimeout)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSessionHistory(ctx context.Context, sessionID string) (*models.DeleteHistoryResponse, error) {
	var out models.DeleteHistoryResponse
	path := "/chat/history/" + url.PathEscape(sessionID)
	err := c.do(ctx, "deleteSessionHistory", http.MethodDelete, path, nil, nil, &out, c.historyTimeout)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckHealth(ctx context.Context) (*models.HealthStatus, error) {
	var out models.HealthStatus
	err := c.do(ctx, "checkHealth", http.MethodGet, "/health", nil, nil, &out, c.healthTimeout)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func limitQuery(limit int) url.Values {
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call := func() (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, op, method, path, query, body, out)
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(call)
	} else {
		_, err = call()
	}
	if err == nil {
		return nil
	}

	rerr, ok := AsError(err)
	if !ok {
		rerr = transportError(op, err)
	}
	c.logger.Error("RAG Service error",
		zap.String("op", op),
		zap.String("kind", rerr.Kind.String()),
		zap.Int("status", rerr.StatusCode),
		zap.Error(err),
	)
	return rerr
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindInternal, StatusCode: http.StatusInternalServerError, Message: msgInternal, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindInternal, StatusCode: http.StatusInternalServerError, Message: msgInternal, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, extractDetail(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// extractDetail pulls a human readable message out of a downstream error
// body: FastAPI-style "detail" first, then "message" and "error".
func extractDetail(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "message", "error"} {
		v, ok := body[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		encoded, err := json.Marshal(v)
		if err == nil {
			return string(encoded)
		}
	}
	return ""
}
