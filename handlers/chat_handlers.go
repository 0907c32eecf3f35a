package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/api/chatcontent"
	"storefront/api/logger"
	"storefront/api/metrics"
	"storefront/api/middleware"
	"storefront/api/models"
	"storefront/api/ragclient"
	"storefront/api/utils"
)

// Error codes returned in chat error bodies.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeRAGUnavailable = "RAG_UNAVAILABLE"
	CodeRAGTimeout     = "RAG_TIMEOUT"
	CodeRAGError       = "RAG_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// ChatService is the downstream RAG contract the relay depends on.
type ChatService interface {
	SendMessage(ctx context.Context, payload models.ChatMessageRequest) (*models.ChatMessageResponse, error)
	GetSessionHistory(ctx context.Context, sessionID string, limit int) (*models.ChatHistoryResponse, error)
	GetCustomerHistory(ctx context.Context, customerID string, limit int) (*models.ChatHistoryResponse, error)
	DeleteSessionHistory(ctx context.Context, sessionID string) (*models.DeleteHistoryResponse, error)
	CheckHealth(ctx context.Context) (*models.HealthStatus, error)
}

// ChatHandlers relays chat traffic to the RAG service. The service picks the
// access tier from customer_id; visitors send none.
type ChatHandlers struct {
	RAG                   ChatService
	TrustClientCustomerID bool
	logger                *zap.Logger
}

func NewChatHandlers(rag ChatService, trustClientCustomerID bool, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{
		RAG:                   rag,
		TrustClientCustomerID: trustClientCustomerID,
		logger:                logger,
	}
}

// SendMessage moves through received, validated, forwarded and then either
// succeeded or degraded. Each transition is logged.
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	started := time.Now()
	log := logger.FromContext(c, h.logger).With(zap.String("endpoint", "message"))
	log.Debug("Chat request received")

	var req models.ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		metrics.RecordChatRelay("message", "invalid", started)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   CodeValidation,
			"message": "Message is required",
		})
		return
	}

	payload := models.ChatMessageRequest{
		Message:    req.Message,
		SessionID:  strings.TrimSpace(req.SessionID),
		CustomerID: h.resolveCustomerID(c, log, strings.TrimSpace(req.CustomerID)),
	}
	log.Debug("Chat request validated",
		zap.Bool("has_session", payload.SessionID != ""),
		zap.Bool("visitor", payload.CustomerID == ""),
	)

	log.Debug("Chat request forwarded")
	resp, err := h.RAG.SendMessage(c.Request.Context(), payload)
	if err != nil {
		h.degraded(c, log, "message", started, err)
		return
	}

	metrics.RecordChatRelay("message", "succeeded", started)
	log.Info("Chat request succeeded", zap.String("session_id", resp.SessionID), zap.Duration("latency", time.Since(started)))

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"response":   resp.Response,
		"session_id": resp.SessionID,
		"timestamp":  resp.Timestamp,
		"debug_info": resp.DebugInfo,
		"content":    chatcontent.Parse(resp.Response),
	})
}

func (h *ChatHandlers) GetSessionHistory(c *gin.Context) {
	started := time.Now()
	log := logger.FromContext(c, h.logger).With(zap.String("endpoint", "session_history"))

	limit, err := utils.ParseLimit(c.Query("limit"), ragclient.DefaultSessionHistoryLimit)
	if err != nil {
		h.invalid(c, "session_history", started, err.Error())
		return
	}

	resp, err := h.RAG.GetSessionHistory(c.Request.Context(), c.Param("sessionId"), limit)
	if err != nil {
		h.degraded(c, log, "session_history", started, err)
		return
	}

	metrics.RecordChatRelay("session_history", "succeeded", started)
	c.JSON(http.StatusOK, gin.H{"success": true, "history": historyOrEmpty(resp)})
}

func (h *ChatHandlers) GetCustomerHistory(c *gin.Context) {
	started := time.Now()
	log := logger.FromContext(c, h.logger).With(zap.String("endpoint", "customer_history"))

	limit, err := utils.ParseLimit(c.Query("limit"), ragclient.DefaultCustomerHistoryLimit)
	if err != nil {
		h.invalid(c, "customer_history", started, err.Error())
		return
	}

	resp, err := h.RAG.GetCustomerHistory(c.Request.Context(), c.Param("customerId"), limit)
	if err != nil {
		h.degraded(c, log, "customer_history", started, err)
		return
	}

	metrics.RecordChatRelay("customer_history", "succeeded", started)
	c.JSON(http.StatusOK, gin.H{"success": true, "history": historyOrEmpty(resp)})
}

func (h *ChatHandlers) DeleteSessionHistory(c *gin.Context) {
	started := time.Now()
	log := logger.FromContext(c, h.logger).With(zap.String("endpoint", "delete_history"))

	resp, err := h.RAG.DeleteSessionHistory(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.degraded(c, log, "delete_history", started, err)
		return
	}

	metrics.RecordChatRelay("delete_history", "succeeded", started)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": resp.Message})
}

func (h *ChatHandlers) CheckHealth(c *gin.Context) {
	started := time.Now()

	resp, err := h.RAG.CheckHealth(c.Request.Context())
	if err != nil {
		metrics.RecordChatRelay("health", "degraded", started)
		message := "RAG service health check failed"
		if rerr, ok := ragclient.AsError(err); ok {
			message = rerr.Message
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"status":  "unhealthy",
			"message": message,
		})
		return
	}

	metrics.RecordChatRelay("health", "succeeded", started)
	c.JSON(http.StatusOK, gin.H{"success": true, "status": resp.Status})
}

// resolveCustomerID picks the identity forwarded downstream. A verified token
// always wins; a body value alone is honored only when explicitly trusted.
func (h *ChatHandlers) resolveCustomerID(c *gin.Context, log *zap.Logger, fromBody string) string {
	if authID, ok := middleware.UserID(c); ok {
		if fromBody != "" && fromBody != authID {
			log.Warn("Ignoring customer_id that does not match the authenticated user")
		}
		return authID
	}
	if h.TrustClientCustomerID {
		return fromBody
	}
	if fromBody != "" {
		log.Debug("Ignoring unauthenticated customer_id, using visitor mode")
	}
	return ""
}

func (h *ChatHandlers) invalid(c *gin.Context, endpoint string, started time.Time, message string) {
	metrics.RecordChatRelay(endpoint, "invalid", started)
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   CodeValidation,
		"message": message,
	})
}

func (h *ChatHandlers) degraded(c *gin.Context, log *zap.Logger, endpoint string, started time.Time, err error) {
	metrics.RecordChatRelay(endpoint, "degraded", started)

	status, code, message := http.StatusInternalServerError, CodeInternal, "Failed to process request"
	if rerr, ok := ragclient.AsError(err); ok {
		status, message = rerr.StatusCode, rerr.Message
		code = errorCode(rerr.Kind)
	}
	log.Warn("Chat request degraded", zap.Int("status", status), zap.String("code", code), zap.Error(err))

	c.JSON(status, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}

func errorCode(kind ragclient.Kind) string {
	switch kind {
	case ragclient.KindUnavailable:
		return CodeRAGUnavailable
	case ragclient.KindTimeout:
		return CodeRAGTimeout
	case ragclient.KindUpstream:
		return CodeRAGError
	default:
		return CodeInternal
	}
}

func historyOrEmpty(resp *models.ChatHistoryResponse) []models.ChatHistoryItem {
	if resp == nil || resp.History == nil {
		return []models.ChatHistoryItem{}
	}
	return resp.History
}
