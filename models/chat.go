package models

import json "github.com/goccy/go-json"

// ChatMessageRequest is both the local request body and the downstream payload.
// SessionID and CustomerID are omitted when empty so the RAG service can mint a
// session and fall back to visitor-tier access.
type ChatMessageRequest struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

type ChatMessageResponse struct {
	Response  string         `json:"response"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
	DebugInfo map[string]any `json:"debug_info,omitempty"`
}

// ChatHistoryItem is relayed as received. ID is whatever the RAG store uses
// (serial or uuid) and Metadata is free-form.
type ChatHistoryItem struct {
	ID          json.RawMessage `json:"id"`
	SessionID   string          `json:"session_id"`
	CustomerID  *string         `json:"customer_id"`
	UserMessage string          `json:"user_message"`
	BotResponse string          `json:"bot_response"`
	Timestamp   string          `json:"timestamp"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

type ChatHistoryResponse struct {
	History []ChatHistoryItem `json:"history"`
}

type DeleteHistoryResponse struct {
	Message string `json:"message"`
}

type HealthStatus struct {
	Status string `json:"status"`
}
