package models

import json "github.com/goccy/go-json"

// EventBatchRequest is the body of the batch ingestion endpoints. Events are
// kept raw so one malformed entry does not reject the whole batch.
type EventBatchRequest struct {
	Events []json.RawMessage `json:"events" binding:"required"`
}

// EventBatchResult summarises a batch ingestion call. RetryIndexes are the
// positions in the request's events array that were valid but could not be
// published; callers keep those and drop the rest.
type EventBatchResult struct {
	Received     int   `json:"received"`
	Published    int   `json:"published"`
	Failed       int   `json:"failed"`
	Rejected     int   `json:"rejected"`
	RetryIndexes []int `json:"retry_indexes,omitempty"`
}
