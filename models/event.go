// api/models/event.go
package models

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// AnonymousUser is the routing attribute value used when an event carries no user id.
const AnonymousUser = "anonymous"

// ErrMissingFields is returned when an envelope lacks one of its required fields.
var ErrMissingFields = errors.New("missing required fields")

type UserEventName string

const (
	EventViewProduct UserEventName = "view_product"
	EventAddToCart   UserEventName = "add_to_cart"
	EventCheckout    UserEventName = "checkout"
	EventPurchase    UserEventName = "purchase"
	EventSearch      UserEventName = "search"
	EventComment     UserEventName = "comment"
	EventLogin       UserEventName = "login"
	EventLogout      UserEventName = "logout"
	EventPageView    UserEventName = "page_view"
)

// IsKnown reports whether the name is one of the tracked user actions.
func (n UserEventName) IsKnown() bool {
	switch n {
	case EventViewProduct, EventAddToCart, EventCheckout, EventPurchase, EventSearch,
		EventComment, EventLogin, EventLogout, EventPageView:
		return true
	default:
		return false
	}
}

type SessionEventType string

const (
	SessionOpen  SessionEventType = "open_session"
	SessionClose SessionEventType = "close_session"
)

// UserEvent is the envelope published to the user-event topic.
// Unknown keys received from clients are kept in Extra and written back on marshal.
type UserEvent struct {
	SessionID string        `json:"session_id"`
	UserID    *string       `json:"user_id"`
	EventName UserEventName `json:"event_name"`
	PageURL   *string       `json:"page_url"`
	Referrer  *string       `json:"referrer"`
	UserAgent *string       `json:"user_agent"`
	ProductID *string       `json:"product_id"`
	Timestamp string        `json:"timestamp,omitempty"`

	SearchQuery *string  `json:"search_query,omitempty"`
	OrderID     *string  `json:"order_id,omitempty"`
	TotalAmount *float64 `json:"total_amount,omitempty"`
	Quantity    *int     `json:"quantity,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Category    *string  `json:"category,omitempty"`
	ProductName *string  `json:"product_name,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// SessionEvent is the envelope published to the session-event topic.
// Source, Campaign and Medium come from the utm_* query parameters.
type SessionEvent struct {
	SessionID        string           `json:"session_id"`
	UserID           *string          `json:"user_id"`
	SessionEventType SessionEventType `json:"session_event_type"`
	Source           *string          `json:"source"`
	Campaign         *string          `json:"campaign"`
	Medium           *string          `json:"medium"`
	Timestamp        string           `json:"timestamp,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var userEventKeys = []string{
	"session_id", "user_id", "event_name", "page_url", "referrer", "user_agent", "product_id",
	"timestamp", "search_query", "order_id", "total_amount", "quantity", "price", "category", "product_name",
}

var sessionEventKeys = []string{
	"session_id", "user_id", "session_event_type", "source", "campaign", "medium", "timestamp",
}

type userEventFields UserEvent
type sessionEventFields SessionEvent

func (e *UserEvent) Validate() error {
	if e.EventName == "" || e.SessionID == "" {
		return fmt.Errorf("%w: event_name and session_id", ErrMissingFields)
	}
	return nil
}

func (e *SessionEvent) Validate() error {
	if e.SessionEventType == "" || e.SessionID == "" {
		return fmt.Errorf("%w: session_event_type and session_id", ErrMissingFields)
	}
	return nil
}

// RoutingAttributes are attached to the published message so consumers can
// filter without decoding the payload.
func (e *UserEvent) RoutingAttributes() map[string]string {
	return map[string]string{
		"event_name": string(e.EventName),
		"user_id":    userOrAnonymous(e.UserID),
		"session_id": e.SessionID,
	}
}

func (e *SessionEvent) RoutingAttributes() map[string]string {
	return map[string]string{
		"session_event_type": string(e.SessionEventType),
		"user_id":            userOrAnonymous(e.UserID),
		"session_id":         e.SessionID,
	}
}

func userOrAnonymous(id *string) string {
	if id == nil || *id == "" {
		return AnonymousUser
	}
	return *id
}

func (e UserEvent) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(userEventFields(e), e.Extra, userEventKeys)
}

func (e *UserEvent) UnmarshalJSON(data []byte) error {
	var fields userEventFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := unknownKeys(data, userEventKeys)
	if err != nil {
		return err
	}
	*e = UserEvent(fields)
	e.Extra = extra
	return nil
}

func (e SessionEvent) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(sessionEventFields(e), e.Extra, sessionEventKeys)
}

func (e *SessionEvent) UnmarshalJSON(data []byte) error {
	var fields sessionEventFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := unknownKeys(data, sessionEventKeys)
	if err != nil {
		return err
	}
	*e = SessionEvent(fields)
	e.Extra = extra
	return nil
}

func marshalWithExtra(v any, extra map[string]json.RawMessage, known []string) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return base, err
	}

	merged := make(map[string]json.RawMessage, len(known)+len(extra))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if isKnownKey(k, known) {
			continue
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

func unknownKeys(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func isKnownKey(key string, known []string) bool {
	for _, k := range known {
		if k == key {
			return true
		}
	}
	return false
}
