package tracker

import (
	"net/url"
	"time"

	"storefront/api/models"
)

// timestampLayout matches what browsers produce for Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Environment is the runtime context an envelope is built in.
type Environment struct {
	PageURL   string
	Referrer  string
	UserAgent string
	Query     url.Values
}

type EnvironmentFunc func() Environment

// UserAction is what the caller knows about a user action. Zero values mean
// "not supplied" and are left out of the envelope.
type UserAction struct {
	EventName   models.UserEventName
	ProductID   string
	ProductName string
	Category    string
	Price       float64
	Quantity    int
	OrderID     string
	TotalAmount float64
	SearchQuery string

	// Override the environment when set.
	PageURL   string
	Referrer  string
	UserAgent string
}

// Builder turns actions into envelopes. Given a fixed clock, identity and
// environment the output is deterministic.
type Builder struct {
	identity *IdentityResolver
	env      EnvironmentFunc
	now      func() time.Time
}

type BuilderOption func(*Builder)

func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(identity *IdentityResolver, env EnvironmentFunc, opts ...BuilderOption) *Builder {
	if env == nil {
		env = func() Environment { return Environment{} }
	}
	b := &Builder{identity: identity, env: env, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ResolveUserID returns the authenticated id, or the anonymous one.
func (b *Builder) ResolveUserID(authUserID string) string {
	if authUserID != "" {
		return authUserID
	}
	return b.identity.GetOrCreateAnonymousUserID()
}

func (b *Builder) UserEvent(authUserID string, action UserAction) models.UserEvent {
	env := b.env()
	userID := b.ResolveUserID(authUserID)

	return models.UserEvent{
		SessionID:   b.identity.SessionID(),
		UserID:      &userID,
		EventName:   action.EventName,
		PageURL:     firstNonEmpty(action.PageURL, env.PageURL),
		Referrer:    firstNonEmpty(action.Referrer, env.Referrer),
		UserAgent:   firstNonEmpty(action.UserAgent, env.UserAgent),
		ProductID:   optionalString(action.ProductID),
		Timestamp:   b.timestamp(),
		SearchQuery: optionalString(action.SearchQuery),
		OrderID:     optionalString(action.OrderID),
		TotalAmount: optionalFloat(action.TotalAmount),
		Quantity:    optionalInt(action.Quantity),
		Price:       optionalFloat(action.Price),
		Category:    optionalString(action.Category),
		ProductName: optionalString(action.ProductName),
	}
}

// SessionEvent builds a session envelope; source, campaign and medium come
// from the utm_* query parameters of the current page.
func (b *Builder) SessionEvent(authUserID string, eventType models.SessionEventType) models.SessionEvent {
	env := b.env()
	userID := b.ResolveUserID(authUserID)

	return models.SessionEvent{
		SessionID:        b.identity.SessionID(),
		UserID:           &userID,
		SessionEventType: eventType,
		Source:           optionalString(env.Query.Get("utm_source")),
		Campaign:         optionalString(env.Query.Get("utm_campaign")),
		Medium:           optionalString(env.Query.Get("utm_medium")),
		Timestamp:        b.timestamp(),
	}
}

func (b *Builder) timestamp() string {
	return b.now().UTC().Format(timestampLayout)
}

func ViewProduct(productID, productName, category string, price float64) UserAction {
	return UserAction{EventName: models.EventViewProduct, ProductID: productID, ProductName: productName, Category: category, Price: price}
}

func AddToCart(productID string, quantity int, price float64, productName string) UserAction {
	return UserAction{EventName: models.EventAddToCart, ProductID: productID, Quantity: quantity, Price: price, ProductName: productName}
}

func Checkout(totalAmount float64) UserAction {
	return UserAction{EventName: models.EventCheckout, TotalAmount: totalAmount}
}

func Purchase(orderID string, totalAmount float64) UserAction {
	return UserAction{EventName: models.EventPurchase, OrderID: orderID, TotalAmount: totalAmount}
}

func Search(query string) UserAction {
	return UserAction{EventName: models.EventSearch, SearchQuery: query}
}

func Comment(productID string) UserAction {
	return UserAction{EventName: models.EventComment, ProductID: productID}
}

func Login() UserAction { return UserAction{EventName: models.EventLogin} }
func Logout() UserAction { return UserAction{EventName: models.EventLogout} }
func PageView() UserAction { return UserAction{EventName: models.EventPageView} }

func firstNonEmpty(values ...string) *string {
	for _, v := range values {
		if v != "" {
			return &v
		}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func optionalInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
