package tracker

import (
	"sync"

	"storefront/api/models"
)

// Tracker is the entry point used by the storefront: it remembers who is
// signed in and turns Track* calls into detached sends.
type Tracker struct {
	identity  *IdentityResolver
	builder   *Builder
	transport *Transport

	mu     sync.Mutex
	userID string
}

func New(identity *IdentityResolver, builder *Builder, transport *Transport) *Tracker {
	return &Tracker{identity: identity, builder: builder, transport: transport}
}

// SetUser records the authenticated user. The anonymous id is cleared on the
// transition from anonymous to signed in, and only then. An empty id signs
// the user out.
func (t *Tracker) SetUser(userID string) {
	t.mu.Lock()
	wasAnonymous := t.userID == ""
	t.userID = userID
	t.mu.Unlock()

	if wasAnonymous && userID != "" {
		t.identity.ClearAnonymousUserID()
	}
}

func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

func (t *Tracker) Track(action UserAction) {
	t.transport.SendUserEvent(t.builder.UserEvent(t.UserID(), action))
}

func (t *Tracker) TrackSession(eventType models.SessionEventType) {
	t.transport.SendSessionEvent(t.builder.SessionEvent(t.UserID(), eventType))
}

func (t *Tracker) TrackViewProduct(productID, productName, category string, price float64) {
	t.Track(ViewProduct(productID, productName, category, price))
}

func (t *Tracker) TrackAddToCart(productID string, quantity int, price float64, productName string) {
	t.Track(AddToCart(productID, quantity, price, productName))
}

func (t *Tracker) TrackCheckout(totalAmount float64) { t.Track(Checkout(totalAmount)) }
func (t *Tracker) TrackPurchase(orderID string, totalAmount float64) { t.Track(Purchase(orderID, totalAmount)) }
func (t *Tracker) TrackSearch(query string) { t.Track(Search(query)) }
func (t *Tracker) TrackComment(productID string) { t.Track(Comment(productID)) }
func (t *Tracker) TrackLogin() { t.Track(Login()) }
func (t *Tracker) TrackLogout() { t.Track(Logout()) }
func (t *Tracker) TrackPageView() { t.Track(PageView()) }
func (t *Tracker) TrackOpenSession() { t.TrackSession(models.SessionOpen) }
func (t *Tracker) TrackCloseSession() { t.TrackSession(models.SessionClose) }
