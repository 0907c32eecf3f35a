package tracker

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/api/models"
)

type countingStorage struct {
	*MemoryStorage
	mu      sync.Mutex
	deletes map[string]int
}

func (c *countingStorage) Delete(key string) error {
	c.mu.Lock()
	c.deletes[key]++
	c.mu.Unlock()
	return c.MemoryStorage.Delete(key)
}

func TestTracker_LoginClearsAnonymousOnce(t *testing.T) {
	var (
		mu     sync.Mutex
		events []models.UserEvent
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev models.UserEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	storage := &countingStorage{MemoryStorage: NewMemoryStorage(), deletes: map[string]int{}}
	identity := NewIdentityResolver(storage, zap.NewNop())
	builder := NewBuilder(identity, nil)
	transport := NewTransport(srv.URL, NewEventQueue(NewMemoryStorage(), zap.NewNop()), zap.NewNop())
	tr := New(identity, builder, transport)

	tr.TrackViewProduct("p-1", "Shirt", "", 0)
	transport.Wait()
	anon := identity.GetOrCreateAnonymousUserID()

	tr.SetUser("cust-9")
	tr.SetUser("cust-9")
	tr.TrackAddToCart("p-1", 1, 10, "Shirt")
	transport.Wait()

	assert.Equal(t, 1, storage.deletes[anonymousUserKey])

	mu.Lock()
	require.Len(t, events, 2)
	assert.Equal(t, anon, *events[0].UserID)
	assert.Equal(t, "cust-9", *events[1].UserID)
	assert.Equal(t, events[0].SessionID, events[1].SessionID)
	mu.Unlock()

	tr.SetUser("")
	fresh := identity.GetOrCreateAnonymousUserID()
	assert.NotEqual(t, anon, fresh)
}
