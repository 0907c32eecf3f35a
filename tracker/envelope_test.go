package tracker

import (
	"net/url"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/api/models"
)

var frozen = time.Date(2026, 5, 6, 7, 8, 9, 10_000_000, time.UTC)

func frozenBuilder(query url.Values) *Builder {
	identity := NewIdentityResolver(NewMemoryStorage(), zap.NewNop(),
		WithIdentityClock(func() time.Time { return frozen }),
		WithRandomSource(func() string { return "r" }),
	)
	env := func() Environment {
		return Environment{PageURL: "/products/9", Referrer: "https://google.com", UserAgent: "test-agent", Query: query}
	}
	return NewBuilder(identity, env, WithBuilderClock(func() time.Time { return frozen }))
}

func TestBuilder_UserEventRequiredFields(t *testing.T) {
	b := frozenBuilder(nil)
	actions := []UserAction{
		ViewProduct("p-1", "Shirt", "tops", 19.5),
		AddToCart("p-1", 2, 19.5, "Shirt"),
		Checkout(39),
		Purchase("o-1", 39),
		Search("red shirt"),
		Comment("p-1"),
		Login(),
		Logout(),
		PageView(),
	}

	for _, action := range actions {
		for _, authUser := range []string{"", "cust-1"} {
			ev := b.UserEvent(authUser, action)
			require.NoError(t, ev.Validate())
			assert.NotEmpty(t, ev.SessionID)
			assert.NotEmpty(t, ev.EventName)
			require.NotNil(t, ev.UserID)
			assert.NotEmpty(t, *ev.UserID)
			if authUser == "" {
				assert.True(t, IsAnonymousUserID(*ev.UserID))
			} else {
				assert.Equal(t, authUser, *ev.UserID)
			}
		}
	}
}

func TestBuilder_FillsEnvironmentAndOmitsZeroFields(t *testing.T) {
	b := frozenBuilder(nil)

	ev := b.UserEvent("", Search("hat"))
	assert.Equal(t, "/products/9", *ev.PageURL)
	assert.Equal(t, "https://google.com", *ev.Referrer)
	assert.Equal(t, "test-agent", *ev.UserAgent)
	assert.Equal(t, "2026-05-06T07:08:09.010Z", ev.Timestamp)
	assert.Nil(t, ev.ProductID)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "hat", decoded["search_query"])
	assert.NotContains(t, decoded, "price")
	assert.NotContains(t, decoded, "order_id")
	assert.Contains(t, decoded, "product_id")
	assert.Nil(t, decoded["product_id"])

	override := b.UserEvent("", UserAction{EventName: models.EventPageView, PageURL: "/cart"})
	assert.Equal(t, "/cart", *override.PageURL)
}

func TestBuilder_SessionEventUTM(t *testing.T) {
	b := frozenBuilder(url.Values{"utm_source": {"newsletter"}, "utm_medium": {"email"}})

	ev := b.SessionEvent("", models.SessionOpen)
	require.NoError(t, ev.Validate())
	assert.Equal(t, "newsletter", *ev.Source)
	assert.Equal(t, "email", *ev.Medium)
	assert.Nil(t, ev.Campaign)
	assert.True(t, IsAnonymousUserID(*ev.UserID))
}

func TestBuilder_Deterministic(t *testing.T) {
	b := frozenBuilder(url.Values{"utm_campaign": {"spring"}})

	first, err := json.Marshal(b.UserEvent("", AddToCart("p-2", 1, 10, "Cap")))
	require.NoError(t, err)
	second, err := json.Marshal(b.UserEvent("", AddToCart("p-2", 1, 10, "Cap")))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	s1, err := json.Marshal(b.SessionEvent("u", models.SessionClose))
	require.NoError(t, err)
	s2, err := json.Marshal(b.SessionEvent("u", models.SessionClose))
	require.NoError(t, err)
	assert.Equal(t, string(s1), string(s2))
}
