package ticketmaster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"encorely/upstream"
)

func newTestClient(handler http.HandlerFunc) (*Client, func()) {
	srv := httptest.NewServer(handler)
	c := &Client{
		HTTPClient: http.DefaultClient,
		BaseURL:    srv.URL,
		apiKey:     "test-key",
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	return c, srv.Close
}

func TestSearchEventsParsesDiscoveryShape(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events.json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "Nova Ray", r.URL.Query().Get("keyword"))
		assert.Equal(t, "music", r.URL.Query().Get("classificationName"))
		assert.NotEmpty(t, r.URL.Query().Get("startDateTime"))
		assert.NotEmpty(t, r.URL.Query().Get("endDateTime"))

		w.Write([]byte(`{"_embedded":{"events":[{
			"id":"ev-1",
			"name":"Nova Ray at Crystal Hall",
			"url":"https://tickets/ev-1",
			"dates":{"start":{"dateTime":"2026-10-03T20:00:00Z"},"status":{"code":"onsale"}},
			"priceRanges":[{"min":35.5,"max":75,"currency":"USD"}],
			"_embedded":{"venues":[{
				"id":"v-1",
				"name":"Crystal Hall",
				"address":{"line1":"1332 W Burnside St"},
				"city":{"name":"Portland"},
				"state":{"stateCode":"OR"},
				"country":{"countryCode":"US"},
				"location":{"latitude":"45.5231","longitude":"-122.6857"}
			}]}
		}]}}`))
	})
	defer done()

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	events, err := c.SearchEvents(context.Background(), "Nova Ray", from, from.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "onsale", ev.Status)
	assert.Equal(t, time.Date(2026, 10, 3, 20, 0, 0, 0, time.UTC), ev.Date)
	require.NotNil(t, ev.MinPrice)
	assert.Equal(t, 35.5, *ev.MinPrice)
	assert.Equal(t, "USD", ev.Currency)

	require.NotNil(t, ev.Venue)
	assert.Equal(t, "Crystal Hall", ev.Venue.Name)
	assert.Equal(t, "Portland", ev.Venue.City)
	require.NotNil(t, ev.Venue.Latitude)
	assert.InDelta(t, 45.5231, *ev.Venue.Latitude, 0.0001)
}

func TestSearchEventsEmptyResult(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"page":{"totalElements":0}}`))
	})
	defer done()

	events, err := c.SearchEvents(context.Background(), "Nobody", time.Now(), time.Now().AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSearchAttractionsSkipsUndefinedGenres(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attractions.json", r.URL.Path)
		w.Write([]byte(`{"_embedded":{"attractions":[{
			"id":"tm-nova",
			"name":"Nova Ray",
			"images":[{"url":"https://img/nova.jpg"}],
			"classifications":[{"genre":{"name":"Rock"},"subGenre":{"name":"Undefined"}}]
		}]}}`))
	})
	defer done()

	attractions, err := c.SearchAttractions(context.Background(), "Nova Ray")
	require.NoError(t, err)
	require.Len(t, attractions, 1)
	assert.Equal(t, "tm-nova", attractions[0].ID)
	assert.Equal(t, []string{"Rock"}, attractions[0].Genres)
}

func TestVenueWithoutCoordinates(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"v-1","name":"Crystal Hall","city":{"name":"Portland"}}`))
	})
	defer done()

	venue, err := c.GetVenue(context.Background(), "v-1")
	require.NoError(t, err)
	assert.Nil(t, venue.Latitude)
	assert.Nil(t, venue.Longitude)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"bad key", http.StatusUnauthorized, upstream.IsAuth},
		{"not found", http.StatusNotFound, upstream.IsNotFound},
		{"rate limited", http.StatusTooManyRequests, upstream.IsRateLimited},
		{"unavailable", http.StatusBadGateway, upstream.IsUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			defer done()

			_, err := c.SearchEvents(context.Background(), "Nova Ray", time.Now(), time.Now().AddDate(1, 0, 0))
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}
