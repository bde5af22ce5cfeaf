package setlistfm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

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

func TestSearchArtistSendsAPIKeyHeader(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Nova Ray", r.URL.Query().Get("artistName"))
		w.Write([]byte(`{"artist":[{"mbid":"mb-1","name":"Nova Ray"}]}`))
	})
	defer done()

	matches, err := c.SearchArtist(context.Background(), "Nova Ray")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "mb-1", matches[0].MBID)
}

func TestGetSetlistsFlattensSongs(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/artist/mb-1/setlists", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("p"))
		w.Write([]byte(`{
			"setlist":[{
				"id":"sl-1",
				"eventDate":"03-10-2025",
				"venue":{"name":"Crystal Hall"},
				"sets":{"set":[
					{"song":[{"name":"First Light"},{"name":"Undertow"}]},
					{"song":[{"name":"Afterglow"},{"name":""}]}
				]}
			}],
			"total":42,"page":2,"itemsPerPage":20
		}`))
	})
	defer done()

	page, err := c.GetSetlists(context.Background(), "mb-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 42, page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Setlists, 1)
	assert.Equal(t, "Crystal Hall", page.Setlists[0].VenueName)
	assert.Equal(t, []string{"First Light", "Undertow", "Afterglow"}, page.Setlists[0].Songs)
}

func TestUnknownArtistMapsToNotFound(t *testing.T) {
	c, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer done()

	_, err := c.SearchArtist(context.Background(), "Nobody")
	assert.True(t, upstream.IsNotFound(err))
}
