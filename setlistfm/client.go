// Package setlistfm is a thin client for the setlist.fm REST API, used as
// the optional historical-setlist source for artist imports. Authentication
// is an API key header. setlist.fm enforces a strict per-second rate limit,
// so the limiter here is deliberately conservative.
package setlistfm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"golang.org/x/time/rate"

	"encorely/config"
	"encorely/upstream"
)

const (
	APIURL = "https://api.setlist.fm/rest/1.0"

	serviceName = "setlistfm"
)

// ArtistMatch is one artist result from a name search.
type ArtistMatch struct {
	MBID string `json:"mbid"`
	Name string `json:"name"`
}

// Setlist is one historical setlist, flattened to the song titles the
// pipeline consumes.
type Setlist struct {
	ID        string
	EventDate string
	VenueName string
	Songs     []string
}

// SetlistPage is one page of setlist search results.
type SetlistPage struct {
	Setlists []Setlist
	Total    int
	Page     int
	PageSize int
}

type Client struct {
	HTTPClient *http.Client
	BaseURL    string

	apiKey  string
	limiter *rate.Limiter
}

// NewClient reads SETLISTFM_API_KEY from the environment.
func NewClient() *Client {
	return &Client{
		HTTPClient: config.SetlistfmClient(),
		BaseURL:    APIURL,
		apiKey:     os.Getenv("SETLISTFM_API_KEY"),
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
	}
}

func (c *Client) get(ctx context.Context, path, resource string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstream.FromResponse(serviceName, resource, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	return nil
}

// SearchArtist finds artists by exact name match, best match first.
func (c *Client) SearchArtist(ctx context.Context, name string) ([]ArtistMatch, error) {
	path := fmt.Sprintf("/search/artists?artistName=%s&sort=relevance", url.QueryEscape(name))

	var body struct {
		Artist []ArtistMatch `json:"artist"`
	}
	if err := c.get(ctx, path, fmt.Sprintf("artist %q", name), &body); err != nil {
		return nil, err
	}
	return body.Artist, nil
}

// GetSetlists fetches one page of an artist's historical setlists by
// MusicBrainz ID. Pages start at 1.
func (c *Client) GetSetlists(ctx context.Context, mbid string, page int) (*SetlistPage, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/artist/%s/setlists?p=%d", url.PathEscape(mbid), page)

	var body struct {
		Setlist []struct {
			ID        string `json:"id"`
			EventDate string `json:"eventDate"`
			Venue     struct {
				Name string `json:"name"`
			} `json:"venue"`
			Sets struct {
				Set []struct {
					Song []struct {
						Name string `json:"name"`
					} `json:"song"`
				} `json:"set"`
			} `json:"sets"`
		} `json:"setlist"`
		Total        int `json:"total"`
		Page         int `json:"page"`
		ItemsPerPage int `json:"itemsPerPage"`
	}
	if err := c.get(ctx, path, "setlists for artist "+mbid, &body); err != nil {
		return nil, err
	}

	out := &SetlistPage{
		Total:    body.Total,
		Page:     body.Page,
		PageSize: body.ItemsPerPage,
	}
	for _, sl := range body.Setlist {
		item := Setlist{
			ID:        sl.ID,
			EventDate: sl.EventDate,
			VenueName: sl.Venue.Name,
		}
		for _, set := range sl.Sets.Set {
			for _, song := range set.Song {
				if song.Name != "" {
					item.Songs = append(item.Songs, song.Name)
				}
			}
		}
		out.Setlists = append(out.Setlists, item)
	}
	return out, nil
}
