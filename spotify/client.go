// Package spotify is a thin client for the Spotify Web API, used as the
// catalog-metadata source for artist imports. Authentication is the
// client-credentials flow; the bearer token is cached until shortly before
// expiry.
package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"encorely/config"
	"encorely/upstream"
)

const (
	APIURL   = "https://api.spotify.com/v1"
	TokenURL = "https://accounts.spotify.com/api/token"

	serviceName = "spotify"
)

// Image is an image resource in one of Spotify's offered sizes.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Artist is a Spotify artist object.
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
	Followers  struct {
		Total int `json:"total"`
	} `json:"followers"`
	Images []Image `json:"images"`
}

// Track is a Spotify track object.
type Track struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMS  int    `json:"duration_ms"`
	Explicit    bool   `json:"explicit"`
	Popularity  int    `json:"popularity"`
	TrackNumber int    `json:"track_number"`
	Album       struct {
		Name   string  `json:"name"`
		Images []Image `json:"images"`
	} `json:"album"`
}

type Client struct {
	HTTPClient   *http.Client
	BaseURL      string
	TokenBaseURL string

	clientID     string
	clientSecret string
	limiter      *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient reads SPOTIFY_CLIENT_ID / SPOTIFY_CLIENT_SECRET from the
// environment. Credentials are validated lazily on the first token exchange.
func NewClient() *Client {
	return &Client{
		HTTPClient:   config.SpotifyClient(),
		BaseURL:      APIURL,
		TokenBaseURL: TokenURL,
		clientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		clientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		limiter:      rate.NewLimiter(rate.Limit(10), 10),
	}
}

// token returns a cached access token, exchanging credentials when the cache
// is empty or within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenBaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
			resp.StatusCode == http.StatusBadRequest {
			// Spotify answers 400 to malformed or unknown credentials.
			return "", &upstream.AuthError{Service: serviceName, Status: resp.StatusCode}
		}
		return "", upstream.FromResponse(serviceName, "token", resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &upstream.UnavailableError{Service: serviceName, Err: err}
	}

	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) get(ctx context.Context, path, resource string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}

	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token may have been revoked; drop the cache so the next call
		// re-exchanges credentials.
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		return upstream.FromResponse(serviceName, resource, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}
	return nil
}

// SearchArtists searches the catalog by keyword and returns up to limit
// matches, best match first.
func (c *Client) SearchArtists(ctx context.Context, query string, limit int) ([]Artist, error) {
	if limit <= 0 {
		limit = 10
	}
	path := fmt.Sprintf("/search?q=%s&type=artist&limit=%d", url.QueryEscape(query), limit)

	var body struct {
		Artists struct {
			Items []Artist `json:"items"`
		} `json:"artists"`
	}
	if err := c.get(ctx, path, fmt.Sprintf("artist search %q", query), &body); err != nil {
		return nil, err
	}
	return body.Artists.Items, nil
}

// GetArtist fetches one artist by Spotify ID.
func (c *Client) GetArtist(ctx context.Context, id string) (*Artist, error) {
	var artist Artist
	if err := c.get(ctx, "/artists/"+url.PathEscape(id), "artist "+id, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// GetTopTracks fetches the artist's top tracks for the given market.
func (c *Client) GetTopTracks(ctx context.Context, id, market string) ([]Track, error) {
	if market == "" {
		market = "US"
	}
	path := fmt.Sprintf("/artists/%s/top-tracks?market=%s", url.PathEscape(id), url.QueryEscape(market))

	var body struct {
		Tracks []Track `json:"tracks"`
	}
	if err := c.get(ctx, path, "top tracks for artist "+id, &body); err != nil {
		return nil, err
	}
	return body.Tracks, nil
}
