// Package ticketmaster is a thin client for the Ticketmaster Discovery API,
// used as the ticketing/events source for artist imports. Authentication is a
// per-request API key query parameter.
package ticketmaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"

	"encorely/config"
	"encorely/upstream"
)

const (
	APIURL = "https://app.ticketmaster.com/discovery/v2"

	serviceName = "ticketmaster"
	dateLayout  = "2006-01-02T15:04:05Z"
)

// Event is a Discovery API event, flattened to the fields the import
// pipeline consumes. Missing fields stay zero-valued.
type Event struct {
	ID       string
	Name     string
	URL      string
	Status   string
	Date     time.Time
	DoorTime *time.Time
	MinPrice *float64
	MaxPrice *float64
	Currency string
	Venue    *Venue
}

// Venue is a Discovery API venue.
type Venue struct {
	ID         string
	Name       string
	Street     string
	City       string
	State      string
	Country    string
	PostalCode string
	Latitude   *float64
	Longitude  *float64
	Capacity   int
}

// Attraction is a Discovery API attraction (the artist-side entity).
type Attraction struct {
	ID       string
	Name     string
	ImageURL string
	Genres   []string
}

type Client struct {
	HTTPClient *http.Client
	BaseURL    string

	apiKey  string
	limiter *rate.Limiter
}

// NewClient reads TICKETMASTER_API_KEY from the environment.
func NewClient() *Client {
	return &Client{
		HTTPClient: config.TicketmasterClient(),
		BaseURL:    APIURL,
		apiKey:     os.Getenv("TICKETMASTER_API_KEY"),
		// Discovery API allows 5 requests per second.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

func (c *Client) get(ctx context.Context, path, resource string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return &upstream.UnavailableError{Service: serviceName, Err: err}
	}

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

// rawEvent mirrors the Discovery API response shape.
type rawEvent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Dates struct {
		Start struct {
			DateTime string `json:"dateTime"`
		} `json:"start"`
		Doors struct {
			DateTime string `json:"dateTime"`
		} `json:"doors"`
		Status struct {
			Code string `json:"code"`
		} `json:"status"`
	} `json:"dates"`
	PriceRanges []struct {
		Min      float64 `json:"min"`
		Max      float64 `json:"max"`
		Currency string  `json:"currency"`
	} `json:"priceRanges"`
	Embedded struct {
		Venues []rawVenue `json:"venues"`
	} `json:"_embedded"`
}

type rawVenue struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address struct {
		Line1 string `json:"line1"`
	} `json:"address"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	State struct {
		StateCode string `json:"stateCode"`
	} `json:"state"`
	Country struct {
		CountryCode string `json:"countryCode"`
	} `json:"country"`
	PostalCode string `json:"postalCode"`
	Location   struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"location"`
	Capacity int `json:"capacity"`
}

func (r rawEvent) toEvent() Event {
	ev := Event{
		ID:     r.ID,
		Name:   r.Name,
		URL:    r.URL,
		Status: r.Dates.Status.Code,
	}

	if t, err := time.Parse(dateLayout, r.Dates.Start.DateTime); err == nil {
		ev.Date = t
	}
	if t, err := time.Parse(dateLayout, r.Dates.Doors.DateTime); err == nil {
		ev.DoorTime = &t
	}
	if len(r.PriceRanges) > 0 {
		pr := r.PriceRanges[0]
		min, max := pr.Min, pr.Max
		ev.MinPrice = &min
		ev.MaxPrice = &max
		ev.Currency = pr.Currency
	}
	if len(r.Embedded.Venues) > 0 {
		v := r.Embedded.Venues[0].toVenue()
		ev.Venue = &v
	}
	return ev
}

func (r rawVenue) toVenue() Venue {
	v := Venue{
		ID:         r.ID,
		Name:       r.Name,
		Street:     r.Address.Line1,
		City:       r.City.Name,
		State:      r.State.StateCode,
		Country:    r.Country.CountryCode,
		PostalCode: r.PostalCode,
		Capacity:   r.Capacity,
	}

	var lat, lng float64
	if _, err := fmt.Sscanf(r.Location.Latitude, "%f", &lat); err == nil {
		if _, err := fmt.Sscanf(r.Location.Longitude, "%f", &lng); err == nil {
			v.Latitude = &lat
			v.Longitude = &lng
		}
	}
	return v
}

// SearchEvents finds events for a keyword within the given date range.
func (c *Client) SearchEvents(ctx context.Context, keyword string, from, to time.Time) ([]Event, error) {
	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("classificationName", "music")
	params.Set("size", "100")
	params.Set("sort", "date,asc")
	params.Set("startDateTime", from.UTC().Format(dateLayout))
	params.Set("endDateTime", to.UTC().Format(dateLayout))

	var body struct {
		Embedded struct {
			Events []rawEvent `json:"events"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/events.json", fmt.Sprintf("events for %q", keyword), params, &body); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(body.Embedded.Events))
	for _, r := range body.Embedded.Events {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// SearchAttractions finds attractions (artists) matching a keyword.
func (c *Client) SearchAttractions(ctx context.Context, keyword string) ([]Attraction, error) {
	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("classificationName", "music")

	var body struct {
		Embedded struct {
			Attractions []struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Images []struct {
					URL string `json:"url"`
				} `json:"images"`
				Classifications []struct {
					Genre struct {
						Name string `json:"name"`
					} `json:"genre"`
					SubGenre struct {
						Name string `json:"name"`
					} `json:"subGenre"`
				} `json:"classifications"`
			} `json:"attractions"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/attractions.json", fmt.Sprintf("attractions for %q", keyword), params, &body); err != nil {
		return nil, err
	}

	attractions := make([]Attraction, 0, len(body.Embedded.Attractions))
	for _, a := range body.Embedded.Attractions {
		attr := Attraction{ID: a.ID, Name: a.Name}
		if len(a.Images) > 0 {
			attr.ImageURL = a.Images[0].URL
		}
		for _, cl := range a.Classifications {
			if cl.Genre.Name != "" && cl.Genre.Name != "Undefined" {
				attr.Genres = append(attr.Genres, cl.Genre.Name)
			}
			if cl.SubGenre.Name != "" && cl.SubGenre.Name != "Undefined" {
				attr.Genres = append(attr.Genres, cl.SubGenre.Name)
			}
		}
		attractions = append(attractions, attr)
	}
	return attractions, nil
}

// GetVenue fetches one venue by Discovery API venue ID.
func (c *Client) GetVenue(ctx context.Context, id string) (*Venue, error) {
	var raw rawVenue
	if err := c.get(ctx, "/venues/"+url.PathEscape(id)+".json", "venue "+id, nil, &raw); err != nil {
		return nil, err
	}
	v := raw.toVenue()
	return &v, nil
}
