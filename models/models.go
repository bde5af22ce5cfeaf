package models

import (
	"time"
)

// Show lifecycle statuses. Transitions are monotonic: upcoming may move to
// in_progress, cancelled or postponed; in_progress moves to completed.
const (
	ShowStatusUpcoming   = "upcoming"
	ShowStatusInProgress = "in_progress"
	ShowStatusCompleted  = "completed"
	ShowStatusCancelled  = "cancelled"
	ShowStatusPostponed  = "postponed"
)

// Artist is an artist known to the platform, keyed internally by ID and
// externally by at most one identifier per upstream service.
type Artist struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string     `gorm:"not null;index" json:"name"`
	Slug           string     `gorm:"not null;uniqueIndex;size:255" json:"slug"`
	SpotifyID      *string    `gorm:"uniqueIndex;size:64" json:"spotify_id"`
	TicketmasterID *string    `gorm:"uniqueIndex;size:64" json:"ticketmaster_id"`
	SetlistfmMBID  *string    `gorm:"uniqueIndex;size:64" json:"setlistfm_mbid"`
	ImageURL       string     `json:"image_url"`
	SmallImageURL  string     `json:"small_image_url"`
	Genres         string     `gorm:"type:text" json:"genres"` // JSON array of tags
	Popularity     int        `json:"popularity"`
	Followers      int        `json:"followers"`
	Verified       bool       `gorm:"default:false" json:"verified"`
	LastSyncedAt   *time.Time `json:"last_synced_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Venue is a concert venue. TicketmasterID may be absent for venues created
// from sources that carry no venue identifier.
type Venue struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TicketmasterID *string   `gorm:"uniqueIndex;size:64" json:"ticketmaster_id"`
	Name           string    `gorm:"not null;index" json:"name"`
	Street         string    `json:"street"`
	City           string    `gorm:"index" json:"city"`
	State          string    `json:"state"`
	Country        string    `json:"country"`
	PostalCode     string    `json:"postal_code"`
	Latitude       *float64  `json:"latitude"` // both coordinates present or both absent
	Longitude      *float64  `json:"longitude"`
	Capacity       int       `json:"capacity"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Show is a scheduled concert with exactly one headliner and zero or one venue.
type Show struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	TicketmasterID *string    `gorm:"uniqueIndex;size:64" json:"ticketmaster_id"`
	Name           string     `gorm:"not null" json:"name"`
	Slug           string     `gorm:"not null;uniqueIndex;size:255" json:"slug"`
	Date           time.Time  `gorm:"index" json:"date"`
	DoorTime       *time.Time `json:"door_time"`
	Status         string     `gorm:"size:20;default:upcoming;index" json:"status"`
	TicketURL      string     `json:"ticket_url"`
	MinPrice       *float64   `json:"min_price"`
	MaxPrice       *float64   `json:"max_price"`
	Currency       string     `gorm:"size:8" json:"currency"`
	ArtistID       uint       `gorm:"not null;index" json:"artist_id"`
	VenueID        *uint      `gorm:"index" json:"venue_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Song is a catalog track belonging to one artist.
type Song struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SpotifyID   string    `gorm:"not null;uniqueIndex;size:64" json:"spotify_id"`
	ArtistID    uint      `gorm:"not null;index" json:"artist_id"`
	Title       string    `gorm:"not null" json:"title"`
	Album       string    `json:"album"`
	ArtworkURL  string    `json:"artwork_url"`
	DurationMS  int       `json:"duration_ms"`
	Popularity  int       `json:"popularity"`
	Explicit    bool      `json:"explicit"`
	TrackNumber int       `json:"track_number"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ImportLog records a stage-level error during an import run.
type ImportLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string    `gorm:"size:36;index" json:"run_id"`
	ArtistID  uint      `gorm:"index" json:"artist_id"`
	Stage     string    `gorm:"size:32" json:"stage"`
	ErrorMsg  string    `gorm:"type:text" json:"error_msg"`
	CreatedAt time.Time `json:"created_at"`
}

// ImportHistory is the durable record of one import run.
type ImportHistory struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID        string    `gorm:"size:36;uniqueIndex" json:"run_id"`
	ArtistID     uint      `gorm:"index" json:"artist_id"`
	ArtistName   string    `gorm:"size:255" json:"artist_name"`
	Status       string    `gorm:"size:20" json:"status"` // "completed" or "failed"
	SongsAdded   int       `json:"songs_added"`
	ShowsAdded   int       `json:"shows_added"`
	SetlistsSeen int       `json:"setlists_seen"`
	ErrorMsg     string    `gorm:"type:text" json:"error_msg"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationSecs int       `json:"duration_secs"`
	CreatedAt    time.Time `json:"created_at"`
}
