package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"encorely/config"
	"encorely/models"
)

// PersistenceError is a local storage failure that is fatal for one entity,
// reported after bounded retries are exhausted.
type PersistenceError struct {
	Entity string
	Reason string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %s", e.Entity, e.Reason)
}

// ArtistData is a normalized artist payload merged from upstream sources.
// Pointer fields are only applied when non-nil; a nil upstream value never
// clobbers a local one.
type ArtistData struct {
	Name           string
	SpotifyID      *string
	TicketmasterID *string
	SetlistfmMBID  *string
	ImageURL       string
	SmallImageURL  string
	Genres         []string
	Popularity     *int
	Followers      *int
}

// VenueData is a normalized venue payload from the ticketing service.
type VenueData struct {
	TicketmasterID *string
	Name           string
	Street         string
	City           string
	State          string
	Country        string
	PostalCode     string
	Latitude       *float64
	Longitude      *float64
	Capacity       int
}

// ShowData is a normalized event payload from the ticketing service.
type ShowData struct {
	TicketmasterID *string
	Name           string
	Date           time.Time
	DoorTime       *time.Time
	Status         string
	TicketURL      string
	MinPrice       *float64
	MaxPrice       *float64
	Currency       string
}

// SongData is a normalized catalog track payload.
type SongData struct {
	SpotifyID   string
	Title       string
	Album       string
	ArtworkURL  string
	DurationMS  int
	Popularity  int
	Explicit    bool
	TrackNumber int
}

// UpsertService provides idempotent create-or-update for the entities the
// import pipeline touches, keyed by external identifiers.
type UpsertService struct {
	db *gorm.DB
}

// NewUpsertService creates a new UpsertService instance
func NewUpsertService(db *gorm.DB) *UpsertService {
	return &UpsertService{db: db}
}

// UpsertArtist looks an artist up by any of the payload's external IDs and
// merges the payload into it, or inserts a new row with a unique slug. The
// last-synced timestamp is refreshed either way.
func (s *UpsertService) UpsertArtist(data ArtistData) (*models.Artist, error) {
	var artist models.Artist
	found := false

	for _, probe := range []struct {
		column string
		value  *string
	}{
		{"spotify_id", data.SpotifyID},
		{"ticketmaster_id", data.TicketmasterID},
		{"setlistfm_mbid", data.SetlistfmMBID},
	} {
		if probe.value == nil || *probe.value == "" {
			continue
		}
		err := s.db.Where(probe.column+" = ?", *probe.value).First(&artist).Error
		if err == nil {
			found = true
			break
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &PersistenceError{Entity: "artist", Reason: err.Error()}
		}
	}

	now := time.Now()

	if found {
		s.mergeArtist(&artist, data)
		artist.LastSyncedAt = &now
		if err := s.db.Save(&artist).Error; err != nil {
			return nil, &PersistenceError{Entity: "artist", Reason: err.Error()}
		}
		return &artist, nil
	}

	artist = models.Artist{
		Name:           data.Name,
		SpotifyID:      data.SpotifyID,
		TicketmasterID: data.TicketmasterID,
		SetlistfmMBID:  data.SetlistfmMBID,
		ImageURL:       data.ImageURL,
		SmallImageURL:  data.SmallImageURL,
		Genres:         mergeGenres("", data.Genres),
		LastSyncedAt:   &now,
	}
	if data.Popularity != nil {
		artist.Popularity = *data.Popularity
	}
	if data.Followers != nil {
		artist.Followers = *data.Followers
	}

	if err := s.createWithUniqueSlug(&models.Artist{}, data.Name, func(sl string) error {
		artist.Slug = sl
		return s.db.Create(&artist).Error
	}); err != nil {
		return nil, err
	}
	return &artist, nil
}

// mergeArtist applies non-empty payload fields onto an existing row. Locally
// curated values survive upstream absence.
func (s *UpsertService) mergeArtist(artist *models.Artist, data ArtistData) {
	if data.Name != "" {
		artist.Name = data.Name
	}
	if data.SpotifyID != nil && *data.SpotifyID != "" && artist.SpotifyID == nil {
		artist.SpotifyID = data.SpotifyID
	}
	if data.TicketmasterID != nil && *data.TicketmasterID != "" && artist.TicketmasterID == nil {
		artist.TicketmasterID = data.TicketmasterID
	}
	if data.SetlistfmMBID != nil && *data.SetlistfmMBID != "" && artist.SetlistfmMBID == nil {
		artist.SetlistfmMBID = data.SetlistfmMBID
	}
	if data.ImageURL != "" {
		artist.ImageURL = data.ImageURL
	}
	if data.SmallImageURL != "" {
		artist.SmallImageURL = data.SmallImageURL
	}
	if data.Popularity != nil {
		artist.Popularity = *data.Popularity
	}
	if data.Followers != nil {
		artist.Followers = *data.Followers
	}
	artist.Genres = mergeGenres(artist.Genres, data.Genres)
}

// UpsertVenue looks a venue up by external ID, falling back to a name+city
// match when the payload carries no ID. The fallback is best-effort; spelling
// variants can create duplicate rows.
func (s *UpsertService) UpsertVenue(data VenueData) (*models.Venue, error) {
	var venue models.Venue
	var err error

	if data.TicketmasterID != nil && *data.TicketmasterID != "" {
		err = s.db.Where("ticketmaster_id = ?", *data.TicketmasterID).First(&venue).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = s.db.Where("name = ? AND city = ?", data.Name, data.City).First(&venue).Error
		}
	} else {
		err = s.db.Where("name = ? AND city = ?", data.Name, data.City).First(&venue).Error
	}

	if err == nil {
		s.mergeVenue(&venue, data)
		if err := s.db.Save(&venue).Error; err != nil {
			return nil, &PersistenceError{Entity: "venue", Reason: err.Error()}
		}
		return &venue, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &PersistenceError{Entity: "venue", Reason: err.Error()}
	}

	venue = models.Venue{
		TicketmasterID: data.TicketmasterID,
		Name:           data.Name,
		Street:         data.Street,
		City:           data.City,
		State:          data.State,
		Country:        data.Country,
		PostalCode:     data.PostalCode,
		Capacity:       data.Capacity,
	}
	if data.Latitude != nil && data.Longitude != nil {
		venue.Latitude = data.Latitude
		venue.Longitude = data.Longitude
	}
	if err := s.db.Create(&venue).Error; err != nil {
		return nil, &PersistenceError{Entity: "venue", Reason: err.Error()}
	}
	return &venue, nil
}

func (s *UpsertService) mergeVenue(venue *models.Venue, data VenueData) {
	if data.TicketmasterID != nil && *data.TicketmasterID != "" && venue.TicketmasterID == nil {
		venue.TicketmasterID = data.TicketmasterID
	}
	if data.Street != "" {
		venue.Street = data.Street
	}
	if data.State != "" {
		venue.State = data.State
	}
	if data.Country != "" {
		venue.Country = data.Country
	}
	if data.PostalCode != "" {
		venue.PostalCode = data.PostalCode
	}
	if data.Latitude != nil && data.Longitude != nil {
		venue.Latitude = data.Latitude
		venue.Longitude = data.Longitude
	}
	if data.Capacity > 0 {
		venue.Capacity = data.Capacity
	}
}

// UpsertShow looks a show up by external event ID and updates it, or inserts
// a new row with a unique slug. created reports whether a row was inserted.
func (s *UpsertService) UpsertShow(data ShowData, artistID uint, venueID *uint) (*models.Show, bool, error) {
	var show models.Show

	if data.TicketmasterID != nil && *data.TicketmasterID != "" {
		err := s.db.Where("ticketmaster_id = ?", *data.TicketmasterID).First(&show).Error
		if err == nil {
			if data.Name != "" {
				show.Name = data.Name
			}
			if !data.Date.IsZero() {
				show.Date = data.Date
			}
			if data.DoorTime != nil {
				show.DoorTime = data.DoorTime
			}
			if data.TicketURL != "" {
				show.TicketURL = data.TicketURL
			}
			if data.MinPrice != nil {
				show.MinPrice = data.MinPrice
				show.MaxPrice = data.MaxPrice
				show.Currency = data.Currency
			}
			if venueID != nil {
				show.VenueID = venueID
			}
			// Status updates stay monotonic; regressions are ignored and the
			// periodic sweep owns time-driven transitions.
			if data.Status != "" && statusRank(data.Status) >= statusRank(show.Status) {
				show.Status = data.Status
			}
			if err := s.db.Save(&show).Error; err != nil {
				return nil, false, &PersistenceError{Entity: "show", Reason: err.Error()}
			}
			return &show, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, &PersistenceError{Entity: "show", Reason: err.Error()}
		}
	}

	status := data.Status
	if status == "" {
		status = models.ShowStatusUpcoming
	}
	show = models.Show{
		TicketmasterID: data.TicketmasterID,
		Name:           data.Name,
		Date:           data.Date,
		DoorTime:       data.DoorTime,
		Status:         status,
		TicketURL:      data.TicketURL,
		MinPrice:       data.MinPrice,
		MaxPrice:       data.MaxPrice,
		Currency:       data.Currency,
		ArtistID:       artistID,
		VenueID:        venueID,
	}

	slugBase := data.Name
	if !data.Date.IsZero() {
		slugBase = fmt.Sprintf("%s %s", data.Name, data.Date.Format("2006-01-02"))
	}
	if err := s.createWithUniqueSlug(&models.Show{}, slugBase, func(sl string) error {
		show.Slug = sl
		return s.db.Create(&show).Error
	}); err != nil {
		return nil, false, err
	}
	return &show, true, nil
}

// UpsertSongs upserts a batch of catalog tracks for one artist and returns
// how many rows were inserted.
func (s *UpsertService) UpsertSongs(artistID uint, tracks []SongData) (int, error) {
	added := 0
	for _, t := range tracks {
		if t.SpotifyID == "" {
			continue
		}

		var song models.Song
		err := s.db.Where("spotify_id = ?", t.SpotifyID).First(&song).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			song = models.Song{
				SpotifyID:   t.SpotifyID,
				ArtistID:    artistID,
				Title:       t.Title,
				Album:       t.Album,
				ArtworkURL:  t.ArtworkURL,
				DurationMS:  t.DurationMS,
				Popularity:  t.Popularity,
				Explicit:    t.Explicit,
				TrackNumber: t.TrackNumber,
			}
			if err := s.db.Create(&song).Error; err != nil {
				return added, &PersistenceError{Entity: "song", Reason: err.Error()}
			}
			added++
			continue
		}
		if err != nil {
			return added, &PersistenceError{Entity: "song", Reason: err.Error()}
		}

		song.Title = t.Title
		song.Album = t.Album
		if t.ArtworkURL != "" {
			song.ArtworkURL = t.ArtworkURL
		}
		if t.DurationMS > 0 {
			song.DurationMS = t.DurationMS
		}
		song.Popularity = t.Popularity
		song.Explicit = t.Explicit
		if t.TrackNumber > 0 {
			song.TrackNumber = t.TrackNumber
		}
		if err := s.db.Save(&song).Error; err != nil {
			return added, &PersistenceError{Entity: "song", Reason: err.Error()}
		}
	}
	return added, nil
}

// createWithUniqueSlug probes base, base-1, base-2, ... until an insert
// succeeds. A uniqueness violation during the insert itself moves on to the
// next suffix, since a concurrent import may have claimed the probed slug
// between check and insert.
func (s *UpsertService) createWithUniqueSlug(model interface{}, name string, create func(slug string) error) error {
	base := slug.Make(name)
	if base == "" {
		base = "untitled"
	}

	maxAttempts := config.Import.SlugMaxAttempts
	for i := 0; i < maxAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}

		var count int64
		if err := s.db.Model(model).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return &PersistenceError{Entity: fmt.Sprintf("%T", model), Reason: err.Error()}
		}
		if count > 0 {
			continue
		}

		err := create(candidate)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return &PersistenceError{Entity: fmt.Sprintf("%T", model), Reason: err.Error()}
	}
	return &PersistenceError{
		Entity: fmt.Sprintf("%T", model),
		Reason: fmt.Sprintf("no unique slug for %q after %d attempts", base, maxAttempts),
	}
}

// isUniqueViolation checks if an error is a uniqueness-constraint failure
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

// mergeGenres unions the stored JSON tag array with incoming tags,
// deduplicated case-insensitively. First-seen casing wins; order carries no
// meaning.
func mergeGenres(existing string, incoming []string) string {
	var tags []string
	if existing != "" {
		_ = json.Unmarshal([]byte(existing), &tags)
	}

	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range incoming {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		tags = append(tags, t)
	}

	if len(tags) == 0 {
		return "[]"
	}
	out, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(out)
}

// statusRank orders show statuses for monotonic transition checks. Terminal
// and interrupted states rank above upcoming.
func statusRank(status string) int {
	switch status {
	case models.ShowStatusUpcoming:
		return 0
	case models.ShowStatusInProgress, models.ShowStatusCancelled, models.ShowStatusPostponed:
		return 1
	case models.ShowStatusCompleted:
		return 2
	default:
		return 0
	}
}
