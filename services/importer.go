package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"encorely/config"
	"encorely/models"
	"encorely/progress"
	"encorely/setlistfm"
	"encorely/spotify"
	"encorely/ticketmaster"
	"encorely/upstream"
)

// CatalogClient is the subset of the catalog service used by the importer.
type CatalogClient interface {
	SearchArtists(ctx context.Context, query string, limit int) ([]spotify.Artist, error)
	GetArtist(ctx context.Context, id string) (*spotify.Artist, error)
	GetTopTracks(ctx context.Context, id, market string) ([]spotify.Track, error)
}

// EventsClient is the subset of the ticketing service used by the importer.
type EventsClient interface {
	SearchEvents(ctx context.Context, keyword string, from, to time.Time) ([]ticketmaster.Event, error)
	SearchAttractions(ctx context.Context, keyword string) ([]ticketmaster.Attraction, error)
}

// SetlistClient is the subset of the setlist service used by the importer.
type SetlistClient interface {
	SearchArtist(ctx context.Context, name string) ([]setlistfm.ArtistMatch, error)
	GetSetlists(ctx context.Context, mbid string, page int) (*setlistfm.SetlistPage, error)
}

// StartResult reports whether a trigger began a fresh pipeline run.
type StartResult struct {
	Started bool   `json:"started"`
	Reason  string `json:"reason,omitempty"`
	JobKey  string `json:"job_key"`
}

// Importer sequences the full import pipeline for one artist and drives the
// progress bus. It is the only component that knows stage order and the
// failure and retry policy.
type Importer struct {
	db       *gorm.DB
	bus      *progress.Bus
	upserts  *UpsertService
	catalog  CatalogClient
	events   EventsClient
	setlists SetlistClient
	logger   *log.Logger
}

// NewImporter creates a new Importer instance
func NewImporter(db *gorm.DB, bus *progress.Bus, catalog CatalogClient, events EventsClient, setlists SetlistClient) *Importer {
	return &Importer{
		db:       db,
		bus:      bus,
		upserts:  NewUpsertService(db),
		catalog:  catalog,
		events:   events,
		setlists: setlists,
		logger:   log.WithPrefix("importer"),
	}
}

// Start triggers an import for the given artist identifier. The identifier is
// an internal numeric artist ID or a catalog (Spotify) artist ID. A run
// already in flight for the same key is observed, not duplicated, and a
// recently synced artist is skipped unless force is set. The historical
// setlist stage only runs when asked for. The pipeline itself runs on its own
// goroutine; its lifetime is independent of the caller.
func (im *Importer) Start(identifier string, force, includeSetlists bool) StartResult {
	jobKey := identifier

	if im.bus.InFlight(jobKey) {
		return StartResult{Started: false, Reason: "import already in progress", JobKey: jobKey}
	}

	if artist := im.lookupArtist(identifier); artist != nil && artist.LastSyncedAt != nil && !force {
		if time.Since(*artist.LastSyncedAt) < config.Import.Cooldown {
			return StartResult{Started: false, Reason: "recently synced", JobKey: jobKey}
		}
	}

	if !im.bus.Begin(jobKey) {
		// Lost the race to a concurrent trigger.
		return StartResult{Started: false, Reason: "import already in progress", JobKey: jobKey}
	}

	go im.run(jobKey, identifier, includeSetlists)
	return StartResult{Started: true, JobKey: jobKey}
}

// lookupArtist resolves an identifier against existing rows without touching
// any upstream service. Returns nil when the artist is not yet known.
func (im *Importer) lookupArtist(identifier string) *models.Artist {
	var artist models.Artist

	if id, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		if err := im.db.First(&artist, uint(id)).Error; err == nil {
			return &artist
		}
		return nil
	}

	if err := im.db.Where("spotify_id = ?", identifier).First(&artist).Error; err == nil {
		return &artist
	}
	return nil
}

// run executes the pipeline stages in order, reporting progress at each
// boundary. Stage failures abort the remaining stages; writes already
// committed stay (a later re-import fills gaps).
func (im *Importer) run(jobKey, identifier string, includeSetlists bool) {
	runID := uuid.NewString()
	startedAt := time.Now()
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			im.logger.Error("panic in import pipeline", "job", jobKey, "panic", r)
			im.fail(jobKey, runID, nil, startedAt, progress.StageFailed, fmt.Errorf("internal error: %v", r))
		}
	}()

	im.bus.Report(jobKey, progress.StageResolvingArtist, 10, "resolving artist", "")

	spotifyArtist, err := im.resolveCatalogArtist(ctx, identifier)
	if err != nil {
		im.fail(jobKey, runID, nil, startedAt, progress.StageResolvingArtist, err)
		return
	}

	spotifyID := spotifyArtist.ID
	artist, err := im.upserts.UpsertArtist(ArtistData{
		Name:      spotifyArtist.Name,
		SpotifyID: &spotifyID,
	})
	if err != nil {
		im.fail(jobKey, runID, nil, startedAt, progress.StageResolvingArtist, err)
		return
	}
	im.logger.Info("resolved artist", "job", jobKey, "artist", artist.Name, "id", artist.ID)

	im.bus.Report(jobKey, progress.StageFetchingCatalog, 25, "fetching catalog metadata", "")

	catalogData, err := im.fetchCatalog(ctx, spotifyID)
	if err != nil {
		im.fail(jobKey, runID, artist, startedAt, progress.StageFetchingCatalog, err)
		return
	}

	im.bus.Report(jobKey, progress.StageFetchingSongs, 40, "fetching top tracks", "")

	songs, err := im.fetchSongs(ctx, spotifyID)
	if err != nil {
		im.fail(jobKey, runID, artist, startedAt, progress.StageFetchingSongs, err)
		return
	}

	im.bus.Report(jobKey, progress.StageFetchingShows, 60, "fetching upcoming shows", "")

	shows, tmID, tmGenres, err := im.fetchShows(ctx, artist.Name)
	if err != nil {
		im.fail(jobKey, runID, artist, startedAt, progress.StageFetchingShows, err)
		return
	}
	if tmID != "" {
		catalogData.TicketmasterID = &tmID
	}
	catalogData.Genres = append(catalogData.Genres, tmGenres...)

	setlistsSeen := 0
	if includeSetlists {
		im.bus.Report(jobKey, progress.StageFetchingSetlists, 75, "fetching historical setlists", "")

		mbid, seen, err := im.fetchSetlists(ctx, artist.Name)
		if err != nil {
			im.fail(jobKey, runID, artist, startedAt, progress.StageFetchingSetlists, err)
			return
		}
		setlistsSeen = seen
		if mbid != "" {
			catalogData.SetlistfmMBID = &mbid
		}
	}

	im.bus.Report(jobKey, progress.StagePersisting, 90, "persisting results", "")

	catalogData.SpotifyID = &spotifyID
	artist, err = im.upserts.UpsertArtist(*catalogData)
	if err != nil {
		im.fail(jobKey, runID, artist, startedAt, progress.StagePersisting, err)
		return
	}

	songsAdded, err := im.upserts.UpsertSongs(artist.ID, songs)
	if err != nil {
		im.fail(jobKey, runID, artist, startedAt, progress.StagePersisting, err)
		return
	}

	showsAdded := 0
	for _, ev := range shows {
		var venueID *uint
		if ev.Venue != nil {
			venue, err := im.upserts.UpsertVenue(*ev.Venue)
			if err != nil {
				im.fail(jobKey, runID, artist, startedAt, progress.StagePersisting, err)
				return
			}
			venueID = &venue.ID
		}
		_, created, err := im.upserts.UpsertShow(ev.Show, artist.ID, venueID)
		if err != nil {
			im.fail(jobKey, runID, artist, startedAt, progress.StagePersisting, err)
			return
		}
		if created {
			showsAdded++
		}
	}

	completedAt := time.Now()
	im.db.Create(&models.ImportHistory{
		RunID:        runID,
		ArtistID:     artist.ID,
		ArtistName:   artist.Name,
		Status:       "completed",
		SongsAdded:   songsAdded,
		ShowsAdded:   showsAdded,
		SetlistsSeen: setlistsSeen,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		DurationSecs: int(completedAt.Sub(startedAt).Seconds()),
	})

	msg := fmt.Sprintf("import complete: %d songs added, %d shows added", songsAdded, showsAdded)
	im.bus.Report(jobKey, progress.StageCompleted, 100, msg, "")
	im.logger.Info("import complete", "job", jobKey, "songs", songsAdded, "shows", showsAdded, "setlists", setlistsSeen)
}

// resolveCatalogArtist turns the trigger identifier into a catalog artist,
// searching by name when the identifier matches a locally known artist
// without a catalog ID yet.
func (im *Importer) resolveCatalogArtist(ctx context.Context, identifier string) (*spotify.Artist, error) {
	retries := config.Import.FetchRetries

	if local := im.lookupArtist(identifier); local != nil {
		if local.SpotifyID != nil && *local.SpotifyID != "" {
			var artist *spotify.Artist
			err := upstream.Retry(ctx, retries, func() error {
				var e error
				artist, e = im.catalog.GetArtist(ctx, *local.SpotifyID)
				return e
			})
			return artist, err
		}

		var matches []spotify.Artist
		err := upstream.Retry(ctx, retries, func() error {
			var e error
			matches, e = im.catalog.SearchArtists(ctx, local.Name, 1)
			return e
		})
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, &upstream.NotFoundError{Service: "spotify", Resource: fmt.Sprintf("artist %q", local.Name)}
		}
		return &matches[0], nil
	}

	// Unknown locally: treat the identifier as a catalog artist ID.
	var artist *spotify.Artist
	err := upstream.Retry(ctx, retries, func() error {
		var e error
		artist, e = im.catalog.GetArtist(ctx, identifier)
		return e
	})
	return artist, err
}

// fetchCatalog collects the artist's catalog metadata into an upsert payload.
func (im *Importer) fetchCatalog(ctx context.Context, spotifyID string) (*ArtistData, error) {
	var artist *spotify.Artist
	err := upstream.Retry(ctx, config.Import.FetchRetries, func() error {
		var e error
		artist, e = im.catalog.GetArtist(ctx, spotifyID)
		return e
	})
	if err != nil {
		return nil, err
	}

	pop := artist.Popularity
	followers := artist.Followers.Total
	data := &ArtistData{
		Name:       artist.Name,
		Genres:     artist.Genres,
		Popularity: &pop,
		Followers:  &followers,
	}
	if len(artist.Images) > 0 {
		data.ImageURL = artist.Images[0].URL
		data.SmallImageURL = artist.Images[len(artist.Images)-1].URL
	}
	return data, nil
}

func (im *Importer) fetchSongs(ctx context.Context, spotifyID string) ([]SongData, error) {
	var tracks []spotify.Track
	err := upstream.Retry(ctx, config.Import.FetchRetries, func() error {
		var e error
		tracks, e = im.catalog.GetTopTracks(ctx, spotifyID, "US")
		return e
	})
	if err != nil {
		if upstream.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	songs := make([]SongData, 0, len(tracks))
	for _, t := range tracks {
		song := SongData{
			SpotifyID:   t.ID,
			Title:       t.Name,
			Album:       t.Album.Name,
			DurationMS:  t.DurationMS,
			Popularity:  t.Popularity,
			Explicit:    t.Explicit,
			TrackNumber: t.TrackNumber,
		}
		if len(t.Album.Images) > 0 {
			song.ArtworkURL = t.Album.Images[0].URL
		}
		songs = append(songs, song)
	}
	return songs, nil
}

// showImport pairs a normalized show payload with its venue, when the event
// carried one.
type showImport struct {
	Show  ShowData
	Venue *VenueData
}

// fetchShows gathers upcoming events and the artist's ticketing-side identity.
// A ticketing service that knows nothing about the artist yields zero shows,
// not a failure.
func (im *Importer) fetchShows(ctx context.Context, artistName string) ([]showImport, string, []string, error) {
	retries := config.Import.FetchRetries

	var attractions []ticketmaster.Attraction
	err := upstream.Retry(ctx, retries, func() error {
		var e error
		attractions, e = im.events.SearchAttractions(ctx, artistName)
		return e
	})
	if err != nil && !upstream.IsNotFound(err) {
		return nil, "", nil, err
	}

	tmID := ""
	var tmGenres []string
	if len(attractions) > 0 {
		tmID = attractions[0].ID
		tmGenres = attractions[0].Genres
	}

	var events []ticketmaster.Event
	err = upstream.Retry(ctx, retries, func() error {
		var e error
		events, e = im.events.SearchEvents(ctx, artistName, time.Now(), time.Now().Add(config.Import.EventLookahead))
		return e
	})
	if err != nil {
		if upstream.IsNotFound(err) {
			return nil, tmID, tmGenres, nil
		}
		return nil, tmID, tmGenres, err
	}

	shows := make([]showImport, 0, len(events))
	for _, ev := range events {
		evID := ev.ID
		item := showImport{
			Show: ShowData{
				TicketmasterID: &evID,
				Name:           ev.Name,
				Date:           ev.Date,
				DoorTime:       ev.DoorTime,
				Status:         mapEventStatus(ev.Status),
				TicketURL:      ev.URL,
				MinPrice:       ev.MinPrice,
				MaxPrice:       ev.MaxPrice,
				Currency:       ev.Currency,
			},
		}
		if ev.Venue != nil {
			venueID := ev.Venue.ID
			item.Venue = &VenueData{
				TicketmasterID: &venueID,
				Name:           ev.Venue.Name,
				Street:         ev.Venue.Street,
				City:           ev.Venue.City,
				State:          ev.Venue.State,
				Country:        ev.Venue.Country,
				PostalCode:     ev.Venue.PostalCode,
				Latitude:       ev.Venue.Latitude,
				Longitude:      ev.Venue.Longitude,
				Capacity:       ev.Venue.Capacity,
			}
		}
		shows = append(shows, item)
	}
	return shows, tmID, tmGenres, nil
}

// fetchSetlists resolves the artist on the setlist service and counts the
// historical setlists available. The stage is optional: an artist unknown to
// the service degrades to an empty result.
func (im *Importer) fetchSetlists(ctx context.Context, artistName string) (string, int, error) {
	retries := config.Import.FetchRetries

	var matches []setlistfm.ArtistMatch
	err := upstream.Retry(ctx, retries, func() error {
		var e error
		matches, e = im.setlists.SearchArtist(ctx, artistName)
		return e
	})
	if err != nil {
		if upstream.IsNotFound(err) {
			return "", 0, nil
		}
		return "", 0, err
	}
	if len(matches) == 0 {
		return "", 0, nil
	}

	mbid := matches[0].MBID
	var page *setlistfm.SetlistPage
	err = upstream.Retry(ctx, retries, func() error {
		var e error
		page, e = im.setlists.GetSetlists(ctx, mbid, 1)
		return e
	})
	if err != nil {
		if upstream.IsNotFound(err) {
			return mbid, 0, nil
		}
		return "", 0, err
	}
	return mbid, page.Total, nil
}

// fail records the stage failure, emits the terminal failed event and writes
// the run's history row. Later stages do not run.
func (im *Importer) fail(jobKey, runID string, artist *models.Artist, startedAt time.Time, stage progress.Stage, err error) {
	im.logger.Error("import failed", "job", jobKey, "stage", string(stage), "err", err)

	var artistID uint
	artistName := ""
	if artist != nil {
		artistID = artist.ID
		artistName = artist.Name
	}

	im.db.Create(&models.ImportLog{
		RunID:    runID,
		ArtistID: artistID,
		Stage:    string(stage),
		ErrorMsg: err.Error(),
	})

	completedAt := time.Now()
	im.db.Create(&models.ImportHistory{
		RunID:        runID,
		ArtistID:     artistID,
		ArtistName:   artistName,
		Status:       "failed",
		ErrorMsg:     err.Error(),
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		DurationSecs: int(completedAt.Sub(startedAt).Seconds()),
	})

	im.bus.Report(jobKey, progress.StageFailed, 100, failureMessage(stage, err), err.Error())
}

// failureMessage builds the human-readable part of a failure report.
func failureMessage(stage progress.Stage, err error) string {
	switch {
	case upstream.IsAuth(err):
		return fmt.Sprintf("upstream authentication failed during %s", stage)
	case upstream.IsRateLimited(err):
		return fmt.Sprintf("upstream rate limit exhausted during %s", stage)
	case upstream.IsUnavailable(err):
		return fmt.Sprintf("upstream unavailable during %s", stage)
	case upstream.IsNotFound(err):
		return fmt.Sprintf("artist not found during %s", stage)
	default:
		var pe *PersistenceError
		if errors.As(err, &pe) {
			return fmt.Sprintf("could not save %s during %s", pe.Entity, stage)
		}
		return fmt.Sprintf("import failed during %s", stage)
	}
}

// mapEventStatus maps Discovery API status codes onto show lifecycle states.
func mapEventStatus(code string) string {
	switch code {
	case "cancelled", "canceled":
		return models.ShowStatusCancelled
	case "postponed", "rescheduled":
		return models.ShowStatusPostponed
	default:
		return models.ShowStatusUpcoming
	}
}
