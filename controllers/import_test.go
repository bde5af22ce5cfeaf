package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"encorely/models"
	"encorely/progress"
	"encorely/services"
	"encorely/setlistfm"
	"encorely/spotify"
	"encorely/ticketmaster"
	"encorely/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCatalog struct{}

func (stubCatalog) SearchArtists(_ context.Context, _ string, _ int) ([]spotify.Artist, error) {
	return []spotify.Artist{{ID: "sp-nova", Name: "Nova Ray"}}, nil
}

func (stubCatalog) GetArtist(_ context.Context, _ string) (*spotify.Artist, error) {
	return &spotify.Artist{ID: "sp-nova", Name: "Nova Ray"}, nil
}

func (stubCatalog) GetTopTracks(_ context.Context, _, _ string) ([]spotify.Track, error) {
	return []spotify.Track{{ID: "t-1", Name: "First Light"}}, nil
}

type stubEvents struct{}

func (stubEvents) SearchAttractions(_ context.Context, _ string) ([]ticketmaster.Attraction, error) {
	return nil, &upstream.NotFoundError{Service: "ticketmaster", Resource: "attractions"}
}

func (stubEvents) SearchEvents(_ context.Context, _ string, _, _ time.Time) ([]ticketmaster.Event, error) {
	return nil, &upstream.NotFoundError{Service: "ticketmaster", Resource: "events"}
}

type stubSetlists struct{}

func (stubSetlists) SearchArtist(_ context.Context, _ string) ([]setlistfm.ArtistMatch, error) {
	return nil, nil
}

func (stubSetlists) GetSetlists(_ context.Context, _ string, _ int) (*setlistfm.SetlistPage, error) {
	return &setlistfm.SetlistPage{}, nil
}

type testEnv struct {
	db     *gorm.DB
	bus    *progress.Bus
	router *gin.Engine
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Artist{}, &models.Venue{}, &models.Show{},
		&models.Song{}, &models.ImportLog{}, &models.ImportHistory{},
	))

	bus := progress.NewBus(time.Minute)
	importer := services.NewImporter(db, bus, stubCatalog{}, stubEvents{}, stubSetlists{})
	ic := NewImportController(db, bus, importer)

	r := gin.New()
	r.POST("/api/import/:artist/start", ic.StartImport)
	r.GET("/api/import/:artist/status", ic.GetStatus)
	r.GET("/api/import/:artist/stream", ic.StreamStatus)
	r.GET("/api/imports/history", ic.GetHistory)

	return &testEnv{db: db, bus: bus, router: r}
}

// seedRecentlySynced plants an artist inside the cooldown window so handlers
// that trigger imports leave the bus state alone.
func seedRecentlySynced(t *testing.T, db *gorm.DB, spotifyID string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, db.Create(&models.Artist{
		Name:         "Nova Ray",
		Slug:         "nova-ray",
		SpotifyID:    &spotifyID,
		LastSyncedAt: &now,
	}).Error)
}

func TestGetStatusUnknownArtist(t *testing.T) {
	env := setupEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/import/sp-nova/status", nil))

	assert.Equal(t, 404, w.Code)
}

func TestGetStatusReturnsSnapshot(t *testing.T) {
	env := setupEnv(t)

	require.True(t, env.bus.Begin("sp-nova"))
	env.bus.Report("sp-nova", progress.StageFetchingSongs, 40, "fetching top tracks", "")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/import/sp-nova/status", nil))

	require.Equal(t, 200, w.Code)
	var body progress.Update
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, progress.StageFetchingSongs, body.Stage)
	assert.Equal(t, 40, body.Progress)
}

func TestStartImportReportsDuplicate(t *testing.T) {
	env := setupEnv(t)

	require.True(t, env.bus.Begin("sp-nova"))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/import/sp-nova/start", nil))

	require.Equal(t, 200, w.Code)
	var body struct {
		Started bool   `json:"started"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Started)
	assert.Equal(t, "import already in progress", body.Reason)
}

func TestStartImportRespectsCooldown(t *testing.T) {
	env := setupEnv(t)
	seedRecentlySynced(t, env.db, "sp-nova")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/import/sp-nova/start", nil))

	require.Equal(t, 200, w.Code)
	var body struct {
		Started bool   `json:"started"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Started)
	assert.Equal(t, "recently synced", body.Reason)
}

func TestStartImportRunsPipeline(t *testing.T) {
	env := setupEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/import/sp-nova/start", nil))

	require.Equal(t, 200, w.Code)
	var body struct {
		Started bool `json:"started"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Started)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if u := env.bus.GetStatus("sp-nova"); u != nil && u.Stage.Terminal() {
			assert.Equal(t, progress.StageCompleted, u.Stage)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("import never completed")
}

func TestStreamReplaysTerminalStateAndCloses(t *testing.T) {
	env := setupEnv(t)
	seedRecentlySynced(t, env.db, "sp-nova")

	require.True(t, env.bus.Begin("sp-nova"))
	env.bus.Report("sp-nova", progress.StageCompleted, 100, "import complete: 1 songs added, 0 shows added", "")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/import/sp-nova/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	// The handler returns after the terminal snapshot, so the body is finite.
	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	require.Len(t, events, 1)
	assert.Contains(t, events[0], `"stage":"completed"`)
}

func TestStreamRelaysUpdatesUntilTerminal(t *testing.T) {
	env := setupEnv(t)
	seedRecentlySynced(t, env.db, "sp-nova")

	require.True(t, env.bus.Begin("sp-nova"))
	env.bus.Report("sp-nova", progress.StageResolvingArtist, 10, "resolving artist", "")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/import/sp-nova/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		env.bus.Report("sp-nova", progress.StagePersisting, 90, "persisting results", "")
		env.bus.Report("sp-nova", progress.StageFailed, 100, "upstream unavailable during persisting", "boom")
	}()

	var stages []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var u progress.Update
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &u))
		stages = append(stages, string(u.Stage))
	}

	require.NotEmpty(t, stages)
	assert.Equal(t, "resolving-artist", stages[0])
	assert.Equal(t, "failed", stages[len(stages)-1])
}

func TestGetHistory(t *testing.T) {
	env := setupEnv(t)

	require.NoError(t, env.db.Create(&models.ImportHistory{
		RunID:      "run-1",
		ArtistName: "Nova Ray",
		Status:     "completed",
		SongsAdded: 2,
		StartedAt:  time.Now().Add(-time.Minute),
	}).Error)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/imports/history", nil))

	require.Equal(t, 200, w.Code)
	var body struct {
		Count   int                    `json:"count"`
		History []models.ImportHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "Nova Ray", body.History[0].ArtistName)
}
