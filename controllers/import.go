package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"encorely/models"
	"encorely/progress"
	"encorely/services"
	"encorely/utils"
)

// ImportController exposes the artist import pipeline over HTTP: trigger,
// point-in-time status, live SSE stream and run history.
type ImportController struct {
	db       *gorm.DB
	bus      *progress.Bus
	importer *services.Importer
}

// NewImportController creates a new ImportController instance
func NewImportController(db *gorm.DB, bus *progress.Bus, importer *services.Importer) *ImportController {
	return &ImportController{db: db, bus: bus, importer: importer}
}

// StartImport triggers an import for the artist in the path. A run already in
// flight, or an artist synced within the cooldown window, is not duplicated;
// the response says whether a fresh run began.
func (c *ImportController) StartImport(ctx *gin.Context) {
	identifier := ctx.Param("artist")
	if identifier == "" {
		utils.BadRequest(ctx, "missing artist identifier")
		return
	}

	var input struct {
		Force    bool `json:"force"`
		Setlists bool `json:"setlists"`
	}
	if err := ctx.ShouldBindJSON(&input); err != nil {
		input.Force = false
		input.Setlists = false
	}

	result := c.importer.Start(identifier, input.Force, input.Setlists)

	status := c.bus.GetStatus(identifier)
	ctx.JSON(200, gin.H{
		"started": result.Started,
		"reason":  result.Reason,
		"job_key": result.JobKey,
		"status":  c.sanitize(status),
	})
}

// GetStatus is the polling fallback: one point-in-time snapshot with the same
// payload shape as one stream event.
func (c *ImportController) GetStatus(ctx *gin.Context) {
	identifier := ctx.Param("artist")

	status := c.bus.GetStatus(identifier)
	if status == nil {
		utils.NotFound(ctx, "no import state for this artist")
		return
	}

	ctx.JSON(200, c.sanitize(status))
}

// StreamStatus serves a live event stream of one job's progress. The current
// snapshot (or a synthetic initializing event) is emitted immediately, every
// later report is relayed, and the stream closes on a terminal stage or
// client disconnect. Disconnecting does not cancel the underlying import.
// Connecting may itself start the import when none is running.
func (c *ImportController) StreamStatus(ctx *gin.Context) {
	identifier := ctx.Param("artist")
	if identifier == "" {
		utils.BadRequest(ctx, "missing artist identifier")
		return
	}

	// Fire and forget relative to this stream's lifecycle.
	c.importer.Start(identifier, false, ctx.Query("setlists") == "true")

	// Subscribe before reading the snapshot, so nothing reported between the
	// two is lost.
	events, cancel := c.bus.Subscribe(identifier)
	defer cancel()

	snapshot := c.bus.GetStatus(identifier)
	if snapshot == nil {
		snapshot = &progress.Update{
			JobKey:  identifier,
			Stage:   progress.StageInitializing,
			Message: "import queued",
		}
	}

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")

	ctx.SSEvent("status", c.sanitize(snapshot))
	ctx.Writer.Flush()
	if snapshot.Stage.Terminal() {
		return
	}

	lastOrder := snapshot.Stage.Order()
	clientGone := ctx.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return
		case u, ok := <-events:
			if !ok {
				return
			}
			// The snapshot may already be ahead of a buffered update.
			if u.Stage.Order() < lastOrder {
				continue
			}
			lastOrder = u.Stage.Order()

			ctx.SSEvent("status", c.sanitize(&u))
			ctx.Writer.Flush()
			if u.Stage.Terminal() {
				return
			}
		}
	}
}

// GetHistory returns the most recent import runs, newest first.
func (c *ImportController) GetHistory(ctx *gin.Context) {
	var history []models.ImportHistory
	result := c.db.Order("started_at DESC").Limit(50).Find(&history)
	if result.Error != nil {
		utils.InternalError(ctx, "failed to fetch import history")
		return
	}

	ctx.JSON(200, gin.H{
		"history": history,
		"count":   len(history),
	})
}

// sanitize strips internal error detail from responses in release mode; the
// stage name and human-readable message always survive.
func (c *ImportController) sanitize(u *progress.Update) *progress.Update {
	if u == nil {
		return nil
	}
	if gin.Mode() == gin.ReleaseMode && u.Error != "" {
		v := *u
		v.Error = ""
		return &v
	}
	return u
}
