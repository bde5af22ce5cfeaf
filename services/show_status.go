package services

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"encorely/models"
)

// showDuration is how long a show is considered in progress after its
// scheduled start before the sweep marks it completed.
const showDuration = 4 * time.Hour

// StatusSweeper re-evaluates show lifecycle status on a timer. The import
// pipeline never advances status by time; this sweep is the single owner of
// time-driven transitions, and they only ever move forward (upcoming →
// in_progress → completed). Cancelled and postponed shows are left alone.
type StatusSweeper struct {
	db       *gorm.DB
	interval time.Duration
	logger   *log.Logger
}

// NewStatusSweeper creates a new StatusSweeper instance
func NewStatusSweeper(db *gorm.DB, interval time.Duration) *StatusSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StatusSweeper{
		db:       db,
		interval: interval,
		logger:   log.WithPrefix("sweeper"),
	}
}

// Run loops until the context is cancelled. Meant to be started with `go`
// from main.
func (s *StatusSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep applies both transitions for the given instant.
func (s *StatusSweeper) Sweep(now time.Time) {
	started := s.db.Model(&models.Show{}).
		Where("status = ? AND date <= ?", models.ShowStatusUpcoming, now).
		Update("status", models.ShowStatusInProgress)
	if started.Error != nil {
		s.logger.Error("failed to mark shows in progress", "err", started.Error)
	}

	finished := s.db.Model(&models.Show{}).
		Where("status = ? AND date <= ?", models.ShowStatusInProgress, now.Add(-showDuration)).
		Update("status", models.ShowStatusCompleted)
	if finished.Error != nil {
		s.logger.Error("failed to mark shows completed", "err", finished.Error)
	}

	if started.RowsAffected > 0 || finished.RowsAffected > 0 {
		s.logger.Info("show status sweep", "started", started.RowsAffected, "completed", finished.RowsAffected)
	}
}
