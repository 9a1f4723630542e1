// Package scheduler runs recurring maintenance jobs for audioplayersd:
// periodic session inventory logging and pruning of stale preference rows.
// Schedules use 6-field cron expressions (seconds included).
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gnus-inc/audioplayers/internal/config"
	"github.com/gnus-inc/audioplayers/internal/player"
)

// PrefsPruner removes stale preference rows.
type PrefsPruner interface {
	PruneStale(olderThan time.Duration) (int64, error)
}

// Scheduler owns the cron runner and the registered maintenance jobs.
type Scheduler struct {
	cfg      config.MaintenanceConfig
	registry *player.Registry
	pruner   PrefsPruner
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a scheduler. pruner may be nil when no preference store is
// configured; the pruning job is then skipped.
func New(cfg config.MaintenanceConfig, registry *player.Registry, pruner PrefsPruner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		pruner:   pruner,
		logger:   logger.With(slog.String("component", "scheduler")),
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.InventoryCron, s.logInventory); err != nil {
		return err
	}
	if s.pruner != nil {
		if _, err := s.cron.AddFunc(s.cfg.PrefsPruneCron, s.prunePrefs); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		slog.String("inventory_cron", s.cfg.InventoryCron),
		slog.String("prefs_prune_cron", s.cfg.PrefsPruneCron))
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance scheduler stopped")
}

// logInventory writes a session inventory snapshot to the log.
func (s *Scheduler) logInventory() {
	stats := s.registry.Stats()
	attrs := []any{
		slog.Int("sessions", stats.Sessions),
		slog.Int("playing", stats.Playing),
	}
	for state, n := range stats.ByState {
		attrs = append(attrs, slog.Int("state_"+state, n))
	}
	s.logger.Info("session inventory", attrs...)
}

// prunePrefs removes preference rows past the retention window.
func (s *Scheduler) prunePrefs() {
	removed, err := s.pruner.PruneStale(s.cfg.PrefsRetention)
	if err != nil {
		s.logger.Error("pruning stale preferences", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		s.logger.Info("pruned stale preferences", slog.Int64("removed", removed))
	}
}
