package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// startMaintenance registers the periodic housekeeping jobs. Schedules use
// six-field cron expressions with a seconds column.
func (s *Scheduler) startMaintenance() error {
	c := cron.New(cron.WithSeconds())

	if expr := s.cfg.Maintenance.TempSweepSchedule; expr != "" {
		if _, err := c.AddFunc(expr, s.runTempSweep); err != nil {
			return err
		}
	}
	if expr := s.cfg.Maintenance.CachePruneSchedule; expr != "" {
		if _, err := c.AddFunc(expr, s.runCachePrune); err != nil {
			return err
		}
	}

	c.Start()
	s.cron = c
	return nil
}

// runTempSweep removes orphaned job scratch directories. Live means either a
// worker currently holds the job or the job row is still incomplete, so a
// queued job waiting for a slot never loses its workspace.
func (s *Scheduler) runTempSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	live := s.ActiveJobIDs()
	incomplete, err := s.jobs.ListIncompleteJobIDs(ctx)
	if err != nil {
		s.logger.Warn("temp sweep skipped, cannot list incomplete jobs", "error", err)
		return
	}
	for _, id := range incomplete {
		live[id] = struct{}{}
	}

	removed, err := s.workspace.SweepOrphanTempDirs(live, 0)
	if err != nil {
		s.logger.Warn("temp sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("temp sweep removed orphaned job directories", "removed", removed)
	}

	s.runJobRetention(ctx)
}

// runCachePrune trims the scene cache down to its configured size.
func (s *Scheduler) runCachePrune() {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := s.cache.Prune(ctx)
	if err != nil {
		s.logger.Warn("scene cache prune failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("scene cache pruned", "removed", removed)
	}
}

// runJobRetention deletes terminal jobs older than the retention window.
func (s *Scheduler) runJobRetention(ctx context.Context) {
	retention := s.cfg.Maintenance.JobRetention.Duration()
	if retention <= 0 {
		return
	}
	removed, err := s.jobs.DeleteFinishedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		s.logger.Warn("job retention cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("job retention removed finished jobs", "removed", removed)
	}
}
