package services

import (
	"context"
	"time"

	"luma-backend/internal/database"
	"luma-backend/internal/indexcache"
	"luma-backend/internal/logger"
	"luma-backend/internal/scheduler"
)

// MaintenanceService holds the periodic housekeeping tasks.
type MaintenanceService struct {
	cache *indexcache.Cache
	jobs  database.JobStore
}

func NewMaintenanceService(cache *indexcache.Cache, jobs database.JobStore) *MaintenanceService {
	return &MaintenanceService{cache: cache, jobs: jobs}
}

// SweepStaleIndexes drops stale cache entries so memory follows live scopes.
func (m *MaintenanceService) SweepStaleIndexes(ctx context.Context) error {
	if n := m.cache.SweepStale(); n > 0 {
		logger.Info("Swept stale indexes", "removed", n)
	}
	return nil
}

func (m *MaintenanceService) LogCacheStats(ctx context.Context) error {
	st := m.cache.Stats()
	logger.Info("Index cache stats",
		"entries", st.Entries, "ready", st.Ready, "building", st.Building, "stale", st.Stale,
		"hits", st.Hits, "misses", st.Misses, "waits", st.Waits)
	return nil
}

// PurgeExpiredJobs removes job records past their expiry.
func (m *MaintenanceService) PurgeExpiredJobs(ctx context.Context) error {
	if m.jobs == nil {
		return nil
	}
	n, err := m.jobs.PurgeJobs(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("Purged expired jobs", "removed", n)
	}
	return nil
}

// Register schedules the cache tasks every sweep interval.
func (m *MaintenanceService) Register(s *scheduler.Scheduler, sweep time.Duration) error {
	if sweep <= 0 {
		sweep = 10 * time.Minute
	}
	if err := s.ScheduleInterval("index-stale-sweep", sweep, m.SweepStaleIndexes); err != nil {
		return err
	}
	return s.ScheduleInterval("index-cache-stats", 5*sweep, m.LogCacheStats)
}
