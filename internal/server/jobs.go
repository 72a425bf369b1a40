package server

import (
	"context"
	"fmt"
	"time"
)

const (
	healthCheckTimeout = 5 * time.Second
	limiterMaxIdle     = 10 * time.Minute
)

// scheduleJobs registers the background jobs. Empty schedules disable a job.
func (s *Server) scheduleJobs() error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"store_health", s.cfg.HealthCheckSchedule, s.checkStore},
		{"limiter_cleanup", s.cfg.LimiterCleanup, s.cleanupLimiters},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		job := job
		if _, err := s.jobs.AddFunc(job.schedule, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.name, job.schedule, err)
		}
	}
	return nil
}

func (s *Server) runJob(name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(context.Background())
	s.metrics.RecordJobRun(name, time.Since(start), err == nil)
	if err != nil {
		s.logger.WithError(err).WithField("job", name).Warn("background job failed")
	}
}

// checkStore checks the store and publishes the result as the kv up gauge.
func (s *Server) checkStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	err := s.store.Health(ctx)
	s.metrics.SetStoreUp(err == nil)
	return err
}

func (s *Server) cleanupLimiters(context.Context) error {
	if removed := s.limiter.Cleanup(limiterMaxIdle); removed > 0 {
		s.logger.WithField("removed", removed).Debug("dropped idle rate limiters")
	}
	return nil
}
