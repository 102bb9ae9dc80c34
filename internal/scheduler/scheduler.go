package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobType represents the maintenance jobs the scheduler runs
type JobType int

const (
	JobTypePurge JobType = iota
	JobTypeGeocode
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypePurge:
		return "purge"
	case JobTypeGeocode:
		return "geocode"
	default:
		return "unknown"
	}
}

// Purger removes persisted cache entries that expired before now.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Backfiller fills in missing coordinates on imported sales.
type Backfiller interface {
	BackfillCoordinates(ctx context.Context) error
}

type Options struct {
	PurgeSpec   string
	GeocodeSpec string // empty disables the geocode job
	JobTimeout  time.Duration
	RunOnStart  bool
}

// Scheduler runs periodic maintenance jobs, one at a time.
type Scheduler struct {
	cron       *cron.Cron
	purger     Purger
	backfiller Backfiller
	opts       Options
	logger     *logrus.Logger
	jobMutex   sync.Mutex // Ensures sequential job execution
	wg         sync.WaitGroup
	isRunning  bool
	now        func() time.Time
}

// NewScheduler creates a new scheduler. backfiller may be nil.
func NewScheduler(purger Purger, backfiller Backfiller, opts Options, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if opts.PurgeSpec == "" {
		opts.PurgeSpec = "@every 1h"
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}

	return &Scheduler{
		cron:       cron.New(),
		purger:     purger,
		backfiller: backfiller,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.PurgeSpec, func() { s.RunJob(JobTypePurge) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", s.opts.PurgeSpec, err)
	}
	if s.opts.GeocodeSpec != "" && s.backfiller != nil {
		if _, err := s.cron.AddFunc(s.opts.GeocodeSpec, func() { s.RunJob(JobTypeGeocode) }); err != nil {
			return fmt.Errorf("invalid geocode schedule %q: %w", s.opts.GeocodeSpec, err)
		}
	}

	if s.opts.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunJob(JobTypePurge)
		}()
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithFields(logrus.Fields{
		"purge":   s.opts.PurgeSpec,
		"geocode": s.opts.GeocodeSpec,
	}).Info("Scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if !s.isRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Scheduler stopped")
}

// RunJob executes one job now, waiting for any job already running.
func (s *Scheduler) RunJob(job JobType) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()

	start := s.now()
	log := s.logger.WithField("job", job.String())

	switch job {
	case JobTypePurge:
		if s.purger == nil {
			return
		}
		n, err := s.purger.PurgeExpired(ctx, start)
		if err != nil {
			log.WithError(err).Error("Failed to purge expired cache entries")
			return
		}
		log.WithField("purged", n).Info("Purged expired cache entries")
	case JobTypeGeocode:
		if s.backfiller == nil {
			return
		}
		if err := s.backfiller.BackfillCoordinates(ctx); err != nil {
			log.WithError(err).Error("Failed to backfill sale coordinates")
			return
		}
		log.WithField("duration", time.Since(start).String()).Info("Backfilled sale coordinates")
	default:
		log.Warn("Unknown job type")
	}
}
