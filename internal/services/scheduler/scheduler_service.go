// Package scheduler runs the optional cron-driven whole-library refresh.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
	"github.com/ternarybob/continuum/internal/services/refresh"
)

// RunState describes the last scheduled run for status reporting.
type RunState struct {
	Enabled   bool       `json:"enabled"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastBatch string     `json:"last_batch_id,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// Service triggers a whole-library batch refresh on a cron schedule.
// A cycle that fires while a batch is still running is skipped rather
// than queued, so a slow library never stacks up refresh work.
type Service struct {
	refresher *refresh.Service
	cron      *cron.Cron
	logger    arbor.ILogger
	schedule  string
	enabled   bool

	mu        sync.Mutex
	cronID    cron.EntryID
	running   bool
	lastRun   *time.Time
	lastBatch string
	lastError string
}

// NewService creates the scheduler. It does nothing until Start is
// called, and Start is a no-op unless the scheduler is enabled in
// configuration.
func NewService(cfg *common.Config, refresher *refresh.Service, logger arbor.ILogger) *Service {
	schedule := cfg.Scheduler.Schedule
	if schedule == "" {
		schedule = "0 6 * * 1-5"
	}
	return &Service{
		refresher: refresher,
		cron:      cron.New(),
		logger:    logger,
		schedule:  schedule,
		enabled:   cfg.Scheduler.Enabled,
	}
}

// Start registers the refresh cycle with cron and begins scheduling.
func (s *Service) Start() error {
	if !s.enabled {
		s.logger.Info().Msg("Scheduled refresh disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	id, err := s.cron.AddFunc(s.schedule, s.runCycle)
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", s.schedule, err)
	}
	s.cronID = id

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Msg("Scheduled refresh started")
	return nil
}

// Stop halts scheduling. Already-launched batch work keeps running;
// the refresh service owns its lifecycle.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Scheduled refresh stopped")
}

// IsRunning reports whether the scheduler is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerNow launches a library refresh immediately, outside the
// schedule. Returns the started batch snapshot.
func (s *Service) TriggerNow(ctx context.Context) (models.BatchSnapshot, error) {
	s.logger.Info().Msg("Manual library refresh trigger requested")
	snapshot, err := s.refresher.StartLibraryBatch(ctx)
	s.recordRun(snapshot, err)
	return snapshot, err
}

// State returns the scheduler's current run state.
func (s *Service) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := RunState{
		Enabled:   s.enabled,
		Schedule:  s.schedule,
		Running:   s.running,
		LastRun:   s.lastRun,
		LastBatch: s.lastBatch,
		LastError: s.lastError,
	}
	if s.running {
		entry := s.cron.Entry(s.cronID)
		if !entry.Next.IsZero() {
			next := entry.Next
			state.NextRun = &next
		}
	}
	return state
}

// runCycle fires on the cron schedule. Panics are contained so a bad
// cycle cannot take the scheduler down.
func (s *Service) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled refresh cycle")
		}
	}()

	if s.refresher.Batches().IsRunning() {
		s.logger.Warn().Msg("Skipping scheduled refresh cycle, previous batch still running")
		return
	}

	s.logger.Info().Msg("Starting scheduled library refresh")

	snapshot, err := s.refresher.StartLibraryBatch(context.Background())
	s.recordRun(snapshot, err)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled library refresh failed to start")
		return
	}

	s.logger.Info().
		Str("batch_id", snapshot.ID).
		Int("tickers", len(snapshot.Tickers)).
		Msg("Scheduled library refresh launched")
}

func (s *Service) recordRun(snapshot models.BatchSnapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.lastRun = &now
	if err != nil {
		s.lastError = err.Error()
		return
	}
	s.lastError = ""
	s.lastBatch = snapshot.ID
}
