// Package status tracks coarse application state for the status endpoint.
package status

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// AppState represents the application state
type AppState string

const (
	StateIdle       AppState = "idle"
	StateRefreshing AppState = "refreshing"
)

// Service aggregates uptime and refresh activity counters. The refresh
// pipeline reports outcomes here; handlers read the combined view.
type Service struct {
	mu        sync.RWMutex
	logger    arbor.ILogger
	startedAt time.Time
	state     AppState

	refreshesStarted   int
	refreshesCompleted int
	refreshesFailed    int
	lastRefreshAt      *time.Time
	lastRefreshTicker  string
}

// NewService creates a status service with uptime starting now.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger:    logger,
		startedAt: time.Now().UTC(),
		state:     StateIdle,
	}
}

// RecordStart notes that a refresh began for a ticker.
func (s *Service) RecordStart(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshesStarted++
	s.state = StateRefreshing
	s.lastRefreshTicker = ticker
}

// RecordOutcome notes a finished refresh. idle marks whether any
// refresh work remains in flight.
func (s *Service) RecordOutcome(ticker string, failed bool, idle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if failed {
		s.refreshesFailed++
	} else {
		s.refreshesCompleted++
	}
	now := time.Now().UTC()
	s.lastRefreshAt = &now
	s.lastRefreshTicker = ticker
	if idle {
		s.state = StateIdle
	}
}

// GetState returns the current application state.
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetStatus returns the full status payload for the status endpoint.
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload := map[string]interface{}{
		"state":               string(s.state),
		"started_at":          s.startedAt.Format(time.RFC3339),
		"uptime_seconds":      int(time.Since(s.startedAt).Seconds()),
		"refreshes_started":   s.refreshesStarted,
		"refreshes_completed": s.refreshesCompleted,
		"refreshes_failed":    s.refreshesFailed,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}
	if s.lastRefreshAt != nil {
		payload["last_refresh_at"] = s.lastRefreshAt.Format(time.RFC3339)
		payload["last_refresh_ticker"] = s.lastRefreshTicker
	}
	return payload
}
