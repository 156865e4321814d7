// Package refresh implements the four-stage research update pipeline:
// data gathering, specialist analysis, hypothesis synthesis, and result
// writing, with per-ticker and batch job tracking.
package refresh

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// ErrRefreshInFlight is returned when a refresh is requested for a
// ticker that already has one running.
var ErrRefreshInFlight = fmt.Errorf("refresh already in progress")

// ErrNoDocument is returned when a refresh is requested for a ticker
// with no baseline research document.
var ErrNoDocument = fmt.Errorf("no research document")

// JobStore tracks the latest refresh job per ticker. One job per ticker:
// starting a new refresh for a ticker replaces its previous terminal
// job, and is rejected while a non-terminal job exists. All reads see
// whole published snapshots, never a half-updated job.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]models.JobSnapshot
	results map[string]models.Document
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]models.JobSnapshot),
		results: make(map[string]models.Document),
	}
}

// TryStart registers a new job for the ticker. Returns
// ErrRefreshInFlight if a non-terminal job already exists.
func (s *JobStore) TryStart(ticker string) (*models.RefreshJob, error) {
	code := common.CanonicalCode(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[code]; ok && !existing.IsTerminal() {
		return nil, fmt.Errorf("%w for %s", ErrRefreshInFlight, code)
	}

	job := models.NewRefreshJob(code)
	s.jobs[code] = job.Snapshot()
	delete(s.results, code)
	return job, nil
}

// Publish stores a consistent snapshot of the job, making it visible to
// pollers.
func (s *JobStore) Publish(job *models.RefreshJob) {
	snap := job.Snapshot()
	s.mu.Lock()
	s.jobs[snap.Ticker] = snap
	if job.Result != nil {
		s.results[snap.Ticker] = job.Result
	}
	s.mu.Unlock()
}

// Get returns the latest snapshot for a ticker.
func (s *JobStore) Get(ticker string) (models.JobSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.jobs[common.CanonicalCode(ticker)]
	return snap, ok
}

// Result returns the completed refresh result for a ticker, if held in
// memory.
func (s *JobStore) Result(ticker string) (models.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.results[common.CanonicalCode(ticker)]
	return doc, ok
}

// IsRunning reports whether a non-terminal job exists for the ticker.
func (s *JobStore) IsRunning(ticker string) bool {
	snap, ok := s.Get(ticker)
	return ok && !snap.IsTerminal()
}

// AnyRunning reports whether any ticker has a non-terminal job.
func (s *JobStore) AnyRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.jobs {
		if !snap.IsTerminal() {
			return true
		}
	}
	return false
}

// BatchStore tracks batch refresh runs by batch ID.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]*models.BatchRefreshJob
}

// NewBatchStore creates an empty batch store.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches: make(map[string]*models.BatchRefreshJob),
	}
}

// TryStart registers a new batch over the tickers. Only one batch may be
// running at a time.
func (s *BatchStore) TryStart(tickers []string) (*models.BatchRefreshJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range s.batches {
		if !batch.IsTerminal() {
			return nil, fmt.Errorf("%w: batch %s", ErrRefreshInFlight, batch.ID)
		}
	}

	canonical := make([]string, 0, len(tickers))
	for _, t := range tickers {
		canonical = append(canonical, common.CanonicalCode(t))
	}

	batch := models.NewBatchRefreshJob(canonical)
	batch.Status = models.BatchInProgress
	s.batches[batch.ID] = batch
	return batch, nil
}

// PublishTicker updates the per-ticker snapshot within a batch and
// re-derives the batch status from it.
func (s *BatchStore) PublishTicker(batchID string, snap models.JobSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return
	}
	batch.PerTicker[snap.Ticker] = snap
}

// Finalize derives and stores the terminal batch status once every
// ticker has finished.
func (s *BatchStore) Finalize(batchID string) models.BatchSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return models.BatchSnapshot{}
	}
	now := nowUTC()
	batch.CompletedAt = &now
	batch.Status = batch.DeriveStatus()
	return batch.Snapshot()
}

// Get returns a consistent snapshot of a batch by ID.
func (s *BatchStore) Get(batchID string) (models.BatchSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return models.BatchSnapshot{}, false
	}
	return s.snapshotLocked(batch), true
}

// Latest returns the most recently started batch.
func (s *BatchStore) Latest() (models.BatchSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.BatchRefreshJob
	for _, batch := range s.batches {
		if latest == nil || batch.StartedAt.After(latest.StartedAt) {
			latest = batch
		}
	}
	if latest == nil {
		return models.BatchSnapshot{}, false
	}
	return s.snapshotLocked(latest), true
}

// IsRunning reports whether any batch is still in flight.
func (s *BatchStore) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, batch := range s.batches {
		if !batch.IsTerminal() {
			return true
		}
	}
	return false
}

// snapshotLocked copies the batch under the lock so a poller always
// sees counts consistent with per-ticker state. Caller holds at least
// the read lock.
func (s *BatchStore) snapshotLocked(batch *models.BatchRefreshJob) models.BatchSnapshot {
	return batch.Snapshot()
}
