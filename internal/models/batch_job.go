// -----------------------------------------------------------------------
// Last Modified: Friday, 29th August 2026
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle state of a whole-library refresh run.
type BatchStatus string

const (
	BatchQueued          BatchStatus = "queued"
	BatchInProgress      BatchStatus = "in_progress"
	BatchCompleted       BatchStatus = "completed"
	BatchFailed          BatchStatus = "failed"
	BatchPartiallyFailed BatchStatus = "partially_failed"
)

// BatchRefreshJob tracks a refresh run across a set of tickers. PerTicker
// holds the latest published snapshot for every ticker in the run; every
// ticker is present from creation, starting as queued.
type BatchRefreshJob struct {
	ID          string                 `json:"batch_id"`
	Tickers     []string               `json:"tickers"`
	Status      BatchStatus            `json:"status"`
	PerTicker   map[string]JobSnapshot `json:"-"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// NewBatchRefreshJob creates a batch over the given tickers with every
// per-ticker entry initialised to queued.
func NewBatchRefreshJob(tickers []string) *BatchRefreshJob {
	per := make(map[string]JobSnapshot, len(tickers))
	for _, t := range tickers {
		per[t] = QueuedSnapshot(t)
	}
	return &BatchRefreshJob{
		ID:        uuid.New().String(),
		Tickers:   append([]string(nil), tickers...),
		Status:    BatchQueued,
		PerTicker: per,
		StartedAt: time.Now().UTC(),
	}
}

// BatchCounts are the derived per-ticker tallies. Queued + InProgress +
// Completed + Failed always equals the number of tickers in the batch.
type BatchCounts struct {
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Counts derives the tally from the per-ticker snapshots.
func (b *BatchRefreshJob) Counts() BatchCounts {
	var c BatchCounts
	for _, snap := range b.PerTicker {
		switch snap.Status {
		case StatusQueued:
			c.Queued++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		default:
			c.InProgress++
		}
	}
	return c
}

// DeriveStatus computes the batch status from the per-ticker snapshots.
// The batch is terminal only once every ticker is terminal.
func (b *BatchRefreshJob) DeriveStatus() BatchStatus {
	c := b.Counts()
	total := len(b.Tickers)
	switch {
	case total == 0:
		return BatchCompleted
	case c.Queued == total:
		return BatchQueued
	case c.Completed+c.Failed < total:
		return BatchInProgress
	case c.Failed == 0:
		return BatchCompleted
	case c.Completed == 0:
		return BatchFailed
	default:
		return BatchPartiallyFailed
	}
}

// IsTerminal reports whether the batch has finished.
func (b *BatchRefreshJob) IsTerminal() bool {
	switch b.Status {
	case BatchCompleted, BatchFailed, BatchPartiallyFailed:
		return true
	}
	return false
}

// BatchSnapshot is the externally visible view of a batch run.
type BatchSnapshot struct {
	ID          string        `json:"batch_id"`
	Status      BatchStatus   `json:"status"`
	Tickers     []string      `json:"tickers"`
	Counts      BatchCounts   `json:"counts"`
	PerTicker   []JobSnapshot `json:"per_ticker_status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Snapshot produces a consistent copy of the batch for serialisation.
// Per-ticker entries follow the original ticker ordering.
func (b *BatchRefreshJob) Snapshot() BatchSnapshot {
	per := make([]JobSnapshot, 0, len(b.Tickers))
	for _, t := range b.Tickers {
		if snap, ok := b.PerTicker[t]; ok {
			per = append(per, snap)
		}
	}
	return BatchSnapshot{
		ID:          b.ID,
		Status:      b.Status,
		Tickers:     append([]string(nil), b.Tickers...),
		Counts:      b.Counts(),
		PerTicker:   per,
		StartedAt:   b.StartedAt,
		CompletedAt: b.CompletedAt,
	}
}
