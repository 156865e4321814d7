package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshStatus represents the state of a refresh job. The non-terminal
// values double as the current pipeline stage name.
type RefreshStatus string

const (
	// StatusQueued is only ever seen in batch per-ticker snapshots, before
	// that ticker's pipeline has started.
	StatusQueued              RefreshStatus = "queued"
	StatusGatheringData       RefreshStatus = "gathering_data"
	StatusSpecialistAnalysis  RefreshStatus = "specialist_analysis"
	StatusHypothesisSynthesis RefreshStatus = "hypothesis_synthesis"
	StatusWritingResults      RefreshStatus = "writing_results"
	StatusCompleted           RefreshStatus = "completed"
	StatusFailed              RefreshStatus = "failed"
)

// Pipeline stage indices. StageIndex is monotonically non-decreasing over
// the lifetime of one job.
const (
	StageQueued     = 0
	StageGather     = 1
	StageSpecialist = 2
	StageSynthesis  = 3
	StageWrite      = 4
	StageDone       = 5
)

// RefreshJob tracks one in-flight or most-recent refresh for a ticker.
// The pipeline execution owns the job exclusively; pollers only ever see
// snapshots published to the job store.
type RefreshJob struct {
	ID          string        `json:"id"`
	Ticker      string        `json:"ticker"`
	Status      RefreshStatus `json:"status"`
	StageIndex  int           `json:"stage_index"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at"`
	Error       string        `json:"error,omitempty"`

	// Result caches the merged document so result endpoints need not
	// re-read the store. Excluded from status snapshots.
	Result Document `json:"-"`
}

// NewRefreshJob creates a job in its initial state for a canonical ticker.
func NewRefreshJob(ticker string) *RefreshJob {
	return &RefreshJob{
		ID:        uuid.New().String(),
		Ticker:    ticker,
		Status:    StatusGatheringData,
		StartedAt: time.Now().UTC(),
	}
}

// IsTerminal reports whether the job has finished (completed or failed).
func (j *RefreshJob) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ProgressPct derives a coarse progress percentage from the stage index.
// 100 only on completed, 0 on failed.
func (j *RefreshJob) ProgressPct() int {
	switch j.Status {
	case StatusCompleted:
		return 100
	case StatusFailed:
		return 0
	}
	pct := j.StageIndex * 25
	if pct > 100 {
		pct = 100
	}
	return pct
}

// StageLabel returns a human-readable label for the current status.
func (j *RefreshJob) StageLabel() string {
	switch j.Status {
	case StatusGatheringData:
		return "Searching for new data..."
	case StatusSpecialistAnalysis:
		return "Analysing evidence..."
	case StatusHypothesisSynthesis:
		return "Synthesising hypotheses..."
	case StatusWritingResults:
		return "Updating page..."
	case StatusCompleted:
		return "Complete"
	case StatusFailed:
		return "Failed"
	default:
		return string(j.Status)
	}
}

// JobSnapshot is an immutable point-in-time view of a RefreshJob. Status,
// stage, progress, and error always travel together so a poller never
// observes a half-updated field set.
type JobSnapshot struct {
	ID          string        `json:"id"`
	Ticker      string        `json:"ticker"`
	Status      RefreshStatus `json:"status"`
	StageIndex  int           `json:"stage_index"`
	StageLabel  string        `json:"stage_label"`
	ProgressPct int           `json:"progress_pct"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at"`
	Error       string        `json:"error,omitempty"`
}

// Snapshot produces a consistent view of the job's current state.
func (j *RefreshJob) Snapshot() JobSnapshot {
	return JobSnapshot{
		ID:          j.ID,
		Ticker:      j.Ticker,
		Status:      j.Status,
		StageIndex:  j.StageIndex,
		StageLabel:  j.StageLabel(),
		ProgressPct: j.ProgressPct(),
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}
}

// QueuedSnapshot returns the placeholder snapshot a batch publishes for a
// ticker before its pipeline has started, so pollers never see a missing
// entry.
func QueuedSnapshot(ticker string) JobSnapshot {
	return JobSnapshot{
		Ticker:     ticker,
		Status:     StatusQueued,
		StageLabel: "Queued",
	}
}

// IsTerminal reports whether the snapshot represents a finished pipeline.
func (s JobSnapshot) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}
