package refresh

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
)

// StartBatch begins a refresh over the given tickers in the background
// and returns the initial batch snapshot. Every ticker launches
// immediately; the gather and LLM pools bound actual concurrency per
// stage. Only one batch runs at a time.
func (s *Service) StartBatch(ctx context.Context, tickers []string) (models.BatchSnapshot, error) {
	if len(tickers) == 0 {
		return models.BatchSnapshot{}, fmt.Errorf("no tickers to refresh")
	}

	batch, err := s.batches.TryStart(tickers)
	if err != nil {
		return models.BatchSnapshot{}, err
	}
	snapshot := batch.Snapshot()

	common.SafeGoWithContext(ctx, s.logger, "batch-"+batch.ID, func() {
		s.runBatch(context.WithoutCancel(ctx), batch.ID, snapshot.Tickers)
	})

	return snapshot, nil
}

// StartLibraryBatch refreshes every ticker with a stored document.
func (s *Service) StartLibraryBatch(ctx context.Context) (models.BatchSnapshot, error) {
	tickers, err := s.store.ListTickers()
	if err != nil {
		return models.BatchSnapshot{}, fmt.Errorf("failed to list library: %w", err)
	}
	return s.StartBatch(ctx, tickers)
}

// runBatch fans out one pipeline per ticker and derives the terminal
// batch status once all have finished. A ticker that panics or cannot
// even start is recorded as failed without disturbing its siblings.
func (s *Service) runBatch(ctx context.Context, batchID string, tickers []string) {
	s.logger.Info().
		Str("batch_id", batchID).
		Int("tickers", len(tickers)).
		Msg("Starting batch refresh")

	var wg sync.WaitGroup
	for _, ticker := range tickers {
		ticker := ticker
		wg.Add(1)
		common.SafeGo(s.logger, "batch-ticker-"+ticker, func() {
			defer wg.Done()
			s.runTickerInBatch(ctx, batchID, ticker)
		})
	}
	wg.Wait()

	final := s.batches.Finalize(batchID)

	s.logger.Info().
		Str("batch_id", batchID).
		Str("status", string(final.Status)).
		Int("completed", final.Counts.Completed).
		Int("failed", final.Counts.Failed).
		Msg("Batch refresh finished")
}

// runTickerInBatch runs one ticker's pipeline, mirroring every snapshot
// into the batch's per-ticker map so batch pollers and single-ticker
// pollers observe identical state.
func (s *Service) runTickerInBatch(ctx context.Context, batchID, ticker string) {
	publishExtra := func(snap models.JobSnapshot) {
		s.batches.PublishTicker(batchID, snap)
	}

	job, err := s.jobs.TryStart(ticker)
	if err != nil {
		// A single-ticker refresh already owns this ticker; record the
		// conflict as a failure for this batch entry only.
		now := nowUTC()
		publishExtra(models.JobSnapshot{
			ID:          "",
			Ticker:      common.CanonicalCode(ticker),
			Status:      models.StatusFailed,
			StageLabel:  "Failed",
			CompletedAt: &now,
			Error:       err.Error(),
		})
		s.logger.Warn().
			Err(err).
			Str("ticker", ticker).
			Str("batch_id", batchID).
			Msg("Skipping ticker already being refreshed")
		return
	}

	s.runPipeline(ctx, job, publishExtra)
}
