package refresh

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/interfaces"
	"github.com/ternarybob/continuum/internal/models"
	"github.com/ternarybob/continuum/internal/services/gather"
	"github.com/ternarybob/continuum/internal/services/llm"
	"golang.org/x/sync/semaphore"
)

// Gatherer collects external data for a ticker. The company name feeds
// the news search queries.
type Gatherer interface {
	GatherWithCompany(ctx context.Context, ticker common.Ticker, companyName string) *models.GatheredData
}

var _ Gatherer = (*gather.Service)(nil)

// Reporter receives refresh lifecycle events for status aggregation.
type Reporter interface {
	RecordStart(ticker string)
	RecordOutcome(ticker string, failed bool, idle bool)
}

// Service drives the four-stage refresh pipeline. Two independent pools
// bound resource usage: the gather pool limits concurrent external data
// collection, the LLM pool limits tickers holding model calls in flight
// across stages two and three. Stage four runs unpooled.
type Service struct {
	logger     arbor.ILogger
	store      interfaces.DocumentStore
	gatherer   Gatherer
	specialist interfaces.CompletionProvider
	synthesis  interfaces.CompletionProvider

	jobs     *JobStore
	batches  *BatchStore
	reporter Reporter

	gatherPool *semaphore.Weighted
	llmPool    *semaphore.Weighted
}

// NewService creates the refresh service with its concurrency pools.
func NewService(cfg *common.Config, store interfaces.DocumentStore, gatherer Gatherer, providers *llm.Providers, logger arbor.ILogger) *Service {
	gatherLimit := int64(cfg.Refresh.GatherConcurrency)
	if gatherLimit < 1 {
		gatherLimit = 3
	}
	llmLimit := int64(cfg.Refresh.LLMConcurrency)
	if llmLimit < 1 {
		llmLimit = 2
	}

	return &Service{
		logger:     logger,
		store:      store,
		gatherer:   gatherer,
		specialist: providers.Specialist,
		synthesis:  providers.Synthesis,
		jobs:       NewJobStore(),
		batches:    NewBatchStore(),
		gatherPool: semaphore.NewWeighted(gatherLimit),
		llmPool:    semaphore.NewWeighted(llmLimit),
	}
}

// SetReporter attaches a status reporter. Must be called before any
// refresh starts.
func (s *Service) SetReporter(r Reporter) {
	s.reporter = r
}

// Jobs exposes the per-ticker job store for status queries.
func (s *Service) Jobs() *JobStore {
	return s.jobs
}

// Batches exposes the batch store for status queries.
func (s *Service) Batches() *BatchStore {
	return s.batches
}

// StartRefresh begins a refresh for one ticker in the background and
// returns the initial job snapshot. Returns ErrRefreshInFlight when a
// refresh for the ticker is already running and ErrNoDocument when no
// baseline document exists.
func (s *Service) StartRefresh(ctx context.Context, ticker string) (models.JobSnapshot, error) {
	code := common.CanonicalCode(ticker)

	if !s.store.Exists(code) {
		return models.JobSnapshot{}, fmt.Errorf("%w for %s", ErrNoDocument, code)
	}

	job, err := s.jobs.TryStart(code)
	if err != nil {
		return models.JobSnapshot{}, err
	}

	common.SafeGoWithContext(ctx, s.logger, "refresh-"+code, func() {
		s.runPipeline(context.WithoutCancel(ctx), job, nil)
	})

	return job.Snapshot(), nil
}

// RunRefresh executes a refresh synchronously and returns the updated
// document. Used by tests and the scheduler path.
func (s *Service) RunRefresh(ctx context.Context, ticker string) (models.Document, error) {
	code := common.CanonicalCode(ticker)

	job, err := s.jobs.TryStart(code)
	if err != nil {
		return nil, err
	}

	s.runPipeline(ctx, job, nil)
	if job.Status == models.StatusFailed {
		return nil, fmt.Errorf("refresh failed for %s: %s", code, job.Error)
	}
	return job.Result, nil
}

// Result returns the latest refresh result for a ticker, falling back
// to the stored document when the in-memory result has been dropped,
// such as after a restart.
func (s *Service) Result(ticker string) (models.Document, error) {
	if doc, ok := s.jobs.Result(ticker); ok {
		return doc, nil
	}
	return s.store.Load(ticker)
}

// runPipeline executes all four stages for one job. publishExtra, when
// set, receives every snapshot the pipeline publishes so batch tracking
// stays in step with the per-ticker store.
func (s *Service) runPipeline(ctx context.Context, job *models.RefreshJob, publishExtra func(models.JobSnapshot)) {
	publish := func() {
		s.jobs.Publish(job)
		if publishExtra != nil {
			publishExtra(job.Snapshot())
		}
	}

	fail := func(err error) {
		now := nowUTC()
		job.Status = models.StatusFailed
		job.Error = err.Error()
		job.CompletedAt = &now
		publish()
		s.reportOutcome(job.Ticker, true)
		s.logger.Error().
			Err(err).
			Str("ticker", job.Ticker).
			Msg("Refresh failed")
	}

	if s.reporter != nil {
		s.reporter.RecordStart(job.Ticker)
	}

	research, err := s.store.Load(job.Ticker)
	if err != nil {
		fail(fmt.Errorf("failed to load research: %w", err))
		return
	}
	companyName := research.GetString("company")
	if companyName == "" {
		companyName = job.Ticker
	}

	// Stage 1: data gathering, bounded by the gather pool.
	if err := s.gatherPool.Acquire(ctx, 1); err != nil {
		fail(err)
		return
	}
	job.Status = models.StatusGatheringData
	job.StageIndex = models.StageGather
	publish()
	s.logger.Info().Str("ticker", job.Ticker).Msg("Stage 1: Gathering data")

	gathered := s.gatherer.GatherWithCompany(ctx, common.ParseTicker(job.Ticker), companyName)
	s.gatherPool.Release(1)

	// Stages 2 and 3 hold a single LLM permit between them.
	if err := s.llmPool.Acquire(ctx, 1); err != nil {
		fail(err)
		return
	}

	job.Status = models.StatusSpecialistAnalysis
	job.StageIndex = models.StageSpecialist
	publish()
	s.logger.Info().Str("ticker", job.Ticker).Msg("Stage 2: Specialist analysis")

	evidence := s.runEvidenceSpecialists(ctx, job.Ticker, research, gathered)

	job.Status = models.StatusHypothesisSynthesis
	job.StageIndex = models.StageSynthesis
	publish()
	s.logger.Info().Str("ticker", job.Ticker).Msg("Stage 3: Hypothesis synthesis")

	synthesis := s.runHypothesisSynthesis(ctx, job.Ticker, research, evidence, gathered)
	s.llmPool.Release(1)

	// Stage 4: write results, no pool.
	job.Status = models.StatusWritingResults
	job.StageIndex = models.StageWrite
	publish()
	s.logger.Info().Str("ticker", job.Ticker).Msg("Stage 4: Writing results")

	updated := mergeUpdates(research, gathered, evidence, synthesis)

	if err := s.store.Save(job.Ticker, updated); err != nil {
		fail(fmt.Errorf("failed to save research: %w", err))
		return
	}
	if err := s.store.UpdateIndex(job.Ticker, updated); err != nil {
		// Index maintenance is best-effort.
		s.logger.Warn().Err(err).Str("ticker", job.Ticker).Msg("Index update failed")
	}

	now := nowUTC()
	job.Status = models.StatusCompleted
	job.StageIndex = models.StageDone
	job.CompletedAt = &now
	job.Result = updated
	publish()
	s.reportOutcome(job.Ticker, false)

	s.logger.Info().
		Str("ticker", job.Ticker).
		Dur("elapsed", now.Sub(job.StartedAt)).
		Msg("Refresh completed")
}

// reportOutcome forwards a terminal job outcome to the reporter, noting
// whether any refresh work remains in flight.
func (s *Service) reportOutcome(ticker string, failed bool) {
	if s.reporter == nil {
		return
	}
	idle := !s.jobs.AnyRunning() && !s.batches.IsRunning()
	s.reporter.RecordOutcome(ticker, failed, idle)
}

// runEvidenceSpecialists executes the specialist extraction pass. The
// stage never fails the pipeline: a malformed response is retried once,
// then degraded to an empty update so later stages and the merge still
// run.
func (s *Service) runEvidenceSpecialists(ctx context.Context, ticker string, research models.Document, gathered *models.GatheredData) *models.EvidenceUpdate {
	prompt := buildEvidencePrompt(ticker, research, gathered)
	req := interfaces.CompletionRequest{
		System:      evidenceUpdateSystem,
		Prompt:      prompt,
		Temperature: 0.3,
		JSONOnly:    true,
	}

	for attempt := 0; attempt < 2; attempt++ {
		text, err := s.specialist.Complete(ctx, req)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("ticker", ticker).
				Msg("Evidence specialist failed")
			return &models.EvidenceUpdate{Summary: fmt.Sprintf("Evidence update failed: %s", err)}
		}

		var update models.EvidenceUpdate
		if err := llm.DecodeJSON(text, &update); err != nil {
			s.logger.Warn().
				Err(err).
				Str("ticker", ticker).
				Int("attempt", attempt+1).
				Msg("Evidence payload malformed, retrying")
			continue
		}
		return &update
	}

	return &models.EvidenceUpdate{Summary: "Evidence update failed: malformed model output"}
}

// runHypothesisSynthesis executes the synthesis pass through the
// provider fallback chain. Like the specialist stage it degrades rather
// than failing: the pipeline still completes with price and evidence
// updates applied.
func (s *Service) runHypothesisSynthesis(ctx context.Context, ticker string, research models.Document, evidence *models.EvidenceUpdate, gathered *models.GatheredData) *models.SynthesisUpdate {
	prompt := buildSynthesisPrompt(ticker, research, evidence, gathered)
	req := interfaces.CompletionRequest{
		System:   hypothesisUpdateSystem + "\n\nRespond with valid JSON only.",
		Prompt:   prompt,
		JSONOnly: true,
	}

	for attempt := 0; attempt < 2; attempt++ {
		text, err := s.synthesis.Complete(ctx, req)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("ticker", ticker).
				Msg("Hypothesis synthesis failed")
			return &models.SynthesisUpdate{NarrativeUpdate: fmt.Sprintf("Synthesis unavailable: %s", err)}
		}

		var update models.SynthesisUpdate
		if err := llm.DecodeJSON(text, &update); err != nil {
			s.logger.Warn().
				Err(err).
				Str("ticker", ticker).
				Int("attempt", attempt+1).
				Msg("Synthesis payload malformed, retrying")
			continue
		}
		return &update
	}

	return &models.SynthesisUpdate{NarrativeUpdate: "Synthesis unavailable: malformed model output"}
}
