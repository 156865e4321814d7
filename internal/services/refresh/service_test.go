package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/interfaces"
	"github.com/ternarybob/continuum/internal/models"
	"golang.org/x/sync/semaphore"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// memoryStore is an in-memory DocumentStore for pipeline tests.
type memoryStore struct {
	mu           sync.Mutex
	docs         map[string]models.Document
	saveErr      error
	indexUpdates int
}

func newMemoryStore(docs ...string) *memoryStore {
	s := &memoryStore{docs: make(map[string]models.Document)}
	for _, ticker := range docs {
		s.docs[ticker] = baselineDocument()
	}
	return s
}

func (s *memoryStore) Load(ticker string) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[common.CanonicalCode(ticker)]
	if !ok {
		return nil, fmt.Errorf("document not found: %s", ticker)
	}
	return doc.DeepCopy(), nil
}

func (s *memoryStore) Save(ticker string, doc models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.docs[common.CanonicalCode(ticker)] = doc
	return nil
}

func (s *memoryStore) Exists(ticker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[common.CanonicalCode(ticker)]
	return ok
}

func (s *memoryStore) ListTickers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tickers := make([]string, 0, len(s.docs))
	for t := range s.docs {
		tickers = append(tickers, t)
	}
	return tickers, nil
}

func (s *memoryStore) UpdateIndex(ticker string, doc models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexUpdates++
	return nil
}

// stubGatherer returns a fixed bundle and tracks concurrency.
type stubGatherer struct {
	mu         sync.Mutex
	active     int
	maxActive  int
	delay      time.Duration
	priceError string
}

func (g *stubGatherer) GatherWithCompany(ctx context.Context, ticker common.Ticker, companyName string) *models.GatheredData {
	g.mu.Lock()
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	g.active--
	g.mu.Unlock()

	bundle := healthyGathered()
	bundle.Ticker = ticker
	bundle.GatheredAt = time.Now().UTC()
	if g.priceError != "" {
		bundle.Price = models.PriceData{Error: g.priceError}
	}
	return bundle
}

// scriptedProvider returns canned responses, optionally failing first.
type scriptedProvider struct {
	mu        sync.Mutex
	name      string
	responses []string
	err       error
	calls     int
}

func (p *scriptedProvider) Name() string     { return p.name }
func (p *scriptedProvider) Configured() bool { return true }
func (p *scriptedProvider) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	idx := p.calls - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

const evidenceResponse = `{
	"cards": [
		{"number": 1, "updated_finding": "Fresh finding", "updated_tension": "Fresh tension", "material_change": true}
	],
	"summary": "One material change."
}`

const synthesisResponse = `{
	"hypotheses": [
		{"tier": "N1", "updated_score": "50%", "direction": "up"}
	],
	"narrative_rewrite": "Fully rewritten narrative.",
	"embedded_thesis": "New thesis.",
	"verdict_update": "New verdict.",
	"next_decision_point": {"event": "FY27 Guidance", "date": "2026-11-01"}
}`

func newTestService(store *memoryStore, gatherer *stubGatherer, specialist, synthesis interfaces.CompletionProvider) *Service {
	cfg := common.NewDefaultConfig()
	return &Service{
		logger:     createTestLogger(),
		store:      store,
		gatherer:   gatherer,
		specialist: specialist,
		synthesis:  synthesis,
		jobs:       NewJobStore(),
		batches:    NewBatchStore(),
		gatherPool: semaphore.NewWeighted(int64(cfg.Refresh.GatherConcurrency)),
		llmPool:    semaphore.NewWeighted(int64(cfg.Refresh.LLMConcurrency)),
	}
}

func TestRunRefresh_HappyPath(t *testing.T) {
	store := newMemoryStore("WOW")
	service := newTestService(store, &stubGatherer{},
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	doc, err := service.RunRefresh(context.Background(), "wow")
	require.NoError(t, err)

	assert.Equal(t, "37.52", doc["price"])
	assert.Equal(t, "Fresh finding", doc["evidence"].(map[string]interface{})["cards"].([]interface{})[0].(map[string]interface{})["finding"])
	assert.Equal(t, "50%", doc["hypotheses"].([]interface{})[0].(map[string]interface{})["score"])
	assert.Contains(t, doc["narrative"].(map[string]interface{})["theNarrative"], "Fully rewritten narrative.")

	snap, ok := service.Jobs().Get("WOW")
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, models.StageDone, snap.StageIndex)
	assert.Equal(t, 100, snap.ProgressPct)
	assert.NotNil(t, snap.CompletedAt)

	// Saved document is retrievable and the index was refreshed.
	saved, err := store.Load("WOW")
	require.NoError(t, err)
	assert.Equal(t, "37.52", saved["price"])
	assert.Equal(t, 1, store.indexUpdates)
}

func TestRunRefresh_MissingBaselineFails(t *testing.T) {
	service := newTestService(newMemoryStore(), &stubGatherer{},
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	_, err := service.RunRefresh(context.Background(), "XYZ")
	require.Error(t, err)

	snap, ok := service.Jobs().Get("XYZ")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Equal(t, 0, snap.ProgressPct)
	assert.NotEmpty(t, snap.Error)
}

func TestRunRefresh_SpecialistFailureDegradesNotFails(t *testing.T) {
	store := newMemoryStore("WOW")
	service := newTestService(store, &stubGatherer{},
		&scriptedProvider{name: "gemini", err: errors.New("quota exhausted")},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	doc, err := service.RunRefresh(context.Background(), "WOW")
	require.NoError(t, err, "specialist outage must not fail the pipeline")

	// Evidence untouched, price and synthesis still applied.
	assert.Equal(t, "Old finding one", doc["evidence"].(map[string]interface{})["cards"].([]interface{})[0].(map[string]interface{})["finding"])
	assert.Equal(t, "37.52", doc["price"])
}

func TestRunRefresh_MalformedPayloadRetriedThenDegraded(t *testing.T) {
	store := newMemoryStore("WOW")
	specialist := &scriptedProvider{name: "gemini", responses: []string{"not json", "still not json"}}
	service := newTestService(store, &stubGatherer{},
		specialist,
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	_, err := service.RunRefresh(context.Background(), "WOW")
	require.NoError(t, err)
	assert.Equal(t, 2, specialist.calls, "malformed output gets exactly one retry")
}

func TestRunRefresh_SynthesisFailureStillCompletes(t *testing.T) {
	store := newMemoryStore("WOW")
	service := newTestService(store, &stubGatherer{},
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", err: errors.New("all providers down")},
	)

	doc, err := service.RunRefresh(context.Background(), "WOW")
	require.NoError(t, err)

	// Degraded synthesis prepends an unavailability note.
	narrative := doc["narrative"].(map[string]interface{})["theNarrative"].(string)
	assert.Contains(t, narrative, "Synthesis unavailable")
	assert.Contains(t, narrative, "Old narrative.")
	// Evidence still applied.
	assert.Equal(t, "Fresh finding", doc["evidence"].(map[string]interface{})["cards"].([]interface{})[0].(map[string]interface{})["finding"])
}

func TestRunRefresh_PriceSourceDownLeavesPriceFields(t *testing.T) {
	store := newMemoryStore("WOW")
	service := newTestService(store, &stubGatherer{priceError: "yahoo down"},
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	doc, err := service.RunRefresh(context.Background(), "WOW")
	require.NoError(t, err)
	assert.Equal(t, "36.90", doc["price"])
}

func TestStartRefresh_ConflictRejected(t *testing.T) {
	store := newMemoryStore("WOW")
	gatherer := &stubGatherer{delay: 200 * time.Millisecond}
	service := newTestService(store, gatherer,
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	_, err := service.StartRefresh(context.Background(), "WOW")
	require.NoError(t, err)

	_, err = service.StartRefresh(context.Background(), "WOW")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshInFlight)

	waitForTerminal(t, service, "WOW")

	// After completion a new refresh is accepted.
	_, err = service.StartRefresh(context.Background(), "WOW")
	assert.NoError(t, err)
	waitForTerminal(t, service, "WOW")
}

func TestStartRefresh_UnknownTickerRejectedWithoutJob(t *testing.T) {
	service := newTestService(newMemoryStore("WOW"), &stubGatherer{},
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	_, err := service.StartRefresh(context.Background(), "NOPE")
	require.Error(t, err)

	_, ok := service.Jobs().Get("NOPE")
	assert.False(t, ok, "rejected refresh must not leave a job behind")
}

func TestPipeline_StageOrderIsMonotonic(t *testing.T) {
	store := newMemoryStore("WOW")
	service := newTestService(store, &stubGatherer{},
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	var mu sync.Mutex
	var observed []models.JobSnapshot
	record := func(snap models.JobSnapshot) {
		mu.Lock()
		observed = append(observed, snap)
		mu.Unlock()
	}

	job, err := service.jobs.TryStart("WOW")
	require.NoError(t, err)
	service.runPipeline(context.Background(), job, record)

	require.NotEmpty(t, observed)
	prev := -1
	for _, snap := range observed {
		assert.GreaterOrEqual(t, snap.StageIndex, prev, "stage index must never decrease")
		prev = snap.StageIndex
		assert.LessOrEqual(t, snap.ProgressPct, 100)
	}
	final := observed[len(observed)-1]
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, models.StageDone, final.StageIndex)
}

func TestResult_FallsBackToStore(t *testing.T) {
	store := newMemoryStore("WOW")
	service := newTestService(store, &stubGatherer{},
		&scriptedProvider{name: "gemini", responses: []string{evidenceResponse}},
		&scriptedProvider{name: "claude", responses: []string{synthesisResponse}},
	)

	// No job has run; the stored document is served.
	doc, err := service.Result("WOW")
	require.NoError(t, err)
	assert.Equal(t, "Woolworths Group", doc.GetString("company"))
}

func waitForTerminal(t *testing.T, service *Service, ticker string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := service.Jobs().Get(ticker); ok && snap.IsTerminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("refresh for %s did not finish in time", ticker)
}
