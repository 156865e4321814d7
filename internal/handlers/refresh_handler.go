package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/models"
	"github.com/ternarybob/continuum/internal/services/refresh"
)

// RefreshHandler exposes the refresh pipeline over HTTP: single-ticker
// refresh with status and result polling, and library-wide batch
// refresh.
type RefreshHandler struct {
	refresher *refresh.Service
	logger    arbor.ILogger
}

func NewRefreshHandler(refresher *refresh.Service, logger arbor.ILogger) *RefreshHandler {
	return &RefreshHandler{
		refresher: refresher,
		logger:    logger,
	}
}

// tickerFromPath extracts the ticker segment from /api/refresh/{ticker}
// and its subpaths.
func tickerFromPath(path string) (ticker string, rest string) {
	trimmed := strings.TrimPrefix(path, "/api/refresh/")
	parts := strings.SplitN(trimmed, "/", 2)
	ticker = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return ticker, rest
}

// HandleTickerRoutes dispatches /api/refresh/{ticker},
// /api/refresh/{ticker}/status and /api/refresh/{ticker}/result.
func (h *RefreshHandler) HandleTickerRoutes(w http.ResponseWriter, r *http.Request) {
	ticker, rest := tickerFromPath(r.URL.Path)
	if ticker == "" {
		WriteError(w, http.StatusBadRequest, "Ticker is required")
		return
	}

	switch rest {
	case "":
		h.startRefresh(w, r, ticker)
	case "status":
		h.refreshStatus(w, r, ticker)
	case "result":
		h.refreshResult(w, r, ticker)
	default:
		WriteError(w, http.StatusNotFound, "Unknown refresh endpoint")
	}
}

// startRefresh launches a background refresh for one ticker. The job is
// registered before the response is written so an immediate status poll
// sees it.
func (h *RefreshHandler) startRefresh(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if h.refresher.Batches().IsRunning() {
		WriteError(w, http.StatusConflict, "A batch refresh is already in progress")
		return
	}

	snapshot, err := h.refresher.StartRefresh(r.Context(), ticker)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrNoDocument):
			WriteError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, refresh.ErrRefreshInFlight):
			WriteError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error().Err(err).Str("ticker", ticker).Msg("Failed to start refresh")
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, snapshot)
}

// refreshStatus returns the latest job snapshot for a ticker.
func (h *RefreshHandler) refreshStatus(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	snapshot, ok := h.refresher.Jobs().Get(ticker)
	if !ok {
		WriteError(w, http.StatusNotFound, "No refresh job for "+strings.ToUpper(ticker))
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

// refreshResult returns the refreshed document. While the job runs it
// answers 202 with the job snapshot; after a failure, 500 with the
// error. A completed job whose in-memory result has been dropped falls
// back to the stored document.
func (h *RefreshHandler) refreshResult(w http.ResponseWriter, r *http.Request, ticker string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	if snapshot, ok := h.refresher.Jobs().Get(ticker); ok {
		if !snapshot.IsTerminal() {
			WriteJSON(w, http.StatusAccepted, snapshot)
			return
		}
		if snapshot.Status == models.StatusFailed {
			WriteError(w, http.StatusInternalServerError, snapshot.Error)
			return
		}
	}

	doc, err := h.refresher.Result(ticker)
	if err != nil {
		WriteError(w, http.StatusNotFound, "No research document for "+strings.ToUpper(ticker))
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

type batchRequest struct {
	Tickers []string `json:"tickers"`
}

// StartBatchHandler launches a batch refresh. An empty or absent body
// refreshes every document in the library; a tickers list restricts the
// batch to that subset.
func (h *RefreshHandler) StartBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req batchRequest
	if r.Body != nil {
		// An empty body means the whole library; decode errors on a
		// present body are client mistakes.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	var snapshot models.BatchSnapshot
	var err error
	if len(req.Tickers) > 0 {
		snapshot, err = h.refresher.StartBatch(r.Context(), req.Tickers)
	} else {
		snapshot, err = h.refresher.StartLibraryBatch(r.Context())
	}
	if err != nil {
		if errors.Is(err, refresh.ErrRefreshInFlight) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start batch refresh")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, snapshot)
}

// BatchStatusHandler returns the batch identified by ?id=, or the most
// recent batch when no id is given.
func (h *RefreshHandler) BatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	snapshot, ok := h.lookupBatch(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "No batch refresh found")
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

// BatchResultsHandler returns the finished batch with per-ticker
// outcomes, or 202 with current progress while the batch runs.
func (h *RefreshHandler) BatchResultsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	snapshot, ok := h.lookupBatch(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "No batch refresh found")
		return
	}
	if snapshot.Status == models.BatchQueued || snapshot.Status == models.BatchInProgress {
		WriteJSON(w, http.StatusAccepted, snapshot)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

func (h *RefreshHandler) lookupBatch(r *http.Request) (models.BatchSnapshot, bool) {
	if id := r.URL.Query().Get("id"); id != "" {
		return h.refresher.Batches().Get(id)
	}
	return h.refresher.Batches().Latest()
}
