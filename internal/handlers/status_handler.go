package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/interfaces"
	"github.com/ternarybob/continuum/internal/services/scheduler"
	"github.com/ternarybob/continuum/internal/services/status"
)

// StatusHandler serves the operational snapshot: uptime, refresh
// counters, library size, and scheduler state.
type StatusHandler struct {
	status    *status.Service
	scheduler *scheduler.Service
	store     interfaces.DocumentStore
	logger    arbor.ILogger
}

func NewStatusHandler(statusService *status.Service, schedulerService *scheduler.Service, store interfaces.DocumentStore, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		status:    statusService,
		scheduler: schedulerService,
		store:     store,
		logger:    logger,
	}
}

// GetStatusHandler returns the combined application status.
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	payload := h.status.GetStatus()

	if tickers, err := h.store.ListTickers(); err == nil {
		payload["document_count"] = len(tickers)
	} else {
		h.logger.Warn().Err(err).Msg("Failed to count research documents")
	}
	if h.scheduler != nil {
		payload["scheduler"] = h.scheduler.State()
	}

	WriteJSON(w, http.StatusOK, payload)
}
