package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/services/refresh"
	"github.com/ternarybob/continuum/internal/services/scheduler"
)

// SchedulerHandler exposes manual control of the scheduled refresh.
type SchedulerHandler struct {
	scheduler *scheduler.Service
	logger    arbor.ILogger
}

func NewSchedulerHandler(schedulerService *scheduler.Service, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: schedulerService,
		logger:    logger,
	}
}

// TriggerRefreshHandler launches the whole-library refresh immediately,
// outside the cron schedule.
func (h *SchedulerHandler) TriggerRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	snapshot, err := h.scheduler.TriggerNow(r.Context())
	if err != nil {
		if errors.Is(err, refresh.ErrRefreshInFlight) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Manual refresh trigger failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, snapshot)
}
