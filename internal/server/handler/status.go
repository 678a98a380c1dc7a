package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"polyexit/internal/domain"
)

// SchedulerInfo exposes the evaluation loop's progress to the status
// endpoint.
type SchedulerInfo interface {
	LastRun() time.Time
}

// StatusHandler reports engine mode, uptime and evaluation progress.
type StatusHandler struct {
	scheduler SchedulerInfo
	positions domain.PositionStore
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

func NewStatusHandler(scheduler SchedulerInfo, positions domain.PositionStore, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		scheduler: scheduler,
		positions: positions,
		mode:      mode,
		startedAt: startedAt,
		logger:    logger.With(slog.String("component", "status_handler")),
	}
}

// Status returns the runtime status snapshot.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	openCount := -1
	if open, err := h.positions.ListOpen(ctx); err == nil {
		openCount = len(open)
	} else {
		h.logger.Warn("open position count unavailable", slog.Any("error", err))
	}

	resp := map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.Format(time.RFC3339),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"open_positions": openCount,
	}
	if h.scheduler != nil {
		if last := h.scheduler.LastRun(); !last.IsZero() {
			resp["last_evaluation_at"] = last.Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
