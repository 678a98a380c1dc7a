package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"polyexit/internal/domain"
)

// PositionService is the slice of the service layer this handler needs.
type PositionService interface {
	Get(ctx context.Context, id string) (domain.Position, error)
	ListOpen(ctx context.Context) ([]domain.Position, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
	BySource(ctx context.Context, sourceID string, opts domain.ListOpts) ([]domain.Position, error)
	Close(ctx context.Context, positionID string) (domain.Position, error)
}

// PositionHandler serves position queries and the manual close endpoint.
type PositionHandler struct {
	svc    PositionService
	logger *slog.Logger
}

func NewPositionHandler(svc PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "position_handler")),
	}
}

// List returns open positions, or positions for a source when ?source= is
// set.
// GET /api/positions
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	if source := r.URL.Query().Get("source"); source != "" {
		opts, err := parseListOpts(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		positions, err := h.svc.BySource(r.Context(), source, opts)
		if err != nil {
			h.logger.Error("list by source failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"positions": positions, "count": len(positions)})
		return
	}

	positions, err := h.svc.ListOpen(r.Context())
	if err != nil {
		h.logger.Error("list open failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions, "count": len(positions)})
}

// History returns closed and open positions ordered by open time.
// GET /api/positions/history
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.svc.History(r.Context(), opts)
	if err != nil {
		h.logger.Error("history failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions, "count": len(positions)})
}

// Get returns a single position by id.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pos, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.Error("get failed", slog.String("position_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Close exits a position at the current market price.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pos, err := h.svc.Close(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrPositionClosed):
			writeError(w, http.StatusConflict, "position already closed")
		case errors.Is(err, domain.ErrQuoteUnavailable):
			writeError(w, http.StatusServiceUnavailable, "no current quote for position token")
		default:
			h.logger.Error("close failed", slog.String("position_id", id), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to close position")
		}
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
