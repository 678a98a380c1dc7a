package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"polyexit/internal/domain"
)

// StrategyHandler serves strategy configuration CRUD.
type StrategyHandler struct {
	store  domain.StrategyStore
	logger *slog.Logger
}

func NewStrategyHandler(store domain.StrategyStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		store:  store,
		logger: logger.With(slog.String("component", "strategy_handler")),
	}
}

// Upsert creates or replaces a strategy configuration. Open positions keep
// the parameters they were opened with; the new config applies to positions
// opened afterwards.
// PUT /api/strategies
func (h *StrategyHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var cfg domain.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	if err := h.store.Upsert(r.Context(), cfg); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "strategy name already in use")
		default:
			h.logger.Error("upsert failed", slog.String("strategy", cfg.Name), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to save strategy")
		}
		return
	}

	saved, err := h.store.GetByID(r.Context(), cfg.ID)
	if err != nil {
		h.logger.Error("reload after upsert failed", slog.String("strategy_id", cfg.ID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to reload strategy")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Get returns a strategy configuration by name.
// GET /api/strategies/{name}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg, err := h.store.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		h.logger.Error("get failed", slog.String("strategy", name), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to get strategy")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// List returns all strategy configurations.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list strategies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": strategies, "count": len(strategies)})
}
