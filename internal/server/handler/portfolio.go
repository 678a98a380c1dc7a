package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"polyexit/internal/domain"
	"polyexit/internal/service"
)

// SummaryService aggregates open exposure per portfolio.
type SummaryService interface {
	Summary(ctx context.Context, portfolioID string) (service.PortfolioSummary, error)
}

// PortfolioHandler serves portfolio CRUD and capital deposits.
type PortfolioHandler struct {
	store   domain.PortfolioStore
	summary SummaryService
	logger  *slog.Logger
}

func NewPortfolioHandler(store domain.PortfolioStore, summary SummaryService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		store:   store,
		summary: summary,
		logger:  logger.With(slog.String("component", "portfolio_handler")),
	}
}

type createPortfolioRequest struct {
	Name           string  `json:"name"`
	InitialCapital float64 `json:"initial_capital"`
}

// Create registers a new portfolio.
// POST /api/portfolios
func (h *PortfolioHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.InitialCapital < 0 {
		writeError(w, http.StatusBadRequest, "initial_capital must not be negative")
		return
	}

	now := time.Now().UTC()
	pf := domain.Portfolio{
		ID:               uuid.NewString(),
		Name:             req.Name,
		TotalCapital:     req.InitialCapital,
		AvailableCapital: req.InitialCapital,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.Create(r.Context(), pf); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "portfolio name already in use")
			return
		}
		h.logger.Error("create failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to create portfolio")
		return
	}
	writeJSON(w, http.StatusCreated, pf)
}

// List returns all portfolios.
// GET /api/portfolios
func (h *PortfolioHandler) List(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list portfolios")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolios": portfolios, "count": len(portfolios)})
}

// Get returns one portfolio by id.
// GET /api/portfolios/{id}
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pf, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.logger.Error("get failed", slog.String("portfolio_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to get portfolio")
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// Summary returns the portfolio with open exposure and unrealized P&L.
// GET /api/portfolios/{id}/summary
func (h *PortfolioHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sum, err := h.summary.Summary(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "portfolio not found")
			return
		}
		h.logger.Error("summary failed", slog.String("portfolio_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to summarize portfolio")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type depositRequest struct {
	Amount float64 `json:"amount"`
}

// Deposit adds or withdraws capital. Negative amounts withdraw and fail when
// they would leave available capital below zero.
// POST /api/portfolios/{id}/deposit
func (h *PortfolioHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must not be zero")
		return
	}

	if err := h.store.Deposit(r.Context(), id, req.Amount); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "portfolio not found")
		case errors.Is(err, domain.ErrCapitalInsufficient):
			writeError(w, http.StatusConflict, "withdrawal exceeds available capital")
		default:
			h.logger.Error("deposit failed", slog.String("portfolio_id", id), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to adjust capital")
		}
		return
	}

	pf, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("reload after deposit failed", slog.String("portfolio_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to reload portfolio")
		return
	}
	writeJSON(w, http.StatusOK, pf)
}
