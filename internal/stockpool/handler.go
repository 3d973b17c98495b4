package stockpool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

type Reader interface {
	List(ctx context.Context) ([]domain.StockAccount, error)
	Get(ctx context.Context, id string) (*domain.StockAccount, error)
}

type Handler struct {
	repo   Reader
	logger *slog.Logger
}

func NewHandler(repo Reader, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list stock accounts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("stock accounts listed", "count", len(accounts))
	h.writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing stock account id")
		return
	}

	acc, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get stock account", "error", err, "account_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if acc == nil {
		h.writeError(w, http.StatusNotFound, "stock account not found")
		return
	}

	h.logger.Info("stock account retrieved", "account_id", id)
	h.writeJSON(w, http.StatusOK, acc)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
