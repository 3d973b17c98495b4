package reconcile

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

const maxNotificationBytes = 1 << 20

type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleWebhook acknowledges every authenticated notification for a known
// order group with 200, so providers stop retrying once it was recorded.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	out, err := h.reconciler.HandleNotification(r.Context(), provider, body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureInvalid):
			h.writeError(w, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, domain.ErrUnknownCorrelationID):
			h.writeError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, ErrUnknownProvider):
			h.writeError(w, http.StatusNotFound, "unknown payment provider")
		case errors.Is(err, ErrMalformedNotification):
			h.logger.Warn("malformed notification", "error", err, "provider", provider)
			h.writeError(w, http.StatusBadRequest, "malformed notification")
		default:
			h.logger.Error("failed to process notification", "error", err, "provider", provider)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{
		"success":   true,
		"processed": out.Updated,
	})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("order_id")
	if correlationID == "" {
		h.writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	out, err := h.reconciler.CheckStatus(r.Context(), correlationID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCorrelationID):
			h.writeError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, domain.ErrGatewayUnavailable):
			h.logger.Warn("status check gateway unavailable", "error", err, "correlation_id", correlationID)
			h.writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			h.logger.Error("status check failed", "error", err, "correlation_id", correlationID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders":          out.Orders,
		"provider_status": out.ProviderStatus,
		"updated":         out.Updated,
	})
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
