package orders

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves read-only order lookups. Orders are created by checkout and
// mutated by the reconciler only.
type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("invoiceId")
	if invoiceID == "" {
		h.writeError(w, http.StatusBadRequest, "missing invoice id")
		return
	}

	order, err := h.store.FindByInvoiceID(r.Context(), invoiceID)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "invoice_id", invoiceID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order retrieved", "invoice_id", order.InvoiceID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleListGroup(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		h.writeError(w, http.StatusBadRequest, "correlation_id is required")
		return
	}

	group, err := h.store.FindByCorrelationID(r.Context(), correlationID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "correlation_id", correlationID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if len(group) == 0 {
		h.writeError(w, http.StatusNotFound, "no orders for correlation id")
		return
	}

	h.logger.Info("orders listed", "correlation_id", correlationID, "count", len(group))
	h.writeJSON(w, http.StatusOK, group)
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
