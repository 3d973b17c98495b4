// Package mailer renders customer emails from notification events. Delivery
// is a log line; the SMTP relay sits outside this service.
package mailer

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

type SendRequest struct {
	To       string          `json:"to"`
	Template string          `json:"template"`
	Data     json.RawMessage `json:"data"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Subject string `json:"subject"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" {
		h.writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	subject, body, err := Render(req.Template, req.Data)
	if err != nil {
		h.logger.Warn("failed to render email", "error", err, "template", req.Template)
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.logger.Info("email sent", "to", req.To, "subject", subject, "template", req.Template, "bytes", len(body))

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent", Subject: subject})
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
