package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/mailer"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/messaging"
)

// NotificationHandler turns checkout events into mail requests.
type NotificationHandler struct {
	mailerURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewNotificationHandler(mailerURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailerURL:  mailerURL,
		httpClient: client,
		logger:     logger,
	}
}

// Handle is a messaging.HandlerFunc. Undecodable events are logged and
// skipped; mailer failures are returned so the message is redelivered.
func (h *NotificationHandler) Handle(ctx context.Context, topic string, payload []byte) error {
	var (
		to, template, correlationID string
	)

	switch topic {
	case messaging.TopicInvoiceCreated:
		var event domain.InvoiceCreatedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			h.logger.Error("skipping undecodable event", "error", err, "topic", topic)
			return nil
		}
		to, template, correlationID = event.CustomerEmail, mailer.TemplateInvoiceCreated, event.CorrelationID

	case messaging.TopicPaymentSettled:
		var event domain.PaymentSettledEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			h.logger.Error("skipping undecodable event", "error", err, "topic", topic)
			return nil
		}
		to, template, correlationID = event.CustomerEmail, mailer.TemplatePaymentSettled, event.CorrelationID

	default:
		h.logger.Warn("ignoring event from unexpected topic", "topic", topic)
		return nil
	}

	if to == "" {
		h.logger.Warn("event has no recipient", "topic", topic, "correlation_id", correlationID)
		return nil
	}

	h.logger.Info("processing notification event", "topic", topic, "correlation_id", correlationID)

	if err := h.sendEmail(ctx, mailer.SendRequest{To: to, Template: template, Data: payload}); err != nil {
		h.logger.Error("failed to send email", "error", err, "topic", topic, "correlation_id", correlationID)
		return fmt.Errorf("send %s email: %w", template, err)
	}

	h.logger.Info("notification sent", "topic", topic, "correlation_id", correlationID)
	return nil
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body mailer.SendRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.mailerURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailer returned status %d", resp.StatusCode)
	}

	return nil
}
