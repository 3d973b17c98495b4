package domain

import "time"

type InvoiceCreatedEvent struct {
	CorrelationID string    `json:"correlation_id"`
	InvoiceIDs    []string  `json:"invoice_ids"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	GrossAmount   int64     `json:"gross_amount"`
	RedirectURL   string    `json:"redirect_url"`
	Timestamp     time.Time `json:"timestamp"`
}

type PaymentSettledEvent struct {
	CorrelationID string    `json:"correlation_id"`
	InvoiceIDs    []string  `json:"invoice_ids"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	PaidAmount    int64     `json:"paid_amount"`
	PaymentType   string    `json:"payment_type"`
	Timestamp     time.Time `json:"timestamp"`
}
