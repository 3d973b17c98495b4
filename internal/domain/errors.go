package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrSignatureInvalid     = errors.New("invalid notification signature")
	ErrUnknownCorrelationID = errors.New("unknown correlation id")
	ErrConcurrentUpdate     = errors.New("order was modified concurrently")
	ErrAlreadyCredited      = errors.New("correlation id already credited")
	ErrLedgerUpdate         = errors.New("ledger update failed")
	ErrOrderNotFound        = errors.New("order not found")
)

type FieldError struct {
	Item    int    `json:"item"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every offending cart item instead of stopping at the first.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Item < 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
			continue
		}
		parts = append(parts, fmt.Sprintf("items[%d].%s: %s", f.Item, f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FulfillmentError is the only error kind the fulfillment dispatcher returns.
// The reconciler turns it into a note on the order and never surfaces it.
type FulfillmentError struct {
	Kind      string
	Reason    string
	Retryable bool
	Err       error
}

func (e *FulfillmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fulfillment failed: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s fulfillment failed: %s", e.Kind, e.Reason)
}

func (e *FulfillmentError) Unwrap() error {
	return e.Err
}
