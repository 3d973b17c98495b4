package domain

import "time"

type StockAccountStatus string

const (
	StockAccountActive   StockAccountStatus = "active"
	StockAccountInUse    StockAccountStatus = "in_use"
	StockAccountDisabled StockAccountStatus = "disabled"
)

// StockAccount is a pooled account whose robux balance pays for scheduled deliveries.
type StockAccount struct {
	ID        string             `json:"id"`
	Username  string             `json:"username"`
	Balance   int64              `json:"balance"`
	Status    StockAccountStatus `json:"status"`
	CheckedAt time.Time          `json:"checked_at"`
}

type Customer struct {
	ID                        string     `json:"id"`
	TotalSpent                int64      `json:"total_spent"`
	Tier                      string     `json:"tier"`
	TierExpiresAt             *time.Time `json:"tier_expires_at,omitempty"`
	LastCreditedCorrelationID string     `json:"last_credited_correlation_id,omitempty"`
}
