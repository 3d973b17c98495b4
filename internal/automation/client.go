// Package automation is the HTTP client for the external automation service
// that logs into pooled stock accounts to read balances and buy gamepasses.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/breaker"
)

// ErrPurchaseRejected means the service ran the purchase and it did not go
// through (already owned, price changed, account locked).
var ErrPurchaseRejected = errors.New("purchase rejected")

type Client struct {
	baseURL string
	client  *breaker.Client
}

func NewClient(baseURL string, client *breaker.Client) *Client {
	return &Client{
		baseURL: baseURL,
		client:  client,
	}
}

type PurchaseRequest struct {
	AccountUsername string `json:"account_username"`
	GamepassID      string `json:"gamepass_id"`
	PlaceID         string `json:"place_id,omitempty"`
	ExpectedPrice   int64  `json:"expected_price"`
	BuyerUsername   string `json:"buyer_username"`
}

type PurchaseResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

type balanceResponse struct {
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

// CheckBalance reads the live robux balance of a stock account.
func (c *Client) CheckBalance(ctx context.Context, username string) (int64, error) {
	resp, err := c.forward(ctx, http.MethodGet, "/accounts/"+url.PathEscape(username)+"/balance", nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}

	var out balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode balance response: %w", err)
	}
	return out.Balance, nil
}

func (c *Client) PurchaseGamepass(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal purchase request: %w", err)
	}

	resp, err := c.forward(ctx, http.MethodPost, "/purchases/gamepass", data)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out PurchaseResult
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode purchase response: %w", err)
	}
	if !out.Success {
		return &out, fmt.Errorf("%w: %s", ErrPurchaseRejected, out.Message)
	}
	return &out, nil
}

func (c *Client) forward(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("automation service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}
