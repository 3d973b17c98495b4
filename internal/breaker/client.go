// Package breaker wraps outbound HTTP calls in a circuit breaker so a
// failing dependency is short-circuited instead of holding requests open.
package breaker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned when the breaker is open, the call failed at the
// transport level, or the dependency answered with a 5xx.
var ErrUnavailable = errors.New("dependency unavailable")

type Client struct {
	name   string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[*http.Response]
}

func New(name string, client *http.Client, logger *slog.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		name:   name,
		client: client,
		cb:     cb,
	}
}

// Do sends req through the breaker. Responses below 500 are returned to the
// caller unchanged, including 4xx.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.cb.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.name, err)
	}
	return resp, nil
}

func (c *Client) Name() string {
	return c.name
}
