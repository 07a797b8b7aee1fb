// Package identity is the outbound client for the external identity, chart
// and record service. The server never judges plays itself; it resolves
// bearer tokens, chart names, and play-record authenticity through this API.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/metrics"
)

// Me is the identity behind a bearer token.
type Me struct {
	ID       int32  `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Chart is the display metadata of a chart.
type Chart struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// Record is an uploaded play record.
type Record struct {
	ID        int32   `json:"id"`
	Player    int32   `json:"player"`
	Score     int32   `json:"score"`
	Accuracy  float32 `json:"accuracy"`
	FullCombo bool    `json:"fullCombo"`
}

// Client calls the external service over HTTPS. It is safe for concurrent
// use; all calls run behind one circuit breaker.
type Client struct {
	base string
	http *http.Client
	cb   *gobreaker.CircuitBreaker
}

// NewClient creates a client for the given base URL (no trailing slash).
func NewClient(base string) *Client {
	st := gobreaker.Settings{
		Name:        "identity",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
		cb:   gobreaker.NewCircuitBreaker(st),
	}
}

// Me resolves a bearer token to a user identity via GET /me.
func (c *Client) Me(ctx context.Context, token string) (Me, error) {
	var me Me
	err := c.getJSON(ctx, "/me", token, &me)
	return me, err
}

// Chart fetches chart metadata via GET /chart/{id}.
func (c *Client) Chart(ctx context.Context, id int32) (Chart, error) {
	var chart Chart
	err := c.getJSON(ctx, fmt.Sprintf("/chart/%d", id), "", &chart)
	return chart, err
}

// ChartName resolves a chart's display name, degrading to "Chart{id}" when
// the service is unavailable. Name resolution is cosmetic and never blocks
// room operations.
func (c *Client) ChartName(ctx context.Context, id int32) string {
	chart, err := c.Chart(ctx, id)
	if err != nil {
		logging.Warn(ctx, "chart name lookup failed, using fallback",
			zap.Int32("chart_id", id), zap.Error(err))
		return fmt.Sprintf("Chart%d", id)
	}
	return chart.Name
}

// Record fetches a play record via GET /record/{id}.
func (c *Client) Record(ctx context.Context, id int32) (Record, error) {
	var rec Record
	err := c.getJSON(ctx, fmt.Sprintf("/record/%d", id), "", &rec)
	return rec, err
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("identity: %s returned %d", path, resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}
