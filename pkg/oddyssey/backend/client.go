// Package backend is a client for the Oddyssey evaluation service and its
// match mirror.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
)

const (
	defaultRateLimit = 5.0 // requests per second
	defaultBurst     = 5
)

// Client is an evaluation service client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SlipEvaluations returns the service's records of address's slips in cycle.
func (c *Client) SlipEvaluations(ctx context.Context, cycle odds.CycleID, address string) ([]slip.Evaluation, error) {
	var evals []slip.Evaluation
	path := fmt.Sprintf("/api/oddyssey/evaluations/%d/%s", cycle, url.PathEscape(address))
	if err := c.get(ctx, path, nil, &evals); err != nil {
		return nil, err
	}
	return evals, nil
}

// Stats returns competition-wide statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/oddyssey/stats", nil, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Leaderboard returns the ranked slips of cycle.
func (c *Client) Leaderboard(ctx context.Context, cycle odds.CycleID) ([]LeaderboardEntry, error) {
	params := url.Values{}
	params.Set("cycle", strconv.FormatUint(uint64(cycle), 10))

	var entries []LeaderboardEntry
	if err := c.get(ctx, "/api/oddyssey/leaderboard", params, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CurrentCycleID reads the mirrored current cycle.
func (c *Client) CurrentCycleID(ctx context.Context) (odds.CycleID, error) {
	var dto cycleDTO
	if err := c.get(ctx, "/api/oddyssey/current-cycle", nil, &dto); err != nil {
		return 0, err
	}
	return dto.CycleID, nil
}

// CycleMatches reads the mirrored match list of cycle.
func (c *Client) CycleMatches(ctx context.Context, cycle odds.CycleID) ([]odds.Match, error) {
	var dtos []matchDTO
	path := fmt.Sprintf("/api/oddyssey/cycles/%d/matches", cycle)
	if err := c.get(ctx, path, nil, &dtos); err != nil {
		return nil, err
	}

	matches := make([]odds.Match, 0, len(dtos))
	for _, d := range dtos {
		matches = append(matches, d.toMatch())
	}
	return matches, nil
}

// get makes a rate-limited GET request and unwraps the response envelope.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	env := envelope[json.RawMessage]{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request unsuccessful"
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

var (
	_ Service     = (*Client)(nil)
	_ odds.Source = (*Client)(nil)
)
