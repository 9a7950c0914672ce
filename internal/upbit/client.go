package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coinpaper/internal/domain"
	"coinpaper/internal/infra"
)

// Client is the REST-side collaborator for one-shot requests: the market
// listing and batch tickers. Calls go through a token-bucket limiter (the
// public API is rate limited) and a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *infra.RateLimiter
	breaker *infra.CircuitBreaker
}

// NewClient creates a REST client for the given base URL, e.g.
// "https://api.upbit.com/v1".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: infra.NewRateLimiter(10, 8),
		breaker: infra.NewCircuitBreaker("upbit-rest", 5, 2, 30*time.Second),
	}
}

// Markets lists all tradable instruments with their display names.
func (c *Client) Markets(ctx context.Context) ([]Market, error) {
	var out []Market
	if err := c.get(ctx, "/market/all?isDetails=false", "market_all", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tickers fetches current tickers for the given instrument codes in one call.
func (c *Client) Tickers(ctx context.Context, codes []string) ([]domain.TickerSnapshot, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	path := "/ticker?markets=" + url.QueryEscape(strings.Join(codes, ","))
	var rows []restTicker
	if err := c.get(ctx, path, "ticker", &rows); err != nil {
		return nil, err
	}

	out := make([]domain.TickerSnapshot, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSnapshot())
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path, endpoint string, out any) error {
	if !c.breaker.Allow() {
		infra.RestRequestsTotal.WithLabelValues(endpoint, "rejected").Inc()
		return fmt.Errorf("upbit rest unavailable (breaker open)")
	}

	c.limiter.Wait()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		infra.RestRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("upbit rest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		infra.RestRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("upbit rest status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		infra.RestRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.breaker.RecordFailure()
		infra.RestRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("upbit rest decode failed: %w", err)
	}

	c.breaker.RecordSuccess()
	infra.RestRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return nil
}
