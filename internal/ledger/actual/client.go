// Package actual reads a ledger through the Actual Budget HTTP API bridge
// (/v1/budgets/{syncId}/...). It only ever issues GET requests.
package actual

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgercache/internal/log"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxConcurrency = 4
	defaultMaxRetries     = 3
	defaultRetryBase      = 250 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
	maxErrorBody          = 512
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrNotFound    = errors.New("not found")
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *HTTPError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures the client. BaseURL, APIKey and BudgetID are required.
type Config struct {
	BaseURL            string
	APIKey             string
	BudgetID           string
	EncryptionPassword string
	Timeout            time.Duration
	MaxConcurrency     int
	MaxRetries         int
	RetryBaseDelay     time.Duration
	HTTPClient         *http.Client
	Logger             *log.Logger
}

type Client struct {
	base        *url.URL
	apiKey      string
	budgetID    string
	password    string
	http        *http.Client
	concurrency int
	maxRetries  int
	retryBase   time.Duration
	breaker     *breaker
	logger      *log.Logger
}

func New(cfg Config) (*Client, error) {
	var missing []string
	if strings.TrimSpace(cfg.BaseURL) == "" {
		missing = append(missing, "base URL")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		missing = append(missing, "API key")
	}
	if strings.TrimSpace(cfg.BudgetID) == "" {
		missing = append(missing, "budget id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("actual client: missing %s", strings.Join(missing, ", "))
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("actual client: parse base URL: %w", err)
	}

	c := &Client{
		base:        base,
		apiKey:      cfg.APIKey,
		budgetID:    cfg.BudgetID,
		password:    cfg.EncryptionPassword,
		http:        cfg.HTTPClient,
		concurrency: cfg.MaxConcurrency,
		maxRetries:  cfg.MaxRetries,
		retryBase:   cfg.RetryBaseDelay,
		breaker:     newBreaker(5, 30*time.Second),
		logger:      cfg.Logger,
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultMaxConcurrency
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if cfg.MaxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryBase <= 0 {
		c.retryBase = defaultRetryBase
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	c.logger = c.logger.WithComponent(log.ComponentLedger)
	return c, nil
}

// budgetPath joins segments under /v1/budgets/{syncId}.
func (c *Client) budgetPath(segments ...string) string {
	parts := []string{"v1", "budgets", url.PathEscape(c.budgetID)}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	return "/" + strings.Join(parts, "/")
}

// getJSON performs a GET with retries and decodes the {"data": ...} envelope
// into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if !c.breaker.allow() {
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger.DebugContext(ctx, "Retrying ledger request",
				log.FieldPath, path,
				log.FieldAttempt, attempt,
				log.FieldError, lastErr.Error(),
				"delay", delay.String())
			select {
			case <-ctx.Done():
				c.breaker.abort()
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.do(ctx, path, query, out)
		if err == nil {
			c.breaker.success()
			return nil
		}
		if ctx.Err() != nil {
			c.breaker.abort()
			return ctx.Err()
		}
		lastErr = err
		if !isRetryable(err) {
			// The server answered; it is reachable.
			c.breaker.success()
			return err
		}
	}
	c.breaker.failure()
	return lastErr
}

func (c *Client) do(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	if c.password != "" {
		req.Header.Set("budget-encryption-password", c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, httpErr)
		}
		return httpErr
	}

	env := envelope{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type envelope struct {
	Data any `json:"data"`
}

// backoff returns the delay before retry number attempt (0-based): the base
// delay doubled per attempt, capped.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 16 {
		return maxRetryDelay
	}
	d := c.retryBase << attempt
	if d > maxRetryDelay || d <= 0 {
		return maxRetryDelay
	}
	return d
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
