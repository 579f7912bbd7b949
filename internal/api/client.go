package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
	"github.com/Proton-105/himera-analytics/pkg/metrics"
)

const maxErrorBody = 64 << 10

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every request. Zero disables the timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.http.Timeout = timeout }
}

// WithRateLimit spreads requests to at most rps per second. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker guards the backend with a breaker that counts transport and 5xx failures.
func WithCircuitBreaker() Option {
	return func(c *Client) { c.breaker = apperrors.NewCircuitBreaker(countsAsBreakerFailure) }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// Client talks to the analytics backend.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

// New creates a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BreakerState reports the circuit breaker state, "closed" when no breaker is configured.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return apperrors.StateClosed.String()
	}
	return c.breaker.State().String()
}

// VerifyTelegramAuth asks the backend to verify raw init data.
func (c *Client) VerifyTelegramAuth(ctx context.Context, initData string) (VerifyResult, error) {
	var out VerifyResult
	body := map[string]string{"init_data": initData}
	err := c.do(ctx, request{method: http.MethodPost, endpoint: "/auth/telegram", path: "/auth/telegram", body: body}, &out)
	return out, err
}

// GetUserBots lists the viewer's bots in server order.
func (c *Client) GetUserBots(ctx context.Context, headers map[string]string) ([]Bot, error) {
	var out []Bot
	if err := c.do(ctx, request{method: http.MethodGet, endpoint: "/bots", path: "/bots", headers: headers}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Bot{}
	}
	return out, nil
}

// GetBotAnalytics returns the per-day points the backend reports for [start, end].
func (c *Client) GetBotAnalytics(ctx context.Context, botID int64, start, end time.Time, headers map[string]string) ([]AnalyticsPoint, error) {
	query := url.Values{}
	query.Set("bot_id", strconv.FormatInt(botID, 10))
	query.Set("start_date", FormatDate(start))
	query.Set("end_date", FormatDate(end))

	var out []AnalyticsPoint
	if err := c.do(ctx, request{method: http.MethodGet, endpoint: "/analytics", path: "/analytics", query: query, headers: headers}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []AnalyticsPoint{}
	}
	return out, nil
}

// GetBotUsers returns one page of a bot's users.
func (c *Client) GetBotUsers(ctx context.Context, botID int64, p Pagination, headers map[string]string) (Page[User], error) {
	query := pageQuery(botID, p)
	return getPage[User](ctx, c, request{method: http.MethodGet, endpoint: "/users", path: "/users", query: query, headers: headers}, "users")
}

// GetBotPayments returns one page of a bot's payments, optionally limited to a date window.
func (c *Client) GetBotPayments(ctx context.Context, botID int64, filter PaymentsFilter, headers map[string]string, p Pagination) (Page[Payment], error) {
	query := pageQuery(botID, p)
	if !filter.Start.IsZero() {
		query.Set("start_date", FormatDate(filter.Start))
	}
	if !filter.End.IsZero() {
		query.Set("end_date", FormatDate(filter.End))
	}

	return getPage[Payment](ctx, c, request{method: http.MethodGet, endpoint: "/payments", path: "/payments", query: query, headers: headers}, "payments")
}

// GetBotSubscriptions returns one page of a bot's subscriptions; an empty status lists all.
func (c *Client) GetBotSubscriptions(ctx context.Context, botID int64, status SubscriptionStatus, headers map[string]string, p Pagination) (Page[Subscription], error) {
	query := pageQuery(botID, p)
	if status != "" {
		query.Set("status", string(status))
	}

	return getPage[Subscription](ctx, c, request{method: http.MethodGet, endpoint: "/subscriptions", path: "/subscriptions", query: query, headers: headers}, "subscriptions")
}

// GetBotSummary returns aggregate totals for a bot.
func (c *Client) GetBotSummary(ctx context.Context, botID int64, headers map[string]string) (Summary, error) {
	var out Summary
	path := fmt.Sprintf("/bots/%d/summary", botID)
	err := c.do(ctx, request{method: http.MethodGet, endpoint: "/bots/{id}/summary", path: path, headers: headers}, &out)
	return out, err
}

type request struct {
	method   string
	endpoint string // metric label, path without ids
	path     string
	query    url.Values
	body     any
	headers  map[string]string
}

func pageQuery(botID int64, p Pagination) url.Values {
	p = p.normalized()

	query := url.Values{}
	query.Set("bot_id", strconv.FormatInt(botID, 10))
	query.Set("page", strconv.Itoa(p.Page))
	query.Set("limit", strconv.Itoa(p.Limit))
	return query
}

// getPage decodes a list envelope whose items live under itemsKey.
func getPage[T any](ctx context.Context, c *Client, req request, itemsKey string) (Page[T], error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, req, &raw); err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{Items: []T{}}
	fields := []struct {
		key string
		dst any
	}{
		{itemsKey, &page.Items},
		{"total", &page.Total},
		{"page", &page.Page},
		{"limit", &page.Limit},
	}
	for _, f := range fields {
		value, ok := raw[f.key]
		if !ok || string(value) == "null" {
			continue
		}
		if err := json.Unmarshal(value, f.dst); err != nil {
			return Page[T]{}, fmt.Errorf("decode %s field %q: %w", req.endpoint, f.key, err)
		}
	}
	if page.Items == nil {
		page.Items = []T{}
	}

	return page, nil
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	if c.breaker == nil {
		return c.send(ctx, req, out)
	}

	err := c.breaker.Call(func() error { return c.send(ctx, req, out) })
	if err == apperrors.ErrCircuitOpen || err == apperrors.ErrHalfOpenTooManyRequests {
		c.log.Warn("backend circuit open, request skipped", slog.String("endpoint", req.endpoint))
		return newTransportError(req.endpoint, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, req request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return newTransportError(req.endpoint, err)
		}
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", req.endpoint, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", req.endpoint, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordAPIRequest(req.endpoint, 0, time.Since(start))
		c.log.Warn("backend request failed",
			slog.String("endpoint", req.endpoint),
			slog.Any("error", err),
		)
		return newTransportError(req.endpoint, err)
	}
	defer resp.Body.Close()

	metrics.RecordAPIRequest(req.endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := newStatusError(req.endpoint, resp.StatusCode, errorMessage(resp.Body))
		c.log.Warn("backend returned error status",
			slog.String("endpoint", req.endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("message", reqErr.Message),
		)
		return reqErr
	}

	c.log.Debug("backend request completed",
		slog.String("endpoint", req.endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.endpoint, err)
	}

	return nil
}

func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}

	return payload.Message
}
