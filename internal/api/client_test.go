package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
)

const testInitData = "query_id=AAH&user=%7B%22id%22%3A42%7D&hash=abc"

type recorded struct {
	method string
	path   string
	query  map[string]string
	header http.Header
	body   []byte
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	handler  http.HandlerFunc
}

func newFakeBackend(t *testing.T, handler http.HandlerFunc) (*fakeBackend, *Client) {
	t.Helper()

	fb := &fakeBackend{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		query := map[string]string{}
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}

		fb.mu.Lock()
		fb.requests = append(fb.requests, recorded{method: r.Method, path: r.URL.Path, query: query, header: r.Header.Clone(), body: body})
		fb.mu.Unlock()

		fb.handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := New(srv.URL+"/api", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return fb, client
}

func (fb *fakeBackend) last(t *testing.T) recorded {
	t.Helper()

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(t, fb.requests)
	return fb.requests[len(fb.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func authHeaders() map[string]string {
	return map[string]string{"X-Telegram-Init-Data": testInitData}
}

func TestGetUserBots_KeepsServerOrderAndHeaders(t *testing.T) {
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Bot{
			{UID: 2, BotID: 200, Username: "second", Status: "ACTIVE"},
			{UID: 1, BotID: 100, Username: "first", Status: "PAUSED"},
		})
	})

	bots, err := client.GetUserBots(context.Background(), authHeaders())
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, int64(200), bots[0].BotID)
	assert.True(t, bots[0].Active())
	assert.False(t, bots[1].Active())

	req := fb.last(t)
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/api/bots", req.path)
	assert.Equal(t, testInitData, req.header.Get("X-Telegram-Init-Data"))
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
}

func TestCallerHeadersWinOverDefaults(t *testing.T) {
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Bot{})
	})

	_, err := client.GetUserBots(context.Background(), map[string]string{"Content-Type": "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", fb.last(t).header.Get("Content-Type"))
}

func TestGetBotAnalytics(t *testing.T) {
	points := []AnalyticsPoint{
		{Date: "2024-03-01", Registrations: 5, Payments: 2, Trials: 1, Keys: 3, Renewals: 0},
		{Date: "2024-03-03", Registrations: 1},
	}
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, points)
	})

	// late evening in a zone east of UTC must still render the local calendar date
	zone := time.FixedZone("UTC+10", 10*60*60)
	start := time.Date(2024, 3, 1, 23, 30, 0, 0, zone)
	end := time.Date(2024, 3, 7, 0, 15, 0, 0, zone)

	first, err := client.GetBotAnalytics(context.Background(), 100, start, end, authHeaders())
	require.NoError(t, err)
	second, err := client.GetBotAnalytics(context.Background(), 100, start, end, authHeaders())
	require.NoError(t, err)

	assert.Equal(t, points, first)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2, "missing days are not zero-filled")

	req := fb.last(t)
	assert.Equal(t, "/api/analytics", req.path)
	assert.Equal(t, map[string]string{"bot_id": "100", "start_date": "2024-03-01", "end_date": "2024-03-07"}, req.query)
}

func TestPaginationDefaults(t *testing.T) {
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users":
			writeJSON(w, http.StatusOK, map[string]any{"users": []User{{UID: 1, UserID: 10}}, "total": 1, "page": 1, "limit": 100})
		case "/api/payments":
			writeJSON(w, http.StatusOK, map[string]any{"payments": []Payment{{BillID: "b1", Amount: 9.5}}, "total": 1, "page": 1, "limit": 100})
		case "/api/subscriptions":
			writeJSON(w, http.StatusOK, map[string]any{"subscriptions": []Subscription{{SubUID: "s1", Status: SubscriptionActive}}, "total": 1, "page": 1, "limit": 100})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	users, err := client.GetBotUsers(ctx, 7, Pagination{}, authHeaders())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bot_id": "7", "page": "1", "limit": "100"}, fb.last(t).query)
	assert.Equal(t, Page[User]{Items: []User{{UID: 1, UserID: 10}}, Total: 1, Page: 1, Limit: 100}, users)

	payments, err := client.GetBotPayments(ctx, 7, PaymentsFilter{}, authHeaders(), Pagination{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bot_id": "7", "page": "1", "limit": "100"}, fb.last(t).query)
	require.Len(t, payments.Items, 1)
	assert.Equal(t, "b1", payments.Items[0].BillID)

	subs, err := client.GetBotSubscriptions(ctx, 7, "", authHeaders(), Pagination{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bot_id": "7", "page": "1", "limit": "100"}, fb.last(t).query)
	require.Len(t, subs.Items, 1)
	assert.Equal(t, SubscriptionActive, subs.Items[0].Status)
}

func TestOptionalFilters(t *testing.T) {
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"total": 0, "page": 2, "limit": 10})
	})
	ctx := context.Background()

	filter := PaymentsFilter{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)}
	page, err := client.GetBotPayments(ctx, 3, filter, authHeaders(), Pagination{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.Equal(t, map[string]string{
		"bot_id": "3", "page": "2", "limit": "10", "start_date": "2024-01-01", "end_date": "2024-01-31",
	}, fb.last(t).query)

	_, err = client.GetBotSubscriptions(ctx, 3, SubscriptionExpired, authHeaders(), Pagination{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "Expired", fb.last(t).query["status"])
}

func TestGetBotSummary(t *testing.T) {
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Summary{TotalUsers: 120, ActiveUsers: 80, TotalRevenue: 1500.5, AverageCheck: 12.5})
	})

	summary, err := client.GetBotSummary(context.Background(), 55, authHeaders())
	require.NoError(t, err)
	assert.Equal(t, int64(120), summary.TotalUsers)
	assert.InDelta(t, 1500.5, summary.TotalRevenue, 0.001)
	assert.Equal(t, "/api/bots/55/summary", fb.last(t).path)
}

func TestVerifyTelegramAuth(t *testing.T) {
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VerifyResult{User: User{UserID: 42}, Token: "jwt"})
	})

	result, err := client.VerifyTelegramAuth(context.Background(), testInitData)
	require.NoError(t, err)
	assert.Equal(t, "jwt", result.Token)
	assert.Equal(t, int64(42), result.User.UserID)

	req := fb.last(t)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/auth/telegram", req.path)
	assert.JSONEq(t, `{"init_data":"`+testInitData+`"}`, string(req.body))
}

func TestErrorNormalization(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		message string
		code    string
	}{
		{name: "json message", status: http.StatusForbidden, body: `{"message":"invalid init data"}`, message: "invalid init data", code: apperrors.CodeBackend},
		{name: "plain body", status: http.StatusBadGateway, body: "upstream died", message: "HTTP 502", code: apperrors.CodeBackend},
		{name: "empty body", status: http.StatusInternalServerError, body: "", message: "HTTP 500", code: apperrors.CodeBackend},
		{name: "json without message", status: http.StatusNotFound, body: `{"detail":"nope"}`, message: "HTTP 404", code: apperrors.CodeBackend},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := client.GetUserBots(context.Background(), authHeaders())
			require.Error(t, err)

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tc.status, reqErr.Status)
			assert.Equal(t, tc.message, reqErr.Error())

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.status >= 500, appErr.Retryable)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client := New(baseURL, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := client.GetUserBots(context.Background(), authHeaders())
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Zero(t, reqErr.Status)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeNetwork, appErr.Code)
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	_, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.GetUserBots(ctx, authHeaders())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, countsAsBreakerFailure(err))
}

func TestCountsAsBreakerFailure(t *testing.T) {
	assert.True(t, countsAsBreakerFailure(newStatusError("/bots", 503, "")))
	assert.True(t, countsAsBreakerFailure(newTransportError("/bots", errors.New("connection refused"))))
	assert.False(t, countsAsBreakerFailure(newStatusError("/bots", 403, "forbidden")))
	assert.False(t, countsAsBreakerFailure(errors.New("decode failure")))
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	fb, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	WithCircuitBreaker()(client)

	for i := 0; i < apperrors.MinRequests; i++ {
		_, err := client.GetUserBots(context.Background(), authHeaders())
		require.Error(t, err)
	}
	assert.Equal(t, "open", client.BreakerState())

	fb.mu.Lock()
	sent := len(fb.requests)
	fb.mu.Unlock()

	_, err := client.GetUserBots(context.Background(), authHeaders())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, sent, len(fb.requests), "open breaker must not reach the backend")
}

func TestRateLimitHonoursContext(t *testing.T) {
	_, client := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Bot{})
	})
	WithRateLimit(0.001, 1)(client)

	_, err := client.GetUserBots(context.Background(), authHeaders())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.GetUserBots(ctx, authHeaders())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Zero(t, reqErr.Status)
}

func TestFormatDate(t *testing.T) {
	zone := time.FixedZone("UTC-8", -8*60*60)
	assert.Equal(t, "2024-12-31", FormatDate(time.Date(2024, 12, 31, 23, 59, 0, 0, zone)))
}
