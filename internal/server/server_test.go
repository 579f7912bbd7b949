package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-analytics/internal/api"
	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
	"github.com/Proton-105/himera-analytics/internal/health"
	"github.com/Proton-105/himera-analytics/internal/i18n"
	"github.com/Proton-105/himera-analytics/internal/selection"
	"github.com/Proton-105/himera-analytics/internal/webapp"
)

type fakeBridge struct {
	mu      sync.Mutex
	state   webapp.AuthState
	failure *apperrors.AppError
}

func (b *fakeBridge) State() webapp.AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *fakeBridge) Failure() *apperrors.AppError {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

func (b *fakeBridge) Logout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = webapp.Unauthenticated(webapp.ReasonNone)
}

type fakeCoordinator struct {
	mu       sync.Mutex
	snapshot selection.Snapshot
	selected []int64
	ranges   []selection.DateRange
	auth     []webapp.AuthState
	botErr   error
}

func (c *fakeCoordinator) Snapshot() selection.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *fakeCoordinator) SelectBot(botID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.botErr != nil {
		return c.botErr
	}
	c.selected = append(c.selected, botID)
	return nil
}

func (c *fakeCoordinator) SetDateRange(r selection.DateRange) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = append(c.ranges, r)
	return nil
}

func (c *fakeCoordinator) HandleAuth(state webapp.AuthState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = append(c.auth, state)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authenticated() webapp.AuthState {
	return webapp.Authenticated(webapp.Identity{ID: 42, FirstName: "Ada", Username: "ada", AuthDate: 1700000000, Hash: "secret-hash"})
}

func newTestServer(t *testing.T, bridge *fakeBridge, coord *fakeCoordinator, checker *health.Checker) http.Handler {
	t.Helper()

	messages, err := i18n.New("en")
	require.NoError(t, err)

	log := testLogger()
	return New(bridge, coord, checker, messages, apperrors.NewHandler(log, false), log).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDashboard_RendersSnapshotWithoutHash(t *testing.T) {
	bridge := &fakeBridge{state: authenticated()}
	coord := &fakeCoordinator{snapshot: selection.Snapshot{
		Bots:          []api.Bot{{UID: 1, BotID: 100, Username: "alpha_bot", Status: api.BotStatusActive}},
		SelectedBotID: 1,
		Range:         selection.NewDateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)),
		Analytics:     []api.AnalyticsPoint{{Date: "2024-01-01", Registrations: 3}},
		Summary:       &api.Summary{TotalUsers: 10},
	}}

	rec := do(t, newTestServer(t, bridge, coord, nil), http.MethodGet, "/api/dashboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-hash")

	var resp dashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, webapp.StatusAuthenticated, resp.Auth.Status)
	require.NotNil(t, resp.Auth.User)
	assert.Equal(t, int64(42), resp.Auth.User.ID)
	assert.Equal(t, int64(1), resp.SelectedBotID)
	assert.Len(t, resp.Analytics, 1)
	assert.Equal(t, "2024-01-07", resp.Range.To.Format(api.DateLayout))
	assert.Empty(t, resp.Notice)
}

func TestDashboard_LocalizesMessages(t *testing.T) {
	bridge := &fakeBridge{
		state:   webapp.Unauthenticated(webapp.ReasonHostUnavailable),
		failure: apperrors.NewHostUnavailableError(),
	}
	coord := &fakeCoordinator{}

	rec := do(t, newTestServer(t, bridge, coord, nil), http.MethodGet, "/api/dashboard", "", map[string]string{"Accept-Language": "ru-RU,ru;q=0.9"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, webapp.StatusUnauthenticated, resp.Auth.Status)
	assert.Equal(t, apperrors.CodeHostUnavailable, resp.Auth.Code)
	assert.Equal(t, "Откройте панель из Telegram, чтобы продолжить.", resp.Auth.Message)
	assert.Nil(t, resp.Auth.User)
}

func TestDashboard_Notices(t *testing.T) {
	tests := []struct {
		name     string
		snapshot selection.Snapshot
		want     string
	}{
		{
			name:     "no bots",
			snapshot: selection.Snapshot{},
			want:     "You do not manage any bots yet.",
		},
		{
			name: "incomplete range",
			snapshot: selection.Snapshot{
				Bots:  []api.Bot{{BotID: 1}},
				Range: selection.DateRange{From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			},
			want: "Pick the end date of the range.",
		},
		{
			name:     "bots still loading",
			snapshot: selection.Snapshot{BotsLoading: true, Range: selection.NewDateRange(time.Now(), time.Now())},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &fakeBridge{state: authenticated()}
			coord := &fakeCoordinator{snapshot: tt.snapshot}

			rec := do(t, newTestServer(t, bridge, coord, nil), http.MethodGet, "/api/dashboard", "", nil)

			var resp dashboardResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Notice)
		})
	}
}

func TestDashboard_TranslatesFetchError(t *testing.T) {
	bridge := &fakeBridge{state: authenticated()}
	coord := &fakeCoordinator{snapshot: selection.Snapshot{Bots: []api.Bot{{BotID: 1}}, Error: "errors.network"}}

	rec := do(t, newTestServer(t, bridge, coord, nil), http.MethodGet, "/api/dashboard", "", nil)

	var resp dashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Could not reach the analytics service.", resp.Error)
}

func TestSelectBot(t *testing.T) {
	tests := []struct {
		name     string
		state    webapp.AuthState
		body     string
		botErr   error
		wantCode int
		wantSel  []int64
	}{
		{name: "selects", state: authenticated(), body: `{"bot_id":1}`, wantCode: http.StatusNoContent, wantSel: []int64{1}},
		{name: "missing id", state: authenticated(), body: `{}`, wantCode: http.StatusUnprocessableEntity},
		{name: "malformed", state: authenticated(), body: `{"bot_id":`, wantCode: http.StatusBadRequest},
		{name: "unknown field", state: authenticated(), body: `{"bot_id":1,"x":2}`, wantCode: http.StatusBadRequest},
		{name: "unknown bot", state: authenticated(), body: `{"bot_id":7}`, botErr: selection.ErrUnknownBot, wantCode: http.StatusNotFound},
		{name: "unauthenticated", state: webapp.Unauthenticated(webapp.ReasonNone), body: `{"bot_id":1}`, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &fakeBridge{state: tt.state}
			coord := &fakeCoordinator{botErr: tt.botErr}

			rec := do(t, newTestServer(t, bridge, coord, nil), http.MethodPost, "/api/selection/bot", tt.body, nil)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantSel, coord.selected)
			if rec.Code >= http.StatusBadRequest {
				var resp errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Message)
			}
		})
	}
}

func TestSetRange(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		complete bool
	}{
		{name: "complete", body: `{"from":"2024-01-01","to":"2024-01-07"}`, wantCode: http.StatusNoContent, complete: true},
		{name: "start only", body: `{"from":"2024-01-01"}`, wantCode: http.StatusNoContent},
		{name: "inverted", body: `{"from":"2024-01-07","to":"2024-01-01"}`, wantCode: http.StatusUnprocessableEntity},
		{name: "bad date", body: `{"from":"01/07/2024"}`, wantCode: http.StatusUnprocessableEntity},
		{name: "missing from", body: `{"to":"2024-01-07"}`, wantCode: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &fakeBridge{state: authenticated()}
			coord := &fakeCoordinator{}

			rec := do(t, newTestServer(t, bridge, coord, nil), http.MethodPost, "/api/selection/range", tt.body, nil)
			require.Equal(t, tt.wantCode, rec.Code)

			if tt.wantCode == http.StatusNoContent {
				require.Len(t, coord.ranges, 1)
				assert.Equal(t, tt.complete, coord.ranges[0].Complete())
			} else {
				assert.Empty(t, coord.ranges)
				var resp errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, apperrors.CodeValidation, resp.Code)
				assert.Equal(t, "The request is invalid.", resp.Message)
			}
		})
	}
}

func TestLogout_ForwardsStateToCoordinator(t *testing.T) {
	bridge := &fakeBridge{state: authenticated()}
	coord := &fakeCoordinator{}

	rec := do(t, newTestServer(t, bridge, coord, nil), http.MethodPost, "/api/logout", "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, coord.auth, 1)
	assert.Equal(t, webapp.StatusUnauthenticated, coord.auth[0].Status)
}

func TestHealthEndpoints(t *testing.T) {
	checker := health.NewChecker(testLogger())
	checker.AddCheck("backend", health.CheckFunc(func(context.Context) error { return errors.New("down") }))

	h := newTestServer(t, &fakeBridge{}, &fakeCoordinator{}, checker)

	live := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, live.Code)

	ready := do(t, h, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(ready.Body.Bytes(), &report))
	assert.False(t, report.Healthy)
	assert.Equal(t, "down", report.Components["backend"])

	metricsRec := do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "go_goroutines")
}

func TestRoutes_RejectWrongMethod(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeBridge{}, &fakeCoordinator{}, nil), http.MethodGet, "/api/logout", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
