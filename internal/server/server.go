// Package server exposes the dashboard state and selection controls over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
	"github.com/Proton-105/himera-analytics/internal/health"
	"github.com/Proton-105/himera-analytics/internal/i18n"
	"github.com/Proton-105/himera-analytics/internal/selection"
	"github.com/Proton-105/himera-analytics/internal/webapp"
)

const maxBodyBytes = 1 << 16

// Bridge is the auth side of the dashboard session.
type Bridge interface {
	State() webapp.AuthState
	Failure() *apperrors.AppError
	Logout()
}

// Coordinator is the selection side of the dashboard session.
type Coordinator interface {
	Snapshot() selection.Snapshot
	SelectBot(botID int64) error
	SetDateRange(r selection.DateRange) error
	HandleAuth(state webapp.AuthState)
}

// ErrorHandler logs a failure and names its user message.
type ErrorHandler interface {
	Handle(ctx context.Context, err error) (string, bool)
}

// Server holds the dashboard HTTP handlers.
type Server struct {
	bridge   Bridge
	coord    Coordinator
	health   *health.Checker
	messages *i18n.Manager
	errors   ErrorHandler
	validate *validator.Validate
	log      *slog.Logger
}

// New builds the HTTP surface.
func New(bridge Bridge, coord Coordinator, checker *health.Checker, messages *i18n.Manager, errHandler ErrorHandler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(log)
	}

	return &Server{
		bridge:   bridge,
		coord:    coord,
		health:   checker,
		messages: messages,
		errors:   errHandler,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Router registers every endpoint on a chi router. Middlewares run in the given order,
// after RealIP has rewritten the remote address.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middlewares...)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Post("/selection/bot", s.handleSelectBot)
		r.Post("/selection/range", s.handleSetRange)
		r.Post("/logout", s.handleLogout)
	})

	s.log.Debug("dashboard router initialized", slog.Int("middleware_count", len(middlewares)+1))

	return r
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type selectBotRequest struct {
	BotID int64 `json:"bot_id" validate:"required,gt=0"`
}

func (s *Server) handleSelectBot(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}

	var req selectBotRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.coord.SelectBot(req.BotID); err != nil {
		if errors.Is(err, selection.ErrUnknownBot) {
			s.writeError(w, r, http.StatusNotFound, apperrors.NewValidationError(err.Error()))
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type setRangeRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}

	var req setRangeRequest
	if !s.decode(w, r, &req) {
		return
	}

	rng, err := selection.ParseDateRange(req.From, req.To)
	if err == nil {
		err = s.coord.SetDateRange(rng)
	}
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, apperrors.NewValidationError(err.Error()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.bridge.Logout()
	s.coord.HandleAuth(s.bridge.State())
	s.log.Info("dashboard session logged out")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.bridge.State().IsAuthenticated() {
		return true
	}

	var err error = apperrors.NewStateError("dashboard session is not authenticated")
	if failure := s.bridge.Failure(); failure != nil {
		err = failure
	}
	s.writeError(w, r, http.StatusUnauthorized, err)
	return false
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, http.StatusBadRequest, apperrors.NewValidationError("malformed request body: "+err.Error()))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, apperrors.NewValidationError(err.Error()))
		return false
	}
	return true
}

type errorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	key := apperrors.GenericUserMessage
	if s.errors != nil {
		key, _ = s.errors.Handle(r.Context(), err)
	}

	resp := errorResponse{Message: s.translate(r, key)}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
	}

	writeJSON(w, status, resp)
}

func (s *Server) translate(r *http.Request, key string) string {
	if s.messages == nil {
		return key
	}
	return s.messages.Match(r.Header.Get("Accept-Language")).T(key)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
