package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/himera-analytics/internal/api"
	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
	"github.com/Proton-105/himera-analytics/internal/health"
	"github.com/Proton-105/himera-analytics/internal/i18n"
	"github.com/Proton-105/himera-analytics/internal/lifecycle"
	"github.com/Proton-105/himera-analytics/internal/middleware"
	"github.com/Proton-105/himera-analytics/internal/ratelimit"
	"github.com/Proton-105/himera-analytics/internal/selection"
	"github.com/Proton-105/himera-analytics/internal/server"
	"github.com/Proton-105/himera-analytics/internal/webapp"
	"github.com/Proton-105/himera-analytics/pkg/config"
	"github.com/Proton-105/himera-analytics/pkg/graceful"
	"github.com/Proton-105/himera-analytics/pkg/logger"
	redispkg "github.com/Proton-105/himera-analytics/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "himera-analytics: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.AppEnv,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
	}

	log := logger.New(*cfg)
	slog.SetDefault(log.Logger)

	shutdown := lifecycle.NewShutdown(log.Logger)
	shutdown.Register("logger", func(context.Context) error { return log.Close() })
	if cfg.Sentry.Enabled {
		shutdown.Register("sentry", func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	config.Watch(v, log.Logger, func(next *config.Config) {
		log.SetLevel(next.Logger.Level)
	})

	log.Info("starting himera analytics dashboard",
		slog.String("env", cfg.AppEnv),
		slog.String("addr", cfg.Server.Addr),
		slog.String("api_base_url", cfg.API.BaseURL),
	)

	checker := health.NewChecker(log.Logger)

	var (
		store   selection.Store
		limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(log.Logger)
	)
	if cfg.Redis.Enabled {
		rdb, err := redispkg.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })

		store = selection.NewRedisStore(redispkg.NewMetricsClient(rdb), cfg.Selection.TTL, log.Logger)
		limiter = ratelimit.NewRedisLimiter(rdb.Client, log.Logger)
		checker.AddCheck("redis", health.NewRedisChecker(rdb))
	}

	messages, err := i18n.New(cfg.I18n.DefaultLang)
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	onClose := func() { log.Info("mini app close requested") }
	bridge := webapp.NewBridge(
		webapp.FirstLocator(
			webapp.StaticLocator(cfg.Auth.InitData, onClose, log.Logger),
			webapp.FileLocator(cfg.Auth.InitDataFile, onClose, log.Logger),
		),
		log.Logger,
		webapp.WithPollPolicy(webapp.PollPolicy{
			Backoff: apperrors.Backoff{
				Initial:    cfg.Auth.InitialBackoff,
				Max:        cfg.Auth.MaxBackoff,
				Multiplier: 2,
			},
			MaxWait: cfg.Auth.WaitTimeout,
		}),
		webapp.WithSignatureCheck(cfg.Auth.BotToken, cfg.Auth.MaxAge),
	)
	checker.AddCheck("telegram_auth", bridge)

	clientOpts := []api.Option{
		api.WithTimeout(cfg.API.Timeout),
		api.WithRateLimit(cfg.API.RateLimitRPS, cfg.API.RateBurst),
		api.WithLogger(log.Logger),
	}
	if cfg.API.Breaker {
		clientOpts = append(clientOpts, api.WithCircuitBreaker())
	}
	client := api.New(cfg.API.BaseURL, clientOpts...)
	checker.AddCheck("analytics_api", health.NewBreakerChecker(client.BreakerState))

	errHandler := apperrors.NewHandler(log.Logger, cfg.Sentry.Enabled)

	coordOpts := []selection.Option{
		selection.WithErrorHandler(errHandler),
		selection.WithLogger(log.Logger),
		selection.WithInitialRange(selection.LastDays(time.Now(), cfg.Selection.DefaultRangeDays)),
	}
	if store != nil {
		coordOpts = append(coordOpts, selection.WithStore(store))
	}
	coord := selection.New(client, bridge.AuthHeaders, coordOpts...)
	shutdown.Register("coordinator", func(context.Context) error {
		coord.Close()
		return nil
	})

	coord.HandleAuth(bridge.Initialize(ctx))

	srv := server.New(bridge, coord, checker, messages, errHandler, log.Logger)

	handler := srv.Router(
		logger.Middleware,
		middleware.Logging(log.Logger),
		middleware.Metrics,
		middleware.NewRateLimit(limiter, cfg.Server.RateLimit, log.Logger).Handle,
	)

	httpServer := graceful.NewServer(log.Logger, cfg.Server.Addr, handler, cfg.Server.ShutdownTimeout)
	serveErr := httpServer.ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "himera-analytics: shutdown: %v\n", err)
	}

	return serveErr
}
