package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "railbook/backend/libs/db"
	libredis "railbook/backend/libs/redis"
	"railbook/backend/services/booking-service/internal/booking"
	"railbook/backend/services/booking-service/internal/config"
	httpserver "railbook/backend/services/booking-service/internal/http"
	"railbook/backend/services/booking-service/internal/http/handlers"
	"railbook/backend/services/booking-service/internal/http/middleware"
	"railbook/backend/services/booking-service/internal/inventory"
	"railbook/backend/services/booking-service/internal/poller"
	redisstore "railbook/backend/services/booking-service/internal/redis"
	"railbook/backend/services/booking-service/internal/repository"
	"railbook/backend/services/booking-service/internal/service"
	"railbook/backend/services/booking-service/internal/session"
	"railbook/backend/services/booking-service/internal/stations"
	"railbook/backend/services/booking-service/internal/upstream"
	"railbook/backend/services/booking-service/internal/ws"
)

const sweepInterval = time.Minute

// App wires booking service dependencies.
type App struct {
	server    *httpserver.Server
	registry  *session.Registry
	scheduler *poller.Scheduler
	watchers  *ws.Manager
	redis     *goredis.Client
	pool      *pgxpool.Pool
	logger    *zap.Logger
}

// New builds application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	redisClient, err := libredis.NewRedisClient(ctx, libredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a := &App{redis: redisClient, logger: logger}

	sealer, err := redisstore.NewSealer(cfg.SealSecret())
	if err != nil {
		a.Close()
		return nil, err
	}
	store := redisstore.NewSessionStore(redisClient, cfg.Session.TTL, sealer, logger)

	var (
		history  service.History
		recorder booking.Recorder
	)
	if cfg.Database.DSN != "" {
		pool, err := libdb.NewPostgresPool(ctx, cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		journal := repository.NewBookingJournal(pool)
		if err := journal.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		history, recorder = journal, journal
	} else {
		logger.Info("no database configured, booking journal disabled")
	}

	upstreamOpts := upstream.Options{
		BaseURL:   cfg.Upstream.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		UserAgent: cfg.Upstream.UserAgent,
		Logger:    logger,
	}
	newTransport := func() (session.Transport, error) {
		client, err := upstream.NewClient(upstreamOpts)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	stationOpts := upstreamOpts
	stationOpts.BaseURL = cfg.StationsSource()
	downloader, err := upstream.NewClient(stationOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	table, err := stations.Load(ctx, cfg.Stations.CacheFile, downloader, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load stations: %w", err)
	}

	a.registry = session.NewRegistry(store, newTransport, cfg.Session.IdleTTL, logger)
	a.scheduler = poller.NewScheduler(cfg.Login.PollInterval, cfg.Upstream.Timeout, logger)
	engine := inventory.NewEngine(table, logger)
	orchestrator := booking.New(engine, booking.Options{
		MaxAttempts: cfg.Booking.MaxAttempts,
		RetryDelay:  cfg.Booking.RetryDelay,
		Recorder:    recorder,
		Logger:      logger,
	})

	bookingSvc := service.NewBookingService(service.Deps{
		Registry:     a.registry,
		Scheduler:    a.scheduler,
		Stations:     table,
		Engine:       engine,
		Orchestrator: orchestrator,
		History:      history,
		Logger:       logger,
	})

	a.watchers = ws.NewManager()
	wsServer := ws.NewServer(a.watchers, cfg.WebSocket.WriteTimeout, cfg.WebSocket.AllowedOrigins, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		LoginHandlers:      handlers.NewLoginHandlers(bookingSvc, wsServer, logger),
		UserHandlers:       handlers.NewUserHandlers(bookingSvc, logger),
		StationsHandlers:   handlers.NewStationsHandlers(bookingSvc, logger),
		TicketsHandlers:    handlers.NewTicketsHandlers(bookingSvc, logger),
		PassengersHandlers: handlers.NewPassengersHandlers(bookingSvc, logger),
		BookingHandlers:    handlers.NewBookingHandlers(bookingSvc, logger),
		HealthHandler:      handlers.NewHealthHandler(bookingSvc, wsServer.Open),
	}, middleware.Sessions(middleware.SessionOptions{
		Secret:     cfg.Session.Secret,
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Session.SecureCookie,
	}, logger))

	a.server = httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)
	return a, nil
}

// Run serves HTTP traffic and sweeps idle sessions until ctx is done.
func (a *App) Run(ctx context.Context) error {
	go a.registry.RunSweeper(ctx, sweepInterval)
	return a.server.Run(ctx)
}

// Close stops login polls, closes watchers and releases connections.
func (a *App) Close() {
	if a.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.scheduler.Shutdown(ctx); err != nil {
			a.logger.Warn("login polls did not stop in time", zap.Error(err))
		}
		cancel()
	}
	if a.watchers != nil {
		a.watchers.CloseAll()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
