package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/helpdesk-mini/helpdesk/internal/api/http"
	"github.com/helpdesk-mini/helpdesk/internal/api/http/handlers"
	"github.com/helpdesk-mini/helpdesk/internal/auth"
	"github.com/helpdesk-mini/helpdesk/internal/config"
	"github.com/helpdesk-mini/helpdesk/internal/events"
	"github.com/helpdesk-mini/helpdesk/internal/observability"
	"github.com/helpdesk-mini/helpdesk/internal/persistence"
	"github.com/helpdesk-mini/helpdesk/internal/repository"
	"github.com/helpdesk-mini/helpdesk/internal/service"
	"github.com/helpdesk-mini/helpdesk/internal/ticketnum"
	"github.com/helpdesk-mini/helpdesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	counterRepo := repository.NewCounterRepository(pool, repository.TicketNumberCounter)

	hub := events.NewHub(cfg.Hub.SubscriberBuffer, logger, metrics)

	var publisher events.Publisher = hub
	var redis *persistence.Redis
	if cfg.Hub.RelayEnabled {
		redis = persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()

		relay := events.NewRelay(redis.Client, hub, cfg.Hub.RelayChannel, logger)
		go relay.Run(ctx)
		publisher = relay
	}

	allocator := ticketnum.NewAllocator(counterRepo)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		CommentRepo: commentRepo,
		UserRepo:    userRepo,
		Allocator:   allocator,
		Publisher:   publisher,
		Logger:      logger,
		Metrics:     metrics,
	})
	authService := service.NewAuthService(*cfg, userRepo)
	analyticsService := service.NewAnalyticsService(ticketRepo)
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	notifier := worker.NewNotificationWorker(hub, logger)
	go notifier.Run(ctx)

	sweeper := service.NewSweeper(service.SweeperDependencies{
		TicketRepo: ticketRepo,
		Publisher:  publisher,
		Logger:     logger,
		Metrics:    metrics,
		Interval:   cfg.Sweeper.Interval(),
		Timeout:    cfg.Sweeper.Timeout(),
	})
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	if err := sweeper.Register(scheduler); err != nil {
		logger.Fatal("failed to register sla sweeper", zap.Error(err))
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Analytics:      handlers.NewAnalyticsHandler(analyticsService),
		Stream:         handlers.NewStreamHandler(hub, ticketService, logger),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if err := scheduler.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
