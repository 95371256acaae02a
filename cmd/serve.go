package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paybridge/internal/bootstrap"
	"paybridge/internal/config"
	cronpkg "paybridge/internal/cron"
	"paybridge/internal/middleware"
	"paybridge/internal/notify"
	"paybridge/internal/payment"
	"paybridge/internal/pkg/logger"
	"paybridge/internal/pkg/telegram"
	"paybridge/internal/repository"
	"paybridge/internal/router"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// --- Logger ---
	log, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := bootstrap.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	// --- Callback Deduper (Redis with in-memory fallback) ---
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	deduper, dedupErr := middleware.NewCallbackDeduper(redisClient, cfg.Payment.DedupTTL)
	if dedupErr != nil {
		log.Warn("Redis unavailable for callback dedup, using in-memory fallback", zap.Error(dedupErr))
	}

	// --- Payments ---
	payments := repository.NewPaymentRepository(db)
	jobs := repository.NewNotifyJobRepository(db)

	bus := payment.NewBus(log)
	registry := payment.NewRegistry(bus, log)
	payment.RegisterBuiltins(registry, cfg.Payment.Drivers, log)
	registry.SetDefault(cfg.Payment.DefaultDriver)
	log.Info("Payment drivers registered", zap.Strings("drivers", registry.Available()), zap.String("default", registry.Default()))

	notify.Register(bus, log, payments, jobs, cfg.Telegram.ReportChatIDs)

	redirects := payment.Redirects{StatusURL: cfg.Server.BaseURL + "/payment/status/"}
	if cfg.Payment.StatusPortal {
		redirects.PortalURL = cfg.Server.BaseURL + "/payment/check-status"
	}
	dispatcher := payment.NewDispatcher(registry, payments, redirects, log)

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, router.Deps{
		DB:         db,
		Payments:   payments,
		Registry:   registry,
		Dispatcher: dispatcher,
		Deduper:    deduper,
		Logger:     log,
		APIKey:     cfg.API.Key,
		BaseURL:    cfg.Server.BaseURL,
		Portal:     cfg.Payment.StatusPortal,
	})

	// --- Cron Scheduler ---
	deps := cronpkg.Deps{
		Payments:   payments,
		Registry:   registry,
		Dispatcher: dispatcher,
		Jobs:       jobs,
		ChatIDs:    cfg.Telegram.ReportChatIDs,
	}
	if cfg.Telegram.Token != "" {
		var opts []telegram.Option
		if cfg.Telegram.APIURL != "" {
			opts = append(opts, telegram.WithAPIURL(cfg.Telegram.APIURL))
		}
		deps.Sender = telegram.NewBotAPI(cfg.Telegram.Token, opts...)
	} else {
		log.Info("Telegram reports disabled (no bot token)")
	}
	scheduler := cronpkg.New(cfg.Cron, deps, log)
	if err := scheduler.Start(); err != nil {
		return err
	}

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		log.Info("Starting Paybridge server", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let in-flight event handlers finish
	bus.Drain()

	log.Info("Server exited")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, flush, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, flush, nil
}
