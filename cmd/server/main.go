package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"papertrade/internal/auth"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/feed"
	"papertrade/internal/handler"
	"papertrade/internal/ledger"
	"papertrade/internal/ledger/pebbledb"
	"papertrade/internal/service"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load .env if present, then configuration from the environment.
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Ledger store: durable when DATA_DIR is set, in-memory otherwise.
	var store ledger.Store
	if cfg.DataDir != "" {
		pebbleStore, err := pebbledb.Open(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open ledger", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = pebbleStore
		logger.Info("ledger opened", slog.String("data_dir", cfg.DataDir))
	} else {
		store = ledger.NewMemory()
		logger.Info("using in-memory ledger; state is lost on restart")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Price feed. Without FEED_URL the multiplexer still serves
	// subscriptions, but no prices arrive and limit orders only expire.
	mux := feed.NewMultiplexer()
	if cfg.FeedURL != "" {
		client := feed.NewClient(cfg.FeedURL, mux, logger)
		go client.Run(ctx)
	} else {
		logger.Warn("FEED_URL not set; running without a price feed")
	}

	// Evaluator: restore pending orders from the ledger, then start the
	// expiry sweep.
	evaluator := engine.NewEvaluator(store, mux, cfg.EvalInterval, logger)
	if err := evaluator.Restore(ctx); err != nil {
		logger.Error("failed to restore pending orders", slog.String("error", err.Error()))
		os.Exit(1)
	}
	evaluator.Start(ctx)

	// Services.
	orderSvc := service.NewOrderService(store, evaluator, cfg.OrderTTL, cfg.PlacementRetries)
	accountSvc := service.NewAccountService(store, mux, cfg.PlacementRetries)
	authSvc := auth.NewService(store, cfg.JWTSecret, cfg.TokenTTL, cfg.StartingBalance)

	// Router.
	router := handler.NewRouter(authSvc, accountSvc, orderSvc, logger)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, then cancel the context to
	// stop the evaluator and feed client.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}
