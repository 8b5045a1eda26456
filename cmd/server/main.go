package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/config"
	"github.com/stanstork/pgtransfer/internal/database"
	"github.com/stanstork/pgtransfer/internal/handlers"
	"github.com/stanstork/pgtransfer/internal/metrics"
	"github.com/stanstork/pgtransfer/internal/middleware"
	"github.com/stanstork/pgtransfer/internal/routes"
	"github.com/stanstork/pgtransfer/internal/scheduler"
	"github.com/stanstork/pgtransfer/internal/transfer"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config    *config.Config
	logger    zerolog.Logger
	manager   *transfer.Manager
	scheduler *scheduler.Scheduler
	cancel    context.CancelFunc
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to ./config.yaml or ./config/config.yaml)")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger := newLogger(cfg.Log)
	log.SetFlags(0)
	log.SetOutput(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	dialer := database.NewDialer(database.Options{
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)

	// Worker queries are bound to the process lifetime, not to any request.
	baseCtx, cancel := context.WithCancel(context.Background())
	manager := transfer.NewManager(transfer.Options{
		Connector:       transfer.NewConnector(dialer),
		Logger:          logger,
		LogCapacity:     cfg.Transfer.LogCapacity,
		VerifyTolerance: cfg.Transfer.VerifyTolerance,
		BaseContext:     baseCtx,
	})

	app := &application{
		config:    cfg,
		logger:    logger,
		manager:   manager,
		scheduler: scheduler.New(manager, logger),
		cancel:    cancel,
	}
	for _, sc := range cfg.Schedules {
		if err := app.scheduler.Add(sc); err != nil {
			logger.Fatal().Err(err).Str("schedule", sc.Name).Msg("Invalid schedule")
		}
	}
	app.scheduler.Start()

	// Initialize the HTTP router and middleware.
	transferHandler := handlers.NewTransferHandler(manager, cfg.Transfer.StatusLogTail, logger)
	metaHandler := handlers.NewMetadataHandler(dialer, cfg.Database.QueryTimeout, logger)
	router := routes.NewRouter(transferHandler, metaHandler, reg)

	loggedRouter := middleware.LoggingMiddleware(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.Server.CORSOrigins),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)
	recovered := h.RecoveryHandler(h.RecoveryLogger(log.Default()), h.PrintRecoveryStack(true))(corsHandler)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(recovered)

	logger.Info().Msg("Application terminated.")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	return zerolog.New(consoleWriter).With().Timestamp().Logger()
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler) {
	server := &http.Server{
		Addr:         app.config.Addr(),
		Handler:      handler,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		app.logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		app.logger.Error().Err(err).Msg("Server error occurred")
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	app.scheduler.Stop()

	// Gracefully shut down the HTTP server.
	if err := server.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		app.logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Let a running transfer finish its current batch, then abort whatever is left.
	if app.manager.Stop() {
		app.logger.Info().Msg("Stopping running transfer...")
	}
	if err := app.manager.Wait(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("Transfer did not stop in time, cancelling in-flight queries")
	}
	app.cancel()
	<-app.manager.Done()
	app.logger.Info().Msg("Transfer worker stopped.")
}
