package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cohortpulse/internal"
	"cohortpulse/internal/config"
	"cohortpulse/internal/container"
	"cohortpulse/internal/errors"
	"cohortpulse/internal/migration"
	"cohortpulse/ui"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// initDatabase opens the PostgreSQL pool and optionally creates the schema
func initDatabase(ctx context.Context, appConfig *config.Config, logger *internal.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", appConfig.Database.URL)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	container.ConfigurePool(db, appConfig.Database)

	if appConfig.Database.AutoMigrate {
		migrator := migration.NewRunner()
		logger.Info("Running schema migrations (version %s)", migrator.Version())
		if err := migrator.Run(ctx, db); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "database migration failed")
		}
	}

	return db, nil
}

func main() {
	// Load environment variables from .env file
	envErr := godotenv.Load()

	logger := internal.NewDefaultLogger()
	defer logger.Sync()
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	// Load application configuration
	appConfig, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger = internal.NewLogger(internal.ParseLogLevel(appConfig.Logging.Level))
	gin.SetMode(appConfig.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, appConfig, logger)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		os.Exit(1)
	}

	// Create dependency injection container
	appContainer, err := container.New(appConfig, logger)
	if err != nil {
		logger.Error("Failed to create application container: %v", err)
		db.Close()
		os.Exit(1)
	}
	defer appContainer.Close()

	if err := appContainer.InitWithDatabase(db); err != nil {
		logger.Error("Failed to initialize container: %v", err)
		os.Exit(1)
	}

	// Start pprof server for performance profiling
	if appConfig.Profiling.Enabled {
		go func() {
			logger.Info("pprof listening on http://localhost:%s/debug/pprof/", appConfig.Profiling.Port)
			if err := http.ListenAndServe("localhost:"+appConfig.Profiling.Port, nil); err != nil {
				logger.Warn("pprof server failed: %v", err)
			}
		}()
	}

	server := ui.NewServer(ui.Dependencies{
		Dashboard:     appContainer.Dashboard,
		Queries:       appContainer.Queries,
		Registry:      appContainer.Registry,
		DB:            db,
		DefaultCohort: appConfig.Cohort.Default,
		Logger:        logger.With("component", "api"),
	})

	httpServer := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting cohort dashboard API on http://localhost:%s", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed: %v", err)
	}
}
