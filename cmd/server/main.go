/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Initialize logger and SQLite store
  3. Wire locking, event bus, ledger, payroll and optional exporters
  4. Wire biometric matching, image archive and capture pipeline
  5. Configure HTTP router and payroll scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (default: config.yaml when present)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the payroll scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close exporters and the database connection

ENVIRONMENT:
  See config/config.go for the variables that override the YAML file.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/biometric"
	"github.com/warp/attendance-engine/blob"
	"github.com/warp/attendance-engine/capture"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/locking"
	"github.com/warp/attendance-engine/notify"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	if *configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			*configPath = "config.yaml"
		}
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := config.NewLogger(cfg.Log, nil)
	ctx := context.Background()

	loc, err := core.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatalf("Failed to load timezone %s: %v", cfg.Timezone, err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Locking: Redis when configured so several replicas share day locks
	var locker core.Locker = locking.NewLocal()
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis at %s: %v", cfg.Redis.Address, err)
		}
		locker = locking.NewRedis(rdb, locking.RedisOptions{}, logger)
		logger.WithField("address", cfg.Redis.Address).Info("using redis day locks")
	}

	// Ledger, payroll and event fan-out
	bus := core.NewBus(logger)
	policies := attendance.NewPolicyRegistry(store)
	ledger := attendance.NewLedger(store, policies,
		attendance.WithLocker(locker),
		attendance.WithBus(bus),
		attendance.WithLocation(loc),
		attendance.WithCooldown(cfg.Cooldown()),
		attendance.WithLogger(logger),
	)

	rules := payroll.DefaultRules()
	rules.LateDaysPerFine = cfg.Payroll.LateDaysPerFine
	rules.DaysPerMonth = cfg.Payroll.DaysPerMonth
	rules.OnTimeBonus = cfg.OnTimeBonus()
	if cfg.Payroll.Currency != "" {
		rules.Currency = cfg.Payroll.Currency
	}
	adjuster := payroll.NewAdjuster(store, rules, logger)
	adjuster.Subscribe(bus)

	if cfg.PubSub.Topic != "" {
		ps, err := notify.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic, cfg.PubSub.CredentialsJSON, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize pubsub: %v", err)
		}
		defer ps.Close()
		ps.Subscribe(bus)
		logger.WithField("topic", cfg.PubSub.Topic).Info("exporting attendance events")
	}

	holidays := attendance.NewHolidayProcessor(store, ledger, logger)

	// Biometrics and capture
	matcher := biometric.NewMatcher(store,
		biometric.WithTolerance(cfg.Biometric.Tolerance),
		biometric.WithDimension(cfg.Biometric.Dimension),
		biometric.WithMatcherLogger(logger),
	)

	var blobs blob.Store = blob.Discard{}
	switch cfg.Storage.Driver {
	case "gcs":
		gcs, err := blob.NewGCS(ctx, cfg.Storage.GCSBucket, cfg.Storage.GCSPrefix, cfg.Storage.CredentialsJSON)
		if err != nil {
			logger.Fatalf("Failed to initialize gcs: %v", err)
		}
		defer gcs.Close()
		blobs = gcs
	case "local":
		blobs = blob.NewLocal(cfg.Storage.LocalRoot)
	}

	var (
		encoder biometric.Encoder
		capt    *capture.Service
	)
	if cfg.Biometric.EncoderURL != "" {
		encoder = biometric.NewHTTPEncoder(cfg.Biometric.EncoderURL, cfg.Biometric.EncoderTimeout)
		capt = capture.NewService(encoder, matcher, ledger, blobs, logger)
	} else {
		logger.Warn("no face encoder configured; image endpoints are disabled")
	}

	// Initialize handler
	handler := api.NewHandler(api.Services{
		Store:     store,
		Policies:  policies,
		Ledger:    ledger,
		Holidays:  holidays,
		Matcher:   matcher,
		Encoder:   encoder,
		Capture:   capt,
		Adjuster:  adjuster,
		WeeklyOff: cfg.WeeklyOffDay(),
		Logger:    logger,
	})

	// Create router
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	scheduler := api.NewPayrollScheduler(adjuster, loc, logger)
	scheduler.Enabled = cfg.Payroll.ReconcileEnabled
	if cfg.Payroll.ReconcileInterval > 0 {
		scheduler.CheckInterval = cfg.Payroll.ReconcileInterval
	}
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":     cfg.Server.Port,
			"db":       cfg.Database.Path,
			"timezone": loc.String(),
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		config.LogError(logger, "main", "Shutdown", "server forced to shutdown", cfg.Server.Port, err)
	}

	logger.WithField("capture_archive_failures", blobFailures(capt)).Info("server stopped")
}

func blobFailures(s *capture.Service) int64 {
	if s == nil {
		return 0
	}
	return s.BlobFailures()
}
