package main

import (
	"context"
	"log"
	"os"

	"github.com/robfig/cron/v3"

	"market-research-tracker/internal/api"
	"market-research-tracker/internal/config"
	"market-research-tracker/internal/logging"
	"market-research-tracker/internal/parallel"
	"market-research-tracker/internal/services"
	"market-research-tracker/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.Init(logging.Config{
		Level:      logging.Level(os.Getenv("LOG_LEVEL")),
		JSONOutput: os.Getenv("LOG_FORMAT") == "json",
		Output:     os.Stderr,
	})
	logger := logging.WithComponent("server")

	// Connect to PostgreSQL and ensure the schema exists
	st, err := store.NewPostgresStore(context.Background(), cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	// Parallel task API client
	client := parallel.NewClient(cfg.Parallel.APIKey, cfg.Parallel.BaseURL)
	client.SetStreamTimeouts(cfg.Parallel.ConnectTimeout, cfg.Parallel.ReadTimeout)

	// Email notifications are optional
	var notifier services.Notifier
	if emailService := services.NewEmailService(cfg.Email, cfg.Server.BaseURL); emailService != nil {
		notifier = emailService
	} else {
		logger.Info().Msg("SendGrid API key not configured, report ready emails disabled")
	}

	// Initialize services
	slugs := services.NewSlugAllocator(st)
	tracker := services.NewTaskService(st, client, slugs, notifier)
	monitor := services.NewMonitor(tracker, client, cfg.Parallel.MaxReconnects)
	limiter := services.NewRateLimiter(st, cfg.Tracker.MaxReportsPerHour)
	validator := services.NewInputValidator(cfg.Parallel.APIKey, cfg.Parallel.BaseURL)
	sweeper := services.NewSweeper(st, tracker, services.SweeperConfig{
		StaleAfter:   cfg.Tracker.StaleAfter,
		RetryMinAge:  cfg.Tracker.RetryMinAge,
		RetryMaxAge:  cfg.Tracker.RetryMaxAge,
		ProbeTimeout: cfg.Parallel.ProbeTimeout,
	})

	// One recovery pass at startup picks up tasks orphaned by the previous
	// process, then the cron keeps sweeping.
	go func() {
		if err := sweeper.Sweep(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("startup sweep failed")
		}
	}()

	if cfg.Tracker.SweepSchedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Tracker.SweepSchedule, func() {
			if err := sweeper.Sweep(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("scheduled sweep failed")
			}
		})
		if err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.Tracker.SweepSchedule).Msg("invalid sweep schedule")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Initialize handlers and routes
	handlers := api.NewHandlers(cfg, st, client, tracker, monitor, sweeper, limiter, validator)
	router := api.SetupRoutes(handlers)

	// Start server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.Info().Str("addr", addr).Msg("server starting")
	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
