package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	appconfig "github.com/saluslabs/clinic-assistant/internal/config"
	"github.com/saluslabs/clinic-assistant/internal/messaging"
	"github.com/saluslabs/clinic-assistant/internal/reminders"
	"github.com/saluslabs/clinic-assistant/internal/retry"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gateway, err := messaging.New(messaging.Config{
		BaseURL:  cfg.EvolutionAPIURL,
		APIToken: cfg.EvolutionAPIToken,
		Instance: cfg.EvolutionInstance,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Jitter:      0.25,
		},
		Logger: logger.Logger,
	})
	if err != nil {
		logger.Error("evolution client init failed", "error", err)
		os.Exit(1)
	}

	worker, err := reminders.New(pool, gateway, reminders.Config{
		Hour:     cfg.ReminderHour,
		Timezone: cfg.ReminderTimezone,
	}, nil, logger)
	if err != nil {
		logger.Error("reminder worker init failed", "error", err)
		os.Exit(1)
	}

	logger.Info("reminder worker started", "hour", cfg.ReminderHour, "timezone", cfg.ReminderTimezone)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reminder worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("reminder worker stopped")
}
