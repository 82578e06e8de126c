package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saluslabs/clinic-assistant/internal/api/router"
	"github.com/saluslabs/clinic-assistant/internal/catalog"
	"github.com/saluslabs/clinic-assistant/internal/clinic"
	appconfig "github.com/saluslabs/clinic-assistant/internal/config"
	"github.com/saluslabs/clinic-assistant/internal/conversation"
	"github.com/saluslabs/clinic-assistant/internal/http/handlers"
	"github.com/saluslabs/clinic-assistant/internal/interpreter"
	"github.com/saluslabs/clinic-assistant/internal/leads"
	"github.com/saluslabs/clinic-assistant/internal/messaging"
	"github.com/saluslabs/clinic-assistant/internal/observability/metrics"
	"github.com/saluslabs/clinic-assistant/internal/payments"
	"github.com/saluslabs/clinic-assistant/internal/retry"
	"github.com/saluslabs/clinic-assistant/internal/scheduling"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting clinic-assistant API server", "env", cfg.Env, "port", cfg.Port)

	ctx := context.Background()
	m := metrics.NewAssistantMetrics(prometheus.DefaultRegisterer)

	// Lead persistence: Postgres when configured, in-memory otherwise
	// (useful for local runs without a database).
	var leadsRepo leads.Repository
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		leadsRepo = leads.NewPostgresRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, leads will not survive restarts")
		leadsRepo = leads.NewInMemoryRepository()
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	sessions := conversation.NewSessionStore(rdb)
	clinicStore := clinic.NewStore(rdb)
	clinicCfg, err := clinicStore.Get(ctx, cfg.DefaultClinic)
	if err != nil {
		logger.Error("clinic config load failed", "error", err)
		os.Exit(1)
	}

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      0.25,
	}

	gateway, err := messaging.New(messaging.Config{
		BaseURL:  cfg.EvolutionAPIURL,
		APIToken: cfg.EvolutionAPIToken,
		Instance: cfg.EvolutionInstance,
		Retry:    policy,
		Logger:   logger.Logger,
	})
	if err != nil {
		logger.Error("evolution client init failed", "error", err)
		os.Exit(1)
	}

	klingo, err := scheduling.New(scheduling.Config{
		BaseURL:  cfg.KlingoBaseURL,
		AppToken: cfg.KlingoAppToken,
		Retry:    policy,
		Logger:   logger.Logger,
	})
	if err != nil {
		logger.Error("klingo client init failed", "error", err)
		os.Exit(1)
	}

	asaasKey, err := clinicStore.PaymentKey(ctx, cfg.DefaultClinic, cfg.AsaasAPIKey)
	if err != nil {
		logger.Error("payment credential lookup failed", "error", err)
		os.Exit(1)
	}
	asaas, err := payments.New(payments.Config{
		BaseURL: cfg.AsaasBaseURL,
		APIKey:  asaasKey,
		Retry:   policy,
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Error("asaas client init failed", "error", err)
		os.Exit(1)
	}

	interp := interpreter.New(openai.NewClient(cfg.OpenAIAPIKey), cfg.InterpreterModel, policy, logger)

	var procs conversation.ProcedureCatalog
	if pool != nil {
		procs = catalog.NewStore(pool)
	}

	flow := conversation.NewFlow(interp, klingo, asaas, procs, leadsRepo, conversation.FlowConfig{
		SpecialtyID:    cfg.KlingoSpecialtyID,
		ExamID:         cfg.KlingoExamID,
		PlanID:         cfg.KlingoPlanID,
		PriceCents:     cfg.ConsultationPriceCents,
		SupportContact: cfg.SupportContact,
		Clinic:         clinicCfg,
	}, m, logger)

	dispatcher := messaging.NewDispatcher(gateway, interp, cfg.MessageSegmentDelay, cfg.DispatchMaxSegments, m, logger)
	resolver := conversation.NewResolver(leadsRepo, interp)

	service := conversation.NewService(conversation.ServiceConfig{
		ClinicID:      cfg.DefaultClinic,
		Debounce:      cfg.BufferDebounce,
		MaxFragments:  cfg.BufferMaxFragments,
		FlushKeywords: cfg.BufferKeywords,
		VoiceReplies:  clinicCfg.VoiceReplies,
	}, resolver, sessions, flow, leadsRepo, dispatcher, gateway, interp, m, logger)

	r := router.New(&router.Config{
		Logger:         logger,
		Webhook:        handlers.NewWebhookHandler(service, m, logger),
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
