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

	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/zatekoja/concussionrehab/internal/adapters/kvstore"
	"github.com/zatekoja/concussionrehab/internal/api/handlers"
	"github.com/zatekoja/concussionrehab/internal/api/routes"
	"github.com/zatekoja/concussionrehab/internal/application/services"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/clients/githubmodels"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
	"github.com/zatekoja/concussionrehab/internal/triage"
	"github.com/zatekoja/concussionrehab/pkg/config"
	"github.com/zatekoja/concussionrehab/pkg/secrets"
)

func main() {
	if _, err := secrets.ApplyOverlay(context.Background(), secrets.VaultConfigFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to apply vault secrets: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	catalog, err := triage.LoadCatalog(cfg.Triage.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Triage.CatalogPath).Msg("Failed to load symptom catalog")
	}
	engine := triage.NewEngine(catalog)

	store, closeStore, err := kvstore.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open learning store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("Error closing learning store")
		}
	}()

	learningService := services.NewLearningService(store, cfg.Learning)
	learningService.SetMetrics(metrics)

	var chat providers.ChatCompletionProvider
	if cfg.ChatModel.HostedModelEnabled() {
		client, err := githubmodels.NewClient(&cfg.ChatModel)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize GitHub Models client; using rule-based analysis only")
		} else {
			chat = client
			log.Info().Str("model", client.Model()).Msg("GitHub Models client initialized")
		}
	} else {
		log.Warn().Msg("GITHUB_TOKEN is not set; using rule-based analysis only")
	}

	analysisService := services.NewAnalysisService(engine, store, chat, learningService, cfg.ChatModel.Timeout)
	analysisService.SetMetrics(metrics)

	router := routes.NewRouter(
		handlers.NewAnalysisHandler(analysisService),
		handlers.NewReviewHandler(learningService),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ChatModel.Timeout*2 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store.Backend).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}
	log.Info().Msg("Server stopped")
}
