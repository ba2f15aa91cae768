// Package main is the entry point for the messaging agent server.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/config"
	"github.com/capitalize-ai/messaging-agent/internal/gateway"
	"github.com/capitalize-ai/messaging-agent/internal/handler"
	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
	"github.com/capitalize-ai/messaging-agent/internal/llm"
	"github.com/capitalize-ai/messaging-agent/internal/lock"
	"github.com/capitalize-ai/messaging-agent/internal/middleware"
	natsclient "github.com/capitalize-ai/messaging-agent/internal/nats"
	"github.com/capitalize-ai/messaging-agent/internal/rag"
	"github.com/capitalize-ai/messaging-agent/internal/service"
	"github.com/capitalize-ai/messaging-agent/internal/store"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
	"github.com/capitalize-ai/messaging-agent/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.LogFormat == "console" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting messaging agent")
	ctx := context.Background()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-agent", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	checks := map[string]handler.Check{}

	// Database
	db, err := store.Open(store.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	st := store.New(db)
	checks["database"] = func(ctx context.Context) error { return store.Ping(ctx, db) }

	// Conversation locks
	var locker lock.Locker
	if cfg.RedisURL != "" {
		rl, err := lock.NewRedisLocker(ctx, cfg.RedisURL, cfg.LockTTL, log)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rl.Close()
		locker = rl
		checks["redis"] = rl.Ping
	} else {
		log.Warn("REDIS_URL not set, conversation locks are process local")
		locker = lock.NewLocalLocker()
	}

	// Audit stream
	var publisher service.Publisher = service.NopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()

		streams := natsclient.NewStreamManager(nc)
		if err := streams.EnsureStream(ctx); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		publisher = streams
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	// Knowledge
	var index knowledge.Index
	if cfg.QdrantURL != "" {
		q := knowledge.NewQdrantIndex(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.SearchTimeout)
		index = q
		checks["qdrant"] = q.Ready
	} else {
		log.Warn("QDRANT_URL not set, using in-memory vector index")
		index = knowledge.NewMemoryIndex()
	}
	docs, err := knowledge.NewDiskStore(cfg.KnowledgeDir)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	embedder, err := llm.NewOpenAIEmbedder(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	ingestor := knowledge.NewIngestor(embedder, index, docs, cfg.EmbeddingTimeout, log)

	// Answering
	var answerer service.Answerer
	apiKey := cfg.OpenAIAPIKey
	if llm.Provider(cfg.LLMProvider) == llm.ProviderAnthropic {
		apiKey = cfg.AnthropicAPIKey
	}
	llmClient, err := llm.NewClient(llm.Provider(cfg.LLMProvider), llm.Options{APIKey: apiKey, BaseURL: cfg.OpenAIBaseURL})
	if err != nil {
		log.Warn("LLM client unavailable, AI replies disabled", zap.Error(err))
	} else {
		searcher := rag.NewSearcher(embedder, index, docs, rag.SearcherOptions{
			EmbedTimeout:  cfg.EmbeddingTimeout,
			SearchTimeout: cfg.SearchTimeout,
		}, log)
		answerer = rag.NewPipeline(searcher, rag.NewSynthesizer(llmClient), cfg.GenerationTimeout, log)
	}

	tenants := tenant.NewFileProvider(cfg.TenantConfigDir, tenant.Defaults{
		Model:        cfg.LLMModel,
		MaxTokens:    cfg.LLMMaxTokens,
		Temperature:  cfg.LLMTemperature,
		TopP:         cfg.LLMTopP,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		SearchLimit:  cfg.SearchLimit,
		ReGreetAfter: cfg.ReGreetAfter,
	})

	// Services
	conversationSvc := service.NewConversationService(st, log)
	messageSvc := service.NewMessageService(st, publisher, log)
	knowledgeSvc := service.NewKnowledgeService(tenants, ingestor, docs, index, log)
	dispatcher := service.NewDispatcher(
		tenants,
		conversationSvc,
		messageSvc,
		gateway.NewClient(cfg.GatewayTimeout),
		answerer,
		locker,
		publisher,
		service.DispatcherOptions{EventMaxAge: cfg.EventMaxAge, PresenceDelay: cfg.PresenceDelay},
		log,
	)

	// Handlers
	healthHandler := handler.NewHealthHandler(checks)
	webhookHandler := handler.NewWebhookHandler(dispatcher, log)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeSvc, cfg.MaxUploadSize, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.WebhookRateLimit(cfg.WebhookRateLimitRequests, cfg.RateLimitWindow)).
		Post("/webhooks/{tenantID}", webhookHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.CORSOrigins))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/knowledge", func(r chi.Router) {
			r.Get("/", knowledgeHandler.List)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeKnowledgeWrite))
				r.Post("/", knowledgeHandler.Upload)
				r.Delete("/", knowledgeHandler.Clear)
				r.Delete("/{fileName}", knowledgeHandler.Delete)
			})
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeHistoryRead))
			r.Get("/", conversationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/messages", messageHandler.List)
				r.Post("/finish", conversationHandler.Finish)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	// Webhook processing continues after the 200; let in-flight replies finish.
	if err := webhookHandler.Drain(shutdownCtx); err != nil {
		log.Warn("webhook processing still in flight at shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
