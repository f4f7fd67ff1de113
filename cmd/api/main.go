// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stylist-ai/shopping-assistant/internal/catalog"
	"github.com/stylist-ai/shopping-assistant/internal/chat"
	"github.com/stylist-ai/shopping-assistant/internal/checkout"
	"github.com/stylist-ai/shopping-assistant/internal/config"
	"github.com/stylist-ai/shopping-assistant/internal/handler"
	"github.com/stylist-ai/shopping-assistant/internal/llm"
	"github.com/stylist-ai/shopping-assistant/internal/middleware"
	natsclient "github.com/stylist-ai/shopping-assistant/internal/nats"
	"github.com/stylist-ai/shopping-assistant/internal/store"
	"github.com/stylist-ai/shopping-assistant/internal/tryon"
	"github.com/stylist-ai/shopping-assistant/pkg/logger"
	"github.com/stylist-ai/shopping-assistant/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "shopping-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream KV buckets exist
	if err := natsClient.EnsureBuckets(ctx); err != nil {
		log.Error("failed to ensure KV buckets", zap.Error(err))
		os.Exit(1)
	}

	conversationsKV, err := natsClient.KeyValue(ctx, natsclient.BucketConversations)
	if err != nil {
		log.Error("failed to open conversations bucket", zap.Error(err))
		os.Exit(1)
	}
	messagesKV, err := natsClient.KeyValue(ctx, natsclient.BucketMessages)
	if err != nil {
		log.Error("failed to open messages bucket", zap.Error(err))
		os.Exit(1)
	}
	imagesKV, err := natsClient.KeyValue(ctx, natsclient.BucketImages)
	if err != nil {
		log.Error("failed to open images bucket", zap.Error(err))
		os.Exit(1)
	}
	kvStore := store.NewKVStore(conversationsKV, messagesKV, imagesKV)

	// Initialize LLM client
	var llmClient llm.Client
	switch cfg.DefaultProvider {
	case string(llm.ProviderAnthropic):
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	default:
		llmClient, err = llm.NewOpenRouterClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL)
	}
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}
	log.Info("LLM provider configured", zap.String("provider", llmClient.Name()), zap.String("model", cfg.ChatModel))

	// Catalog search via the shop's MCP endpoint
	mcpClient := catalog.NewMCPClient(cfg.StorefrontMCPEndpoint, cfg.StorefrontPassword, log)
	executor := catalog.NewExecutor(mcpClient, log)

	// Turn orchestrator
	orchestrator := chat.NewOrchestrator(kvStore, llmClient, executor, cfg.ChatModel, log)

	// Try-on and checkout collaborators
	tryOnClient := tryon.NewClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.TryOnModel)
	checkoutClient, err := checkout.NewClient(cfg.StorefrontMCPEndpoint, cfg.StorefrontAPIToken)
	if err != nil {
		log.Warn("checkout disabled", zap.Error(err))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	chatHandler := handler.NewChatHandler(orchestrator, log)
	conversationHandler := handler.NewConversationHandler(kvStore, log)
	imageHandler := handler.NewImageHandler(kvStore, log)
	tryOnHandler := handler.NewTryOnHandler(tryOnClient, kvStore, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Conversation-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no session required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes behind the session cookie
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Session(cfg.SessionSecret, cfg.CookieSecure))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Chat)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Patch("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)
			})
		})

		r.Post("/upload-image", imageHandler.Upload)
		r.Get("/images/{id}", imageHandler.Get)

		r.Post("/tryon", tryOnHandler.Generate)

		if checkoutClient != nil {
			checkoutHandler := handler.NewCheckoutHandler(checkoutClient, log)
			r.Post("/checkout", checkoutHandler.Checkout)
		}
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
