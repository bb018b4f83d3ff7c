package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/handlers"
	"github.com/multi-llm-chat-go/internal/i18n"
	"github.com/multi-llm-chat-go/internal/middleware"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/internal/services/cache"
	"github.com/multi-llm-chat-go/internal/services/chat"
	dynconfig "github.com/multi-llm-chat-go/internal/services/config"
	"github.com/multi-llm-chat-go/internal/services/knowledge"
	"github.com/multi-llm-chat-go/internal/services/secrets"
	"github.com/multi-llm-chat-go/internal/services/storage"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/multi-llm-chat-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting chat server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := middleware.NewMetrics()

	// Provider adapters share one executor
	exec := transport.NewExecutor(cfg.Transport, log)
	exec.SetObserver(metrics)
	registry := ai.NewRegistry(exec, log)

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer storageManager.Close()

	cipher, err := secrets.NewCipher(ctx, cfg.Security.EncryptionKey, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize encryption")
	}
	settings := dynconfig.NewSettingsService(cfg, storageManager, cipher, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize knowledge service
	var knowledgeService *knowledge.Service
	if cfg.Knowledge.Enabled {
		vectors := knowledge.NewMemoryVectorStore(storageManager, log)
		if err := vectors.Load(ctx); err != nil {
			log.WithError(err).Error("Failed to load stored documents")
		}
		knowledgeService = knowledge.NewService(cfg.Knowledge, ai.NewEmbedder(exec, log), settings, registry, vectors, log)
		if _, err := knowledgeService.IngestDirectory(ctx, cfg.Knowledge.UploadDirectory); err != nil {
			// Continue with the documents loaded so far
			log.WithError(err).Error("Failed to load knowledge base")
		}
	}

	deps := chat.Deps{
		Providers: registry,
		Settings:  settings,
		History:   storageManager,
		Titles:    chat.NewTitleGenerator(cfg.Chat, ai.NewCollector(log), log),
		Localizer: localizer,
		Recorder:  metrics,
		Config:    cfg.Chat,
		Logger:    log,
	}
	if knowledgeService != nil {
		deps.Knowledge = knowledgeService
	}
	sessions := chat.NewManager(ctx, deps)

	rateLimiter := middleware.NewRateLimiter(cfg, log)
	defer rateLimiter.Stop()

	api := handlers.NewAPI(cfg, handlers.Services{
		Sessions:  sessions,
		Providers: registry,
		Settings:  settings,
		Catalog:   cache.NewModelCatalog(cfg, log),
		Knowledge: knowledgeService,
		Histories: storageManager,
		Limiter:   rateLimiter,
		Metrics:   metrics,
	}, log)

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsServer = middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     api.Handler(),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// event streams end when ctx is cancelled at shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	cancel()
	sessions.Shutdown()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not drain, closing")
		server.Close()
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("Server stopped")
}
