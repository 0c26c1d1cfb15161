package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/cache"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/config"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/dispatch"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/history"
	httpserver "github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/http/handlers"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/provider"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/routing"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/service"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/session"
	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[nebula] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	loadDotenvFiles(logger, ".env", ".env.local")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, storeCloser := setupStore(ctx, cfg, logger)
	defer storeCloser()

	registry := provider.NewRegistry()
	registry.Register(routing.ProviderGoogle, provider.NewGeminiClient(provider.GeminiClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Timeout:    time.Duration(cfg.GeminiTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.GeminiMaxRetries,
	}))
	registry.Register(routing.ProviderZAI, provider.NewZAIClient(provider.ZAIClientConfig{
		APIKey:     cfg.ZAIAPIKey,
		BaseURL:    cfg.ZAIBaseURL,
		Timeout:    time.Duration(cfg.ZAITimeoutMS) * time.Millisecond,
		MaxRetries: cfg.ZAIMaxRetries,
	}))
	logger.Printf("providers configured: %v", registry.Available())

	classifier := routing.NewClassifier(routing.ClassifierConfig{
		CodeKeywords:         cfg.ClassifierCodeKeywords,
		ResearchKeywords:     cfg.ClassifierResearchKeywords,
		TaskHelpKeywords:     cfg.ClassifierTaskHelpKeywords,
		ComplexWordCount:     cfg.ComplexWordCount,
		ComplexConjunctions:  cfg.ComplexConjunctions,
		ComplexQuestionMarks: cfg.ComplexQuestionMarks,
	})
	table := routing.NewTable(routing.TableConfig{})
	dispatcher := dispatch.New(dispatch.Config{
		Registry:       registry,
		AttemptTimeout: time.Duration(cfg.AttemptTimeoutMS) * time.Millisecond,
		Logger:         logger,
	})

	chatService := service.NewChatService(service.ChatDependencies{
		Classifier: classifier,
		Table:      table,
		Dispatcher: dispatcher,
		Store:      store,
		Builder: history.NewBuilder(history.BuilderConfig{
			MaxTurns: cfg.HistoryMaxTurns,
			MaxChars: cfg.HistoryMaxChars,
		}),
		Cache: cache.NewResponseCache(cache.Config{
			TTL:        time.Duration(cfg.ResponseCacheTTLSeconds) * time.Second,
			MaxEntries: cfg.ResponseCacheMaxEntries,
		}),
		Logger:          logger,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})

	api := handlers.NewAPI(chatService, registry)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.JanitorEnabled {
		janitor := worker.NewJanitor(
			store,
			time.Duration(cfg.SessionRetentionDays)*24*time.Hour,
			time.Duration(cfg.JanitorIntervalMinutes)*time.Minute,
			logger,
		)
		go janitor.Start(ctx)
		logger.Printf("session janitor started retention_days=%d", cfg.SessionRetentionDays)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// loadDotenvFiles loads each file on its own: a missing .env must not skip
// the .env.local override. Values already in the environment win.
func loadDotenvFiles(logger *log.Logger, files ...string) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Printf("failed loading %s: %v", file, err)
		}
	}
}

func setupStore(ctx context.Context, cfg config.Config, logger *log.Logger) (session.Store, func()) {
	var (
		base   session.Store
		closer = func() {}
	)

	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory session store")
		base = session.NewMemoryStore()
	} else {
		pgStore, err := session.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Printf("failed to initialize postgres session store, fallback to memory: %v", err)
			base = session.NewMemoryStore()
		} else {
			logger.Printf("postgres session store initialized")
			base = pgStore
			closer = pgStore.Close
		}
	}

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, history cache disabled")
		return base, closer
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Printf("failed to reach redis, history cache disabled: %v", err)
		_ = client.Close()
		return base, closer
	}

	logger.Printf("redis history cache initialized")
	cached := session.NewCachedStore(base, session.CacheConfig{
		Client:   client,
		MaxTurns: cfg.HistoryCacheTurns,
		TTL:      time.Duration(cfg.HistoryCacheTTLSecs) * time.Second,
		Logger:   logger,
	})
	return cached, func() {
		_ = client.Close()
		closer()
	}
}
