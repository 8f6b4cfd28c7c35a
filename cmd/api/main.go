// Package main implements the support API server: document ingestion plus
// retrieval-augmented chat over the active knowledge base.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/PhantomAgents/phantom-mvp/engine/chunk"
	"github.com/PhantomAgents/phantom-mvp/engine/docparse"
	"github.com/PhantomAgents/phantom-mvp/engine/ingest"
	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/rag"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
	"github.com/PhantomAgents/phantom-mvp/engine/triage"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm/gemini"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm/ollama"
	"github.com/PhantomAgents/phantom-mvp/pkg/metrics"
	"github.com/PhantomAgents/phantom-mvp/pkg/mid"
	"github.com/PhantomAgents/phantom-mvp/pkg/resilience"
)

var met = metrics.New()

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	APIKey     string
	CacheDir   string
	CORSOrigin string

	Provider         string
	GeminiAPIKey     string
	GeminiChatModel  string
	GeminiEmbedModel string
	OllamaURL        string
	OllamaChatModel  string
	OllamaEmbedModel string

	QdrantAddr string
	Collection string

	MaxUploadBytes int64
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:       envOr("PORT", "8080"),
		APIKey:     os.Getenv("API_KEY"),
		CacheDir:   envOr("CACHE_DIR", "knowledge_base_cache"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),

		Provider:         envOr("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiChatModel:  os.Getenv("GEMINI_CHAT_MODEL"),
		GeminiEmbedModel: os.Getenv("GEMINI_EMBED_MODEL"),
		OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaChatModel:  envOr("OLLAMA_CHAT_MODEL", "llama3.1"),
		OllamaEmbedModel: envOr("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		QdrantAddr: os.Getenv("QDRANT_ADDR"),
		Collection: envOr("QDRANT_COLLECTION", "support"),

		MaxUploadBytes: 20 << 20,
	}

	if cfg.APIKey == "" {
		return cfg, errors.New("API_KEY is required")
	}
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return cfg, errors.New("GEMINI_API_KEY is required with LLM_PROVIDER=gemini")
		}
	case "ollama":
	default:
		return cfg, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.Provider)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// buildProvider returns the configured model clients.
func buildProvider(cfg Config) (llm.Completer, llm.Embedder, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := gemini.New(gemini.Config{
			APIKey:     cfg.GeminiAPIKey,
			ChatModel:  cfg.GeminiChatModel,
			EmbedModel: cfg.GeminiEmbedModel,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, cfg.OllamaChatModel)
		return client, client, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met.CollectRuntime("support_api", 15*time.Second)

	completer, embedder, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("model provider: %w", err)
	}
	logger.Info("model provider ready", "provider", cfg.Provider)

	// --- Knowledge base cache ---
	store, err := kb.NewFileStore(cfg.CacheDir, logger)
	if err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	cache := kb.NewCache(store, logger)

	// --- Ingestion pipeline ---
	var counter chunk.Counter
	if tk, err := chunk.NewTiktokenCounter(); err != nil {
		logger.Warn("tiktoken unavailable, counting words instead", "err", err)
		counter = chunk.WordCounter{}
	} else {
		counter = tk
	}
	chunker, err := chunk.New(counter, chunk.DefaultTargetTokens, chunk.DefaultOverlapTokens)
	if err != nil {
		return fmt.Errorf("chunker: %w", err)
	}

	var mirror ingest.Mirror
	if cfg.QdrantAddr != "" {
		vs, err := semantic.New(cfg.QdrantAddr, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vs.Close()
		mirror = vs
		logger.Info("mirroring ingests to qdrant", "addr", cfg.QdrantAddr, "collection", cfg.Collection)
	}

	pipeline, err := ingest.NewPipeline(ingest.Deps{
		Parser:   docparse.New(logger),
		Chunker:  chunker,
		Embedder: embedder,
		Cache:    cache,
		Mirror:   mirror,
		Logger:   logger,
		Metrics:  met,
	})
	if err != nil {
		return err
	}

	// --- Conversation service ---
	classifier := triage.NewClassifier(completer, logger,
		met.Counter("support_triage_fallbacks_total", "Triage classifications that fell back to default"))
	generator := rag.NewGenerator(completer, resilience.NewBreaker(resilience.DefaultBreakerOpts), 0, logger)
	ragSvc := rag.New(classifier, embedder, rag.NewCacheRetriever(cache), generator,
		rag.Options{Metrics: met}, logger)

	// --- HTTP server ---
	api := newAPI(ragSvc, pipeline, logger, cfg.MaxUploadBytes)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", met.Handler())

	authed := mid.BearerAuth(cfg.APIKey)
	mux.Handle("POST /process", authed(http.HandlerFunc(api.handleProcess)))
	mux.Handle("POST /v1/documents", authed(http.HandlerFunc(api.handleDocuments)))
	mux.Handle("POST /v1/chat", authed(http.HandlerFunc(api.handleChat)))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.RequestMetrics(met, "support_api"),
		mid.OTel("support-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
