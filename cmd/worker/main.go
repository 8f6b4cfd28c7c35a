// Command worker consumes document ingest jobs from NATS and builds
// knowledge bases into the shared cache, mirroring vectors to Qdrant.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PhantomAgents/phantom-mvp/engine/chunk"
	"github.com/PhantomAgents/phantom-mvp/engine/docparse"
	"github.com/PhantomAgents/phantom-mvp/engine/ingest"
	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm/gemini"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm/ollama"
	"github.com/PhantomAgents/phantom-mvp/pkg/metrics"
)

var met = metrics.New()

func main() {
	var (
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		cacheDir    = flag.String("cache", "knowledge_base_cache", "knowledge base cache directory")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		embedModel  = flag.String("model", "nomic-embed-text", "Ollama embedding model")
		geminiKey   = flag.String("gemini-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key (switches embeddings to Gemini)")
		qdrantAddr  = flag.String("qdrant", "", "Qdrant gRPC address (empty disables the vector mirror)")
		collection  = flag.String("collection", "support", "Qdrant collection name")
		metricsPort = flag.Int("metrics-port", 9092, "Prometheus metrics port")
	)
	flag.Parse()

	met.CollectRuntime("support_worker", 15*time.Second)
	met.ServeAsync(*metricsPort)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(*natsURL, nats.Name("support-worker"))
	if err != nil {
		log.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	log.Info("connected to NATS", "url", *natsURL)

	var embedder llm.Embedder
	if *geminiKey != "" {
		client, err := gemini.New(gemini.Config{APIKey: *geminiKey})
		if err != nil {
			log.Error("gemini client failed", "error", err)
			os.Exit(1)
		}
		embedder = client
		log.Info("using Gemini embeddings")
	} else {
		embedder = ollama.New(*ollamaURL, *embedModel, "")
		log.Info("using Ollama embeddings", "model", *embedModel)
	}

	var mirror ingest.Mirror
	if *qdrantAddr != "" {
		vs, err := semantic.New(*qdrantAddr, *collection)
		if err != nil {
			log.Error("qdrant connect failed", "error", err)
			os.Exit(1)
		}
		defer vs.Close()
		mirror = vs
		log.Info("mirroring vectors to Qdrant", "collection", *collection)
	}

	var counter chunk.Counter
	if tk, err := chunk.NewTiktokenCounter(); err != nil {
		log.Warn("tiktoken unavailable, counting words instead", "error", err)
		counter = chunk.WordCounter{}
	} else {
		counter = tk
	}
	chunker, err := chunk.New(counter, chunk.DefaultTargetTokens, chunk.DefaultOverlapTokens)
	if err != nil {
		log.Error("chunker init failed", "error", err)
		os.Exit(1)
	}

	store, err := kb.NewFileStore(*cacheDir, log)
	if err != nil {
		log.Error("cache dir failed", "error", err)
		os.Exit(1)
	}

	pipeline, err := ingest.NewPipeline(ingest.Deps{
		Parser:   docparse.New(log),
		Chunker:  chunker,
		Embedder: embedder,
		Cache:    kb.NewCache(store, log),
		Mirror:   mirror,
		Logger:   log,
		Metrics:  met,
	})
	if err != nil {
		log.Error("pipeline init failed", "error", err)
		os.Exit(1)
	}

	sub, err := ingest.StartConsumer(nc, pipeline)
	if err != nil {
		log.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	log.Info("consuming ingest jobs", "subject", ingest.JobsSubject, "queue", ingest.QueueGroup)

	<-ctx.Done()
	log.Info("shutting down")
	// Drain lets in-flight jobs finish before the connection closes.
	if err := sub.Drain(); err != nil {
		log.Error("drain failed", "error", err)
	}
}
