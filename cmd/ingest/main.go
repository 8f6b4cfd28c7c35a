// Command ingest loads support documents into the knowledge base cache,
// either directly in-process or by publishing jobs for the worker fleet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PhantomAgents/phantom-mvp/engine/chunk"
	"github.com/PhantomAgents/phantom-mvp/engine/docparse"
	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/ingest"
	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm/gemini"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm/ollama"
	"github.com/PhantomAgents/phantom-mvp/pkg/natsutil"
)

func main() {
	var (
		cacheDir   = flag.String("cache", "knowledge_base_cache", "knowledge base cache directory")
		ollamaURL  = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		embedModel = flag.String("model", "nomic-embed-text", "Ollama embedding model")
		geminiKey  = flag.String("gemini-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key (switches embeddings to Gemini)")
		qdrantAddr = flag.String("qdrant", "", "Qdrant gRPC address (empty disables the vector mirror)")
		collection = flag.String("collection", "support", "Qdrant collection name")
		formatName = flag.String("format", "", "force document format (pdf, docx, txt); default derives from extension")
		publish    = flag.Bool("publish", false, "publish jobs to NATS instead of ingesting in-process")
		natsURL    = flag.String("nats", nats.DefaultURL, "NATS server URL (with -publish)")
		wait       = flag.Duration("wait", 0, "with -publish, wait up to this long for completion events")
	)
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [flags] file...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *publish {
		if err := publishJobs(ctx, log, *natsURL, paths, *formatName, *wait); err != nil {
			log.Error("publish failed", "error", err)
			os.Exit(1)
		}
		return
	}

	failed := ingestLocal(ctx, log, localConfig{
		cacheDir:   *cacheDir,
		ollamaURL:  *ollamaURL,
		embedModel: *embedModel,
		geminiKey:  *geminiKey,
		qdrantAddr: *qdrantAddr,
		collection: *collection,
		formatName: *formatName,
	}, paths)
	if failed > 0 {
		log.Error("ingestion finished with failures", "failed", failed, "total", len(paths))
		os.Exit(1)
	}
}

type localConfig struct {
	cacheDir   string
	ollamaURL  string
	embedModel string
	geminiKey  string
	qdrantAddr string
	collection string
	formatName string
}

// ingestLocal runs every file through the pipeline and returns the number
// of failures. A failing file does not stop the rest of the batch.
func ingestLocal(ctx context.Context, log *slog.Logger, cfg localConfig, paths []string) int {
	var embedder llm.Embedder
	if cfg.geminiKey != "" {
		client, err := gemini.New(gemini.Config{APIKey: cfg.geminiKey})
		if err != nil {
			log.Error("gemini client failed", "error", err)
			return len(paths)
		}
		embedder = client
	} else {
		embedder = ollama.New(cfg.ollamaURL, cfg.embedModel, "")
	}

	var mirror ingest.Mirror
	if cfg.qdrantAddr != "" {
		vs, err := semantic.New(cfg.qdrantAddr, cfg.collection)
		if err != nil {
			log.Error("qdrant connect failed", "error", err)
			return len(paths)
		}
		defer vs.Close()
		mirror = vs
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
		return len(paths)
	}

	store, err := kb.NewFileStore(cfg.cacheDir, log)
	if err != nil {
		log.Error("cache dir failed", "error", err)
		return len(paths)
	}

	pipeline, err := ingest.NewPipeline(ingest.Deps{
		Parser:   docparse.New(log),
		Chunker:  chunker,
		Embedder: embedder,
		Cache:    kb.NewCache(store, log),
		Mirror:   mirror,
		Logger:   log,
	})
	if err != nil {
		log.Error("pipeline init failed", "error", err)
		return len(paths)
	}

	failed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			failed++
			continue
		}
		format, err := resolveFormat(path, cfg.formatName)
		if err != nil {
			log.Error("skipping file", "file", path, "error", err)
			failed++
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("read failed", "file", path, "error", err)
			failed++
			continue
		}
		base, err := pipeline.Run(ctx, data, format)
		if err != nil {
			log.Error("ingest failed", "file", path, "error", err)
			failed++
			continue
		}
		fmt.Printf("%s  %s  %d chunks\n", base.Identity, filepath.Base(path), len(base.Chunks))
	}
	return failed
}

// publishJobs sends one ingest job per file and optionally waits for the
// workers' completion events.
func publishJobs(ctx context.Context, log *slog.Logger, natsURL string, paths []string, formatName string, wait time.Duration) error {
	nc, err := nats.Connect(natsURL, nats.Name("support-ingest-cli"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	pending := make(map[string]bool, len(paths))
	events := make(chan ingest.Event, len(paths))
	if wait > 0 {
		sub, err := natsutil.Subscribe(nc, ingest.DoneSubject, func(_ context.Context, ev ingest.Event) {
			events <- ev
		})
		if err != nil {
			return fmt.Errorf("subscribe completions: %w", err)
		}
		defer sub.Unsubscribe()
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		job := ingest.Job{Path: abs, Format: formatName}
		if err := natsutil.Publish(ctx, nc, ingest.JobsSubject, job); err != nil {
			return fmt.Errorf("publish %s: %w", path, err)
		}
		pending[abs] = true
		log.Info("job published", "file", abs)
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	if wait <= 0 {
		return nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for len(pending) > 0 {
		select {
		case ev := <-events:
			if pending[ev.Path] {
				delete(pending, ev.Path)
				fmt.Printf("%s  %s  %d chunks\n", ev.Identity, filepath.Base(ev.Path), ev.Chunks)
			}
		case <-deadline.C:
			return fmt.Errorf("timed out with %d jobs outstanding", len(pending))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// resolveFormat prefers the explicit flag over the file extension.
func resolveFormat(path, formatName string) (domain.Format, error) {
	if formatName != "" {
		return domain.ParseFormat(formatName)
	}
	return domain.FormatFromPath(path)
}
