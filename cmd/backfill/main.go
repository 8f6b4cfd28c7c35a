// Command backfill repairs drift between the knowledge base cache and the
// Qdrant mirror. It walks the cached artifacts and re-upserts every chunk
// vector, so a mirror that was down during ingest catches up without
// re-parsing or re-embedding anything.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
)

func main() {
	var (
		cacheDir   = flag.String("cache", envOr("CACHE_DIR", "knowledge_base_cache"), "knowledge base cache directory")
		qdrantAddr = flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
		collection = flag.String("collection", envOr("QDRANT_COLLECTION", "support"), "Qdrant collection name")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := kb.NewFileStore(*cacheDir, slog.Default())
	if err != nil {
		log.Fatalf("cache dir: %v", err)
	}
	ids, err := store.List()
	if err != nil {
		log.Fatalf("list artifacts: %v", err)
	}
	log.Printf("Found %d cached knowledge bases", len(ids))
	if len(ids) == 0 {
		return
	}

	vs, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		log.Fatalf("qdrant connect: %v", err)
	}
	defer vs.Close()

	var mirrored, skipped, errs int
	ensured := false

	for i, id := range ids {
		if ctx.Err() != nil {
			log.Printf("interrupted after %d of %d", i, len(ids))
			break
		}

		base, err := store.Load(ctx, id)
		if err != nil {
			log.Printf("[%d] load %s: %v", i, id.Short(), err)
			errs++
			continue
		}

		vectors := vectorsInChunkOrder(base)
		if vectors == nil {
			log.Printf("[%d] %s: index does not cover all chunks, skipping", i, id.Short())
			skipped++
			continue
		}

		// All artifacts in one cache share the embedding model, so the
		// first loaded index fixes the collection dimensionality.
		if !ensured {
			if err := vs.EnsureCollection(ctx, base.Index.Dims()); err != nil {
				log.Fatalf("ensure collection: %v", err)
			}
			ensured = true
		}

		if err := vs.UpsertChunks(ctx, id, base.Chunks, vectors); err != nil {
			log.Printf("[%d] upsert %s: %v", i, id.Short(), err)
			errs++
			continue
		}

		mirrored++
		if mirrored%50 == 0 {
			log.Printf("Progress: %d mirrored, %d skipped, %d errors (of %d)", mirrored, skipped, errs, len(ids))
		}
	}

	log.Printf("Done. Mirrored: %d, Skipped: %d, Errors: %d, Total: %d", mirrored, skipped, errs, len(ids))
	if errs > 0 {
		os.Exit(1)
	}
}

// vectorsInChunkOrder aligns index rows with the chunk slice. Returns nil
// if any chunk is missing its vector, which marks a damaged artifact.
func vectorsInChunkOrder(base *kb.KnowledgeBase) [][]float32 {
	byID := make(map[uint32][]float32, base.Index.Len())
	base.Index.Rows(func(id uint32, vec []float32) { byID[id] = vec })

	vectors := make([][]float32, len(base.Chunks))
	for i, c := range base.Chunks {
		v, ok := byID[c.ID]
		if !ok {
			return nil
		}
		vectors[i] = v
	}
	return vectors
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
