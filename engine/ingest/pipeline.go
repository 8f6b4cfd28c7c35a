// Package ingest turns raw document bytes into cached knowledge bases. The
// pipeline runs parse, chunk, embed, and index stages and publishes the
// result through the knowledge-base cache, so identical bytes are only ever
// processed once.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PhantomAgents/phantom-mvp/engine/chunk"
	"github.com/PhantomAgents/phantom-mvp/engine/docparse"
	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/metrics"
	"github.com/PhantomAgents/phantom-mvp/pkg/pipe"
)

// Mirror receives a copy of every freshly built knowledge base. Satisfied by
// *semantic.Store; mirror failures never fail an ingestion.
type Mirror interface {
	EnsureCollection(ctx context.Context, dims int) error
	UpsertChunks(ctx context.Context, id domain.Identity, chunks []domain.Chunk, vectors [][]float32) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Parser   *docparse.Parser
	Chunker  *chunk.Chunker
	Embedder llm.Embedder
	Cache    *kb.Cache
	// Mirror is optional; nil disables vector-store mirroring.
	Mirror  Mirror
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Pipeline ingests documents into the knowledge-base cache.
type Pipeline struct {
	deps  Deps
	log   *slog.Logger
	retry pipe.RetryOpts
}

// NewPipeline wires the ingestion stages. Parser, Chunker, Embedder, and
// Cache are required.
func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Parser == nil || deps.Chunker == nil || deps.Embedder == nil || deps.Cache == nil {
		return nil, fmt.Errorf("ingest: missing pipeline dependency")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, log: log, retry: pipe.DefaultRetry}, nil
}

// embedded pairs chunks with their vectors between the embed and index
// stages.
type embedded struct {
	chunks  []domain.Chunk
	vectors [][]float32
}

// Run ingests one document. The content hash of data is the cache key:
// when a knowledge base for these bytes already exists, no stage runs.
func (p *Pipeline) Run(ctx context.Context, data []byte, format domain.Format) (*kb.KnowledgeBase, error) {
	id := domain.HashBytes(data)
	log := p.log.With("identity", id.Short(), "format", format)

	built := false
	base, err := p.deps.Cache.GetOrBuild(ctx, id, func(ctx context.Context) (*kb.KnowledgeBase, error) {
		built = true
		return p.build(ctx, id, data, format, log)
	})
	if err != nil {
		p.count("fail")
		return nil, err
	}
	if built {
		p.count("miss")
	} else {
		p.count("hit")
		log.Debug("ingest served from cache")
	}
	return base, nil
}

// build runs the staged pipeline for a cache miss.
func (p *Pipeline) build(ctx context.Context, id domain.Identity, data []byte, format domain.Format, log *slog.Logger) (*kb.KnowledgeBase, error) {
	start := time.Now()
	defer p.observeBuild(start)
	parse := pipe.Traced("ingest.parse", func(_ context.Context, raw []byte) pipe.Result[*docparse.Document] {
		return pipe.FromPair(p.deps.Parser.Parse(raw, format))
	})
	chunkStage := pipe.Traced("ingest.chunk", func(_ context.Context, doc *docparse.Document) pipe.Result[[]domain.Chunk] {
		chunks, err := p.deps.Chunker.Split(doc)
		if err != nil {
			return pipe.Err[[]domain.Chunk](err)
		}
		if len(chunks) == 0 {
			return pipe.Err[[]domain.Chunk](fmt.Errorf("ingest: %s: %w", id.Short(), domain.ErrEmptyCorpus))
		}
		return pipe.Ok(chunks)
	})
	embedStage := pipe.Traced("ingest.embed", func(ctx context.Context, chunks []domain.Chunk) pipe.Result[embedded] {
		vectors, err := p.embedChunks(ctx, chunks)
		if err != nil {
			return pipe.Err[embedded](err)
		}
		return pipe.Ok(embedded{chunks: chunks, vectors: vectors})
	})
	indexStage := pipe.Traced("ingest.index", func(_ context.Context, e embedded) pipe.Result[*kb.KnowledgeBase] {
		records := make([]domain.VectorRecord, len(e.chunks))
		for i, c := range e.chunks {
			records[i] = domain.VectorRecord{ChunkID: c.ID, Vector: e.vectors[i]}
		}
		index, err := semantic.Build(records, semantic.MetricCosine)
		if err != nil {
			return pipe.Err[*kb.KnowledgeBase](fmt.Errorf("ingest: index %s: %w", id.Short(), err))
		}
		return pipe.Ok(&kb.KnowledgeBase{Identity: id, Chunks: e.chunks, Index: index})
	})

	// The mirror needs the raw vectors, which the index normalizes away, so
	// the embed output stays in scope past the index stage.
	embedResult := pipe.Then(pipe.Then(parse, chunkStage), embedStage)(ctx, data)
	if embedResult.IsErr() {
		_, err := embedResult.Unwrap()
		return nil, err
	}
	e, _ := embedResult.Unwrap()

	indexResult := indexStage(ctx, e)
	if indexResult.IsErr() {
		_, err := indexResult.Unwrap()
		return nil, err
	}
	base, _ := indexResult.Unwrap()
	log.Info("knowledge base built", "chunks", len(base.Chunks), "dims", base.Index.Dims())

	p.mirror(ctx, base, e.vectors, log)
	return base, nil
}

// embedChunks requests vectors in batches. Each batch call is retried;
// embedding is idempotent.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	for i := 0; i < len(chunks); i += EmbedBatchSize {
		end := i + EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-i)
		for j, c := range chunks[i:end] {
			texts[j] = c.Text
		}

		result := pipe.Retry(ctx, p.retry, func(ctx context.Context) pipe.Result[[][]float32] {
			return pipe.FromPair(p.deps.Embedder.EmbedBatch(ctx, texts))
		})
		batch, err := result.Unwrap()
		if err != nil {
			return nil, fmt.Errorf("ingest: embed batch at chunk %d: %w", i, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("ingest: embed batch at chunk %d: got %d vectors for %d texts", i, len(batch), len(texts))
		}
		copy(vectors[i:end], batch)
	}
	return vectors, nil
}

// mirror pushes the built knowledge base to the external vector store.
func (p *Pipeline) mirror(ctx context.Context, base *kb.KnowledgeBase, vectors [][]float32, log *slog.Logger) {
	if p.deps.Mirror == nil {
		return
	}
	if err := p.deps.Mirror.EnsureCollection(ctx, base.Index.Dims()); err != nil {
		log.Warn("vector store collection unavailable, skipping mirror", "error", err)
		return
	}
	if err := p.deps.Mirror.UpsertChunks(ctx, base.Identity, base.Chunks, vectors); err != nil {
		log.Warn("vector store mirror failed", "error", err)
	}
}

func (p *Pipeline) count(result string) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.Counter(
		metrics.WithLabels("support_ingest_total", "result", result),
		"Documents ingested by outcome.",
	).Inc()
}

func (p *Pipeline) observeBuild(start time.Time) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.Histogram("support_ingest_seconds", "Knowledge base build latency.", nil).Since(start)
}
