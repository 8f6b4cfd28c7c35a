package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
)

// Retriever finds the chunks most similar to an embedded query within one
// document's knowledge base. An unbound or unknown identity yields
// domain.ErrNoKnowledgeBase.
type Retriever interface {
	Retrieve(ctx context.Context, id domain.Identity, queryVec []float32, k int) ([]domain.ScoredChunk, error)
}

// CacheRetriever searches the in-process index of a cached knowledge base.
type CacheRetriever struct {
	cache *kb.Cache
}

// NewCacheRetriever creates a Retriever over the knowledge base cache.
func NewCacheRetriever(cache *kb.Cache) *CacheRetriever {
	return &CacheRetriever{cache: cache}
}

func (r *CacheRetriever) Retrieve(ctx context.Context, id domain.Identity, queryVec []float32, k int) ([]domain.ScoredChunk, error) {
	if id == "" {
		return nil, fmt.Errorf("rag: retrieve: %w", domain.ErrNoKnowledgeBase)
	}
	base, err := r.cache.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("rag: retrieve %s: %w", id.Short(), domain.ErrNoKnowledgeBase)
		}
		return nil, fmt.Errorf("rag: retrieve %s: %w", id.Short(), err)
	}

	hits := base.Index.Search(queryVec, k)
	scored := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		ch, ok := base.Chunk(h.ChunkID)
		if !ok {
			continue
		}
		scored = append(scored, domain.ScoredChunk{Chunk: ch, Score: h.Score})
	}
	return scored, nil
}

// RemoteRetriever searches the Qdrant mirror, reconstructing chunks from
// point payloads.
type RemoteRetriever struct {
	store *semantic.Store
}

// NewRemoteRetriever creates a Retriever over the Qdrant mirror.
func NewRemoteRetriever(store *semantic.Store) *RemoteRetriever {
	return &RemoteRetriever{store: store}
}

func (r *RemoteRetriever) Retrieve(ctx context.Context, id domain.Identity, queryVec []float32, k int) ([]domain.ScoredChunk, error) {
	if id == "" {
		return nil, fmt.Errorf("rag: retrieve: %w", domain.ErrNoKnowledgeBase)
	}
	return r.store.SearchByDoc(ctx, id, queryVec, k)
}
