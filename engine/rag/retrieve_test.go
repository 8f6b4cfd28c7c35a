package rag

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/semantic"
)

func testCacheRetriever(t *testing.T) (*CacheRetriever, domain.Identity) {
	t.Helper()
	store, err := kb.NewFileStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cache := kb.NewCache(store, slog.Default())

	id := domain.HashBytes([]byte("retriever fixture"))
	idx, err := semantic.Build([]domain.VectorRecord{
		{ChunkID: 0, Vector: []float32{1, 0}},
		{ChunkID: 1, Vector: []float32{0, 1}},
	}, semantic.MetricCosine)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	base := &kb.KnowledgeBase{
		Identity: id,
		Chunks: []domain.Chunk{
			{ID: 0, Text: "Refund policy text.", End: 19},
			{ID: 1, Text: "Shipping policy text.", Start: 21, End: 42},
		},
		Index: idx,
	}
	if _, err := cache.GetOrBuild(context.Background(), id, func(context.Context) (*kb.KnowledgeBase, error) {
		return base, nil
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	return NewCacheRetriever(cache), id
}

func TestCacheRetriever_MapsHitsToChunks(t *testing.T) {
	r, id := testCacheRetriever(t)

	hits, err := r.Retrieve(context.Background(), id, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Chunk.Text != "Refund policy text." {
		t.Errorf("best hit = %q", hits[0].Chunk.Text)
	}
	if hits[0].Score <= 0.9 {
		t.Errorf("score = %f, want near 1", hits[0].Score)
	}
}

func TestCacheRetriever_ClampsK(t *testing.T) {
	r, id := testCacheRetriever(t)
	hits, err := r.Retrieve(context.Background(), id, []float32{1, 1}, 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("hits = %d, want entire corpus", len(hits))
	}
}

func TestCacheRetriever_EmptyIdentity(t *testing.T) {
	r, _ := testCacheRetriever(t)
	_, err := r.Retrieve(context.Background(), "", []float32{1, 0}, 5)
	if !errors.Is(err, domain.ErrNoKnowledgeBase) {
		t.Fatalf("expected ErrNoKnowledgeBase, got %v", err)
	}
}

func TestCacheRetriever_UnknownIdentity(t *testing.T) {
	r, _ := testCacheRetriever(t)
	_, err := r.Retrieve(context.Background(), domain.HashBytes([]byte("never ingested")), []float32{1, 0}, 5)
	if !errors.Is(err, domain.ErrNoKnowledgeBase) {
		t.Fatalf("expected ErrNoKnowledgeBase, got %v", err)
	}
}

func TestRemoteRetriever_EmptyIdentity(t *testing.T) {
	r := NewRemoteRetriever(nil)
	_, err := r.Retrieve(context.Background(), "", []float32{1, 0}, 5)
	if !errors.Is(err, domain.ErrNoKnowledgeBase) {
		t.Fatalf("expected ErrNoKnowledgeBase, got %v", err)
	}
}
