package rag

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/metrics"
)

// --- mocks ---

type mockClassifier struct {
	result domain.TriageResult
	called bool
}

func (m *mockClassifier) Classify(_ context.Context, _ string, _ []domain.ConversationTurn) domain.TriageResult {
	m.called = true
	return m.result
}

type mockEmbedder struct {
	vec    []float32
	err    error
	called bool
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.called = true
	return m.vec, m.err
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vec
	}
	return out, m.err
}

type mockRetriever struct {
	hits    []domain.ScoredChunk
	err     error
	lastID  domain.Identity
	lastVec []float32
	lastK   int
	called  bool
}

func (m *mockRetriever) Retrieve(_ context.Context, id domain.Identity, vec []float32, k int) ([]domain.ScoredChunk, error) {
	m.called = true
	m.lastID, m.lastVec, m.lastK = id, vec, k
	return m.hits, m.err
}

type mockCompleter struct {
	reply      string
	err        error
	lastPrompt string
	calls      int
}

func (m *mockCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	m.calls++
	m.lastPrompt = req.Prompt
	return m.reply, m.err
}

func question(sentiment domain.Sentiment) domain.TriageResult {
	return domain.TriageResult{Intent: domain.IntentQuestion, Sentiment: sentiment}
}

func testIdentity() domain.Identity {
	return domain.HashBytes([]byte("conversation fixture"))
}

func someHits() []domain.ScoredChunk {
	return []domain.ScoredChunk{
		{Chunk: domain.Chunk{ID: 0, Text: "Refunds are issued within 30 days."}, Score: 0.92},
		{Chunk: domain.Chunk{ID: 3, Text: "Contact support for escalations."}, Score: 0.71},
	}
}

func newTestService(cl *mockClassifier, em *mockEmbedder, re *mockRetriever, gen *mockCompleter, met *metrics.Registry) *Service {
	opts := DefaultOptions()
	opts.Metrics = met
	return New(cl, em, re, NewGenerator(gen, nil, 0, slog.Default()), opts, slog.Default())
}

// --- tests ---

func TestConverse_StandardPath(t *testing.T) {
	cl := &mockClassifier{result: question(domain.SentimentNeutral)}
	em := &mockEmbedder{vec: []float32{0.1, 0.2}}
	re := &mockRetriever{hits: someHits()}
	gen := &mockCompleter{reply: "Refunds take up to 30 days."}
	svc := newTestService(cl, em, re, gen, nil)

	resp, err := svc.Converse(context.Background(), ConverseRequest{
		Query:    "how long do refunds take?",
		Identity: testIdentity(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "Refunds take up to 30 days." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Route != domain.RouteStandard {
		t.Errorf("route = %s, want standard", resp.Route)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(resp.Sources))
	}
	if re.lastK != 5 {
		t.Errorf("retrieval k = %d, want 5", re.lastK)
	}
	if re.lastID != testIdentity() {
		t.Errorf("retrieval identity = %s", re.lastID)
	}
	if !strings.Contains(gen.lastPrompt, "expert Q&A assistant") {
		t.Errorf("prompt did not use the standard template")
	}
	if !strings.Contains(gen.lastPrompt, "Refunds are issued within 30 days.") {
		t.Errorf("prompt missing retrieved context")
	}
}

func TestConverse_ComplaintTakesEmpatheticPath(t *testing.T) {
	cl := &mockClassifier{result: domain.TriageResult{Intent: domain.IntentComplaint, Sentiment: domain.SentimentPositive}}
	em := &mockEmbedder{vec: []float32{0.1}}
	re := &mockRetriever{hits: someHits()}
	gen := &mockCompleter{reply: "I'm sorry about that. Refunds take 30 days."}
	svc := newTestService(cl, em, re, gen, nil)

	resp, err := svc.Converse(context.Background(), ConverseRequest{Query: "my refund is missing", Identity: testIdentity()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Route != domain.RouteEmpathetic {
		t.Errorf("route = %s, want empathetic", resp.Route)
	}
	if !strings.Contains(gen.lastPrompt, "caring and empathetic") {
		t.Errorf("prompt did not use the empathetic template")
	}
}

func TestConverse_NegativeSentimentTakesEmpatheticPath(t *testing.T) {
	cl := &mockClassifier{result: question(domain.SentimentNegative)}
	em := &mockEmbedder{vec: []float32{0.1}}
	re := &mockRetriever{hits: someHits()}
	gen := &mockCompleter{reply: "answer"}
	svc := newTestService(cl, em, re, gen, nil)

	resp, err := svc.Converse(context.Background(), ConverseRequest{Query: "why is this still broken", Identity: testIdentity()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Route != domain.RouteEmpathetic {
		t.Errorf("route = %s, want empathetic", resp.Route)
	}
}

func TestConverse_EscalationShortCircuits(t *testing.T) {
	cl := &mockClassifier{result: domain.TriageResult{Intent: domain.IntentEscalate, Sentiment: domain.SentimentNegative}}
	em := &mockEmbedder{vec: []float32{0.1}}
	re := &mockRetriever{hits: someHits()}
	gen := &mockCompleter{reply: "should never be used"}
	svc := newTestService(cl, em, re, gen, nil)

	resp, err := svc.Converse(context.Background(), ConverseRequest{Query: "let me speak to a manager", Identity: testIdentity()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != EscalationHandOff {
		t.Errorf("answer = %q, want the fixed hand-off message", resp.Answer)
	}
	if resp.Route != domain.RouteEscalate {
		t.Errorf("route = %s, want escalate", resp.Route)
	}
	if em.called || re.called || gen.calls != 0 {
		t.Errorf("escalation must bypass embed/retrieve/generate (embed=%v retrieve=%v gen=%d)",
			em.called, re.called, gen.calls)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("escalation carries no sources, got %d", len(resp.Sources))
	}
}

func TestConverse_NoKnowledgeBaseDegrades(t *testing.T) {
	met := metrics.New()
	cl := &mockClassifier{result: question(domain.SentimentNeutral)}
	em := &mockEmbedder{vec: []float32{0.1}}
	re := &mockRetriever{err: domain.ErrNoKnowledgeBase}
	gen := &mockCompleter{reply: "should never be used"}
	svc := newTestService(cl, em, re, gen, met)

	resp, err := svc.Converse(context.Background(), ConverseRequest{Query: "what is the return policy?"})
	if err != nil {
		t.Fatalf("degraded turn must not fail: %v", err)
	}
	if resp.Answer != noContextStandard {
		t.Errorf("answer = %q, want the fixed no-context reply", resp.Answer)
	}
	if gen.calls != 0 {
		t.Errorf("no-context turn must not call the model, got %d calls", gen.calls)
	}
	if got := met.Counter("support_retrieval_degraded_total", "").Value(); got != 1 {
		t.Errorf("degraded counter = %d, want 1", got)
	}
}

func TestConverse_NoKnowledgeBaseEmpatheticReply(t *testing.T) {
	cl := &mockClassifier{result: domain.TriageResult{Intent: domain.IntentComplaint, Sentiment: domain.SentimentNegative}}
	em := &mockEmbedder{vec: []float32{0.1}}
	re := &mockRetriever{err: domain.ErrNoKnowledgeBase}
	gen := &mockCompleter{}
	svc := newTestService(cl, em, re, gen, nil)

	resp, err := svc.Converse(context.Background(), ConverseRequest{Query: "this is broken and nobody helps"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != noContextEmpathetic {
		t.Errorf("answer = %q, want the empathetic no-context reply", resp.Answer)
	}
}

func TestConverse_EmbedFailureDegrades(t *testing.T) {
	met := metrics.New()
	cl := &mockClassifier{result: question(domain.SentimentNeutral)}
	em := &mockEmbedder{err: errors.New("embedder offline")}
	re := &mockRetriever{hits: someHits()}
	gen := &mockCompleter{}
	svc := newTestService(cl, em, re, gen, met)

	resp, err := svc.Converse(context.Background(), ConverseRequest{Query: "anything", Identity: testIdentity()})
	if err != nil {
		t.Fatalf("embed failure must degrade, not abort: %v", err)
	}
	if resp.Answer != noContextStandard {
		t.Errorf("answer = %q", resp.Answer)
	}
	if re.called {
		t.Errorf("retrieval must be skipped when embedding fails")
	}
	if got := met.Counter("support_retrieval_degraded_total", "").Value(); got != 1 {
		t.Errorf("degraded counter = %d, want 1", got)
	}
}

func TestConverse_GenerationFailureSurfaces(t *testing.T) {
	met := metrics.New()
	cl := &mockClassifier{result: question(domain.SentimentNeutral)}
	em := &mockEmbedder{vec: []float32{0.1}}
	re := &mockRetriever{hits: someHits()}
	gen := &mockCompleter{err: errors.New("model overloaded")}
	svc := newTestService(cl, em, re, gen, met)

	resp, err := svc.Converse(context.Background(), ConverseRequest{Query: "anything", Identity: testIdentity()})
	if !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatalf("expected ErrGenerationFailure, got %v", err)
	}
	if resp != nil {
		t.Errorf("failed turn must not return a response")
	}
	if got := met.Counter("support_generation_failures_total", "").Value(); got != 1 {
		t.Errorf("failure counter = %d, want 1", got)
	}
}

func TestConverse_ValidatesInput(t *testing.T) {
	cl := &mockClassifier{}
	svc := newTestService(cl, &mockEmbedder{}, &mockRetriever{}, &mockCompleter{}, nil)

	if _, err := svc.Converse(context.Background(), ConverseRequest{Query: "   "}); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Errorf("empty query: got %v", err)
	}
	_, err := svc.Converse(context.Background(), ConverseRequest{
		Query:   "fine",
		History: []domain.ConversationTurn{{Role: "narrator", Content: "hello"}},
	})
	if !errors.Is(err, domain.ErrInvalidRole) {
		t.Errorf("bad role: got %v", err)
	}
	if cl.called {
		t.Errorf("classification must not run for invalid input")
	}
}

func TestConverse_CountsQueriesByRoute(t *testing.T) {
	met := metrics.New()
	cl := &mockClassifier{result: question(domain.SentimentNeutral)}
	em := &mockEmbedder{vec: []float32{0.1}}
	re := &mockRetriever{hits: someHits()}
	gen := &mockCompleter{reply: "ok"}
	svc := newTestService(cl, em, re, gen, met)

	if _, err := svc.Converse(context.Background(), ConverseRequest{Query: "q", Identity: testIdentity()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name := metrics.WithLabels("support_queries_total", "route", "standard")
	if got := met.Counter(name, "").Value(); got != 1 {
		t.Errorf("route counter = %d, want 1", got)
	}
}
