package triage

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

type mockCompleter struct {
	reply      string
	err        error
	lastPrompt string
}

func (m *mockCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	m.lastPrompt = req.Prompt
	return m.reply, m.err
}

func TestClassify_ParsesCleanJSON(t *testing.T) {
	gen := &mockCompleter{reply: `{"intent": "Complaint", "sentiment": "Negative"}`}
	c := NewClassifier(gen, slog.Default(), nil)

	got := c.Classify(context.Background(), "my package arrived broken", nil)
	if got.Intent != domain.IntentComplaint || got.Sentiment != domain.SentimentNegative {
		t.Errorf("got %+v, want Complaint/Negative", got)
	}
}

func TestClassify_StripsCodeFences(t *testing.T) {
	gen := &mockCompleter{reply: "```json\n{\n  \"intent\": \"Escalate\",\n  \"sentiment\": \"Neutral\"\n}\n```"}
	c := NewClassifier(gen, slog.Default(), nil)

	got := c.Classify(context.Background(), "let me talk to a human", nil)
	if got.Intent != domain.IntentEscalate || got.Sentiment != domain.SentimentNeutral {
		t.Errorf("got %+v, want Escalate/Neutral", got)
	}
}

func TestClassify_PromptCarriesHistoryAndQuery(t *testing.T) {
	gen := &mockCompleter{reply: `{"intent": "Question", "sentiment": "Neutral"}`}
	c := NewClassifier(gen, slog.Default(), nil)

	history := []domain.ConversationTurn{
		{Role: "user", Content: "My order is late."},
		{Role: "model", Content: "I see your order #123 is scheduled for today."},
	}
	c.Classify(context.Background(), "where is it now?", history)

	for _, want := range []string{
		"user: My order is late.",
		"model: I see your order #123 is scheduled for today.",
		"LATEST USER QUERY: where is it now?",
	} {
		if !strings.Contains(gen.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestClassify_FallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "call error", err: errors.New("model unavailable")},
		{name: "not json", reply: "Sure! The intent is Complaint."},
		{name: "truncated json", reply: `{"intent": "Complaint"`},
		{name: "unknown intent", reply: `{"intent": "Praise", "sentiment": "Positive"}`},
		{name: "unknown sentiment", reply: `{"intent": "Question", "sentiment": "Ecstatic"}`},
		{name: "missing keys", reply: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := metrics.New()
			fallbacks := met.Counter("triage_fallbacks_total", "")
			c := NewClassifier(&mockCompleter{reply: tt.reply, err: tt.err}, slog.Default(), fallbacks)

			got := c.Classify(context.Background(), "anything", nil)
			if got != fallbackResult {
				t.Errorf("got %+v, want fallback %+v", got, fallbackResult)
			}
			if fallbacks.Value() != 1 {
				t.Errorf("fallback counter = %d, want 1", fallbacks.Value())
			}
		})
	}
}

func TestClassify_ValidResultDoesNotCountFallback(t *testing.T) {
	met := metrics.New()
	fallbacks := met.Counter("triage_fallbacks_total", "")
	gen := &mockCompleter{reply: `{"intent": "Question", "sentiment": "Positive"}`}
	c := NewClassifier(gen, slog.Default(), fallbacks)

	c.Classify(context.Background(), "what are your opening hours?", nil)
	if fallbacks.Value() != 0 {
		t.Errorf("fallback counter = %d, want 0", fallbacks.Value())
	}
}

func TestFormatHistory(t *testing.T) {
	if got := formatHistory(nil); got != "" {
		t.Errorf("empty history = %q, want empty string", got)
	}
	got := formatHistory([]domain.ConversationTurn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	if got != "user: hi\nassistant: hello" {
		t.Errorf("formatHistory = %q", got)
	}
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		intent    domain.Intent
		sentiment domain.Sentiment
		want      domain.Route
	}{
		{domain.IntentEscalate, domain.SentimentNegative, domain.RouteEscalate},
		{domain.IntentEscalate, domain.SentimentPositive, domain.RouteEscalate},
		{domain.IntentEscalate, domain.SentimentNeutral, domain.RouteEscalate},
		{domain.IntentComplaint, domain.SentimentNegative, domain.RouteEmpathetic},
		{domain.IntentComplaint, domain.SentimentNeutral, domain.RouteEmpathetic},
		{domain.IntentComplaint, domain.SentimentPositive, domain.RouteEmpathetic},
		{domain.IntentQuestion, domain.SentimentNegative, domain.RouteEmpathetic},
		{domain.IntentQuestion, domain.SentimentNeutral, domain.RouteStandard},
		{domain.IntentQuestion, domain.SentimentPositive, domain.RouteStandard},
	}
	for _, tt := range tests {
		got := RouteFor(domain.TriageResult{Intent: tt.intent, Sentiment: tt.sentiment})
		if got != tt.want {
			t.Errorf("RouteFor(%s, %s) = %s, want %s", tt.intent, tt.sentiment, got, tt.want)
		}
	}
}
