// Package triage classifies incoming queries by intent and sentiment and
// selects the response path. Classification is advisory: any failure falls
// back to the standard question path rather than aborting the turn.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/metrics"
)

// classifyTimeout bounds the classification call. A slow triage degrades to
// the fallback instead of stalling the turn.
const classifyTimeout = 15 * time.Second

const classifyPrompt = `**INSTRUCTION:**
You are a classification model for a customer support AI. Analyze the "LATEST USER QUERY" in the context of the "CONVERSATION HISTORY".
Classify the query into one intent and one sentiment.
Your response MUST be a valid JSON object with two keys: "intent" and "sentiment".

**INTENT CATEGORIES:**
- "Question": The user is asking for information, help, or clarification.
- "Complaint": The user is expressing frustration, anger, or dissatisfaction with a product or service.
- "Escalate": The user explicitly asks to speak to a human, manager, or agent.

**SENTIMENT CATEGORIES:**
- "Positive": The user seems happy or satisfied.
- "Neutral": The user is expressing no strong emotion.
- "Negative": The user seems upset, angry, or frustrated.

**EXAMPLE:**
CONVERSATION HISTORY:
user: My order is late.
model: I see your order #123 is scheduled for today.
LATEST USER QUERY: This is unacceptable, where is it?!
YOUR RESPONSE:
{
  "intent": "Complaint",
  "sentiment": "Negative"
}

**TASK:**
CONVERSATION HISTORY:
%s
LATEST USER QUERY: %s
YOUR RESPONSE:
`

// fallbackResult is returned whenever classification cannot be trusted.
var fallbackResult = domain.TriageResult{
	Intent:    domain.IntentQuestion,
	Sentiment: domain.SentimentNeutral,
}

// Classifier runs one constrained-label generative call per query.
type Classifier struct {
	gen       llm.Completer
	logger    *slog.Logger
	fallbacks *metrics.Counter
}

// NewClassifier creates a Classifier. fallbacks counts queries that fell
// back to the default classification; it may be nil.
func NewClassifier(gen llm.Completer, logger *slog.Logger, fallbacks *metrics.Counter) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, logger: logger, fallbacks: fallbacks}
}

// Classify determines intent and sentiment for the latest query given the
// conversation so far. It never fails: call errors, malformed JSON, and
// unknown labels all yield the {Question, Neutral} fallback.
func (c *Classifier) Classify(ctx context.Context, query string, history []domain.ConversationTurn) domain.TriageResult {
	prompt := fmt.Sprintf(classifyPrompt, formatHistory(history), query)

	callCtx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()
	raw, err := c.gen.Complete(callCtx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		return c.fallback(fmt.Errorf("triage: classify call: %w", err))
	}

	result, err := parseClassification(raw)
	if err != nil {
		return c.fallback(err)
	}

	c.logger.Debug("query triaged",
		slog.String("intent", string(result.Intent)),
		slog.String("sentiment", string(result.Sentiment)))
	return result
}

func (c *Classifier) fallback(cause error) domain.TriageResult {
	c.logger.Warn("triage fell back to default classification", slog.String("error", cause.Error()))
	if c.fallbacks != nil {
		c.fallbacks.Inc()
	}
	return fallbackResult
}

// formatHistory renders history as "role: content" lines, the shape the
// classification prompt's worked example uses.
func formatHistory(history []domain.ConversationTurn) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, len(history))
	for i, turn := range history {
		lines[i] = turn.Role + ": " + turn.Content
	}
	return strings.Join(lines, "\n")
}

// parseClassification strips markdown code fences, decodes the JSON object,
// and validates both labels against the known sets.
func parseClassification(raw string) (domain.TriageResult, error) {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var body struct {
		Intent    string `json:"intent"`
		Sentiment string `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(cleaned), &body); err != nil {
		return domain.TriageResult{}, fmt.Errorf("triage: %w: %v", domain.ErrTriageParse, err)
	}

	intent := domain.Intent(body.Intent)
	if !domain.ValidIntents[intent] {
		return domain.TriageResult{}, fmt.Errorf("triage: %w: unknown intent %q", domain.ErrTriageParse, body.Intent)
	}
	sentiment := domain.Sentiment(body.Sentiment)
	if !domain.ValidSentiments[sentiment] {
		return domain.TriageResult{}, fmt.Errorf("triage: %w: unknown sentiment %q", domain.ErrTriageParse, body.Sentiment)
	}
	return domain.TriageResult{Intent: intent, Sentiment: sentiment}, nil
}
