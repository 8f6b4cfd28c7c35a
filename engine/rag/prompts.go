package rag

import (
	"strings"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

// Fixed responses. These are returned verbatim, never generated, so the
// behaviour on the escalation and empty-context paths is deterministic.
const (
	// EscalationHandOff is the reply for an explicit escalation request.
	EscalationHandOff = "I understand. I'm connecting you to a human agent now. Please wait a moment."

	// GenerationApology is what callers should show the user when answer
	// generation fails. The failed turn is not retried.
	GenerationApology = "I'm sorry, I'm having trouble generating a response right now. Please try again in a moment."

	noContextStandard   = "I do not have enough information to answer this question."
	noContextEmpathetic = "I understand your frustration, but I couldn't find specific information about your issue in the knowledge base. I recommend reaching out to our support team directly for more help."
)

const contextSeparator = "\n\n---\n\n"

const standardPrompt = `**INSTRUCTION:** You are an expert Q&A assistant. Answer the user's question based ONLY on the provided context. Be direct and concise. If the answer is not in the context, say so.

**CONTEXT:**
%s

**QUESTION:**
%s

**ANSWER:**
`

const empatheticPrompt = `**INSTRUCTION:** You are a caring and empathetic customer support assistant. A user is upset or has a complaint.
1. Start by acknowledging their frustration and showing empathy based on their question.
2. Then, answer their question using ONLY the provided context.
3. Maintain a supportive and helpful tone throughout.

**CONTEXT:**
%s

**QUESTION:**
%s

**EMPATHETIC ANSWER:**
`

// buildContext concatenates retrieved chunk texts into the prompt's context
// block.
func buildContext(hits []domain.ScoredChunk) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Chunk.Text
	}
	return strings.Join(parts, contextSeparator)
}
