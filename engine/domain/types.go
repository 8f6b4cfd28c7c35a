// Package domain defines core types, constants, and validation for the
// support engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

// Format tags the declared file format of an ingested document.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
)

// ValidFormats is the set of recognised document formats.
var ValidFormats = map[Format]bool{
	FormatPDF: true, FormatDOCX: true, FormatTXT: true,
}

// Chunk is a bounded segment of parsed document text, the unit of retrieval.
// Text may begin before Start by the configured overlap; [Start, End) is the
// chunk's own span of the canonical parsed text, and those spans tile the
// text in chunk-id order.
type Chunk struct {
	ID      uint32 `json:"id"`
	Text    string `json:"text"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// VectorRecord pairs a chunk id with its embedding. Dimensionality is fixed
// per index.
type VectorRecord struct {
	ChunkID uint32
	Vector  []float32
}

// ScoredChunk is a single retrieval hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Conversation roles. "model" is accepted as a legacy alias for assistant
// turns produced by older clients.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleModel     = "model"
)

// ValidRoles is the set of accepted conversation roles.
var ValidRoles = map[string]bool{
	RoleUser: true, RoleAssistant: true, RoleModel: true,
}

// ConversationTurn is one caller-supplied message of the conversation
// history. The engine treats history as read-only input and never stores it.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Intent classifies what the user wants from the current query.
type Intent string

const (
	IntentQuestion  Intent = "Question"
	IntentComplaint Intent = "Complaint"
	IntentEscalate  Intent = "Escalate"
)

// ValidIntents is the set of recognised intents.
var ValidIntents = map[Intent]bool{
	IntentQuestion: true, IntentComplaint: true, IntentEscalate: true,
}

// Sentiment classifies the emotional tone of a query.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
)

// ValidSentiments is the set of recognised sentiments.
var ValidSentiments = map[Sentiment]bool{
	SentimentPositive: true, SentimentNeutral: true, SentimentNegative: true,
}

// TriageResult is the classification of a single query in context. It is
// computed per query and never cached.
type TriageResult struct {
	Intent    Intent    `json:"intent"`
	Sentiment Sentiment `json:"sentiment"`
}

// Route selects the answer-generation path for a query.
type Route string

const (
	RouteStandard   Route = "standard"
	RouteEmpathetic Route = "empathetic"
	RouteEscalate   Route = "escalate"
)
