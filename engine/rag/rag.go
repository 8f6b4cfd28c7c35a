// Package rag orchestrates one support-conversation turn: triage the query,
// route it, embed and retrieve document context, and generate the answer.
// The service holds no conversation state; history is caller-owned input.
package rag

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/triage"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/metrics"
)

// Classifier triages a query in conversation context. Implementations never
// fail; uncertain queries come back as standard questions.
type Classifier interface {
	Classify(ctx context.Context, query string, history []domain.ConversationTurn) domain.TriageResult
}

// Options configures turn handling.
type Options struct {
	// TopK is the number of chunks retrieved per query.
	TopK int
	// EmbedTimeout bounds the query-embedding call.
	EmbedTimeout time.Duration
	// SearchTimeout bounds retrieval.
	SearchTimeout time.Duration
	// Metrics receives per-route query counts and degraded/failure counters.
	// May be nil.
	Metrics *metrics.Registry
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		EmbedTimeout:  30 * time.Second,
		SearchTimeout: 5 * time.Second,
	}
}

// Service is the conversation turn orchestrator.
type Service struct {
	classify  Classifier
	embed     llm.Embedder
	retriever Retriever
	generator *Generator
	opts      Options
	logger    *slog.Logger
}

// New creates a Service.
func New(classify Classifier, embed llm.Embedder, retriever Retriever, generator *Generator, opts Options, logger *slog.Logger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultOptions().EmbedTimeout
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		classify:  classify,
		embed:     embed,
		retriever: retriever,
		generator: generator,
		opts:      opts,
		logger:    logger,
	}
}

// ConverseRequest is one turn's input. Identity may be empty when no
// document is bound to the conversation.
type ConverseRequest struct {
	Query    string
	History  []domain.ConversationTurn
	Identity domain.Identity
}

// ConverseResponse is one turn's outcome.
type ConverseResponse struct {
	Answer   string               `json:"answer"`
	Route    domain.Route         `json:"route"`
	Triage   domain.TriageResult  `json:"triage"`
	Identity domain.Identity      `json:"identity,omitempty"`
	Sources  []domain.ScoredChunk `json:"sources,omitempty"`
}

// Converse handles one query. Triage and retrieval failures degrade the turn
// instead of aborting it; only validation and generation failures return an
// error. A generation failure leaves no committed turn behind.
func (s *Service) Converse(ctx context.Context, req ConverseRequest) (*ConverseResponse, error) {
	if err := domain.ValidateQuery(req.Query); err != nil {
		return nil, err
	}
	if err := domain.ValidateHistory(req.History); err != nil {
		return nil, err
	}

	tri := s.classify.Classify(ctx, req.Query, req.History)
	route := triage.RouteFor(tri)
	s.countRoute(route)
	s.logger.Info("turn routed",
		slog.String("identity", req.Identity.Short()),
		slog.String("intent", string(tri.Intent)),
		slog.String("sentiment", string(tri.Sentiment)),
		slog.String("route", string(route)))

	if route == domain.RouteEscalate {
		return &ConverseResponse{
			Answer:   EscalationHandOff,
			Route:    route,
			Triage:   tri,
			Identity: req.Identity,
		}, nil
	}

	sources := s.retrieveContext(ctx, req.Identity, req.Query)

	genStart := time.Now()
	answer, err := s.generator.Generate(ctx, route, req.Query, sources)
	s.observe("support_generate_seconds", "Answer generation latency", genStart)
	if err != nil {
		s.count("support_generation_failures_total", "Failed answer generations")
		return nil, err
	}

	return &ConverseResponse{
		Answer:   answer,
		Route:    route,
		Triage:   tri,
		Identity: req.Identity,
		Sources:  sources,
	}, nil
}

// retrieveContext embeds the query and searches the bound knowledge base.
// Any failure here degrades to an empty context set so the turn still
// reaches generation.
func (s *Service) retrieveContext(ctx context.Context, id domain.Identity, query string) []domain.ScoredChunk {
	embedCtx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()
	vec, err := s.embed.Embed(embedCtx, query)
	if err != nil {
		s.degrade("query embedding failed", id, err)
		return nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()
	searchStart := time.Now()
	sources, err := s.retriever.Retrieve(searchCtx, id, vec, s.opts.TopK)
	s.observe("support_search_seconds", "Context retrieval latency", searchStart)
	if err != nil {
		if errors.Is(err, domain.ErrNoKnowledgeBase) {
			s.degrade("no knowledge base bound", id, err)
		} else {
			s.degrade("retrieval failed", id, err)
		}
		return nil
	}

	s.logger.Debug("context retrieved",
		slog.String("identity", id.Short()), slog.Int("chunks", len(sources)))
	return sources
}

func (s *Service) degrade(msg string, id domain.Identity, err error) {
	s.logger.Warn("degrading to empty context: "+msg,
		slog.String("identity", id.Short()), slog.String("error", err.Error()))
	s.count("support_retrieval_degraded_total", "Turns answered without retrieved context")
}

func (s *Service) countRoute(route domain.Route) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.Counter(
		metrics.WithLabels("support_queries_total", "route", string(route)),
		"Queries by response route").Inc()
}

func (s *Service) count(name, help string) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.Counter(name, help).Inc()
}

func (s *Service) observe(name, help string, start time.Time) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.Histogram(name, help, nil).Since(start)
}
