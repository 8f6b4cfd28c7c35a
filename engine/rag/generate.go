package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
	"github.com/PhantomAgents/phantom-mvp/pkg/resilience"
)

// DefaultGenerateTimeout bounds a single answer-generation call.
const DefaultGenerateTimeout = 60 * time.Second

// Generator produces the final answer with the route-selected template. One
// generative call per query; with no retrieved context it returns a fixed
// degraded-mode reply without calling the model at all.
type Generator struct {
	gen     llm.Completer
	breaker *resilience.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator creates a Generator. breaker may be nil to call the model
// unguarded.
func NewGenerator(gen llm.Completer, breaker *resilience.Breaker, timeout time.Duration, logger *slog.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{gen: gen, breaker: breaker, timeout: timeout, logger: logger}
}

// Generate answers the query from the retrieved context. Failures wrap
// domain.ErrGenerationFailure and are never retried here.
func (g *Generator) Generate(ctx context.Context, route domain.Route, query string, hits []domain.ScoredChunk) (string, error) {
	var template, degraded string
	switch route {
	case domain.RouteStandard:
		template, degraded = standardPrompt, noContextStandard
	case domain.RouteEmpathetic:
		template, degraded = empatheticPrompt, noContextEmpathetic
	default:
		return "", fmt.Errorf("rag: no answer template for route %q", route)
	}

	if len(hits) == 0 {
		g.logger.Info("answering without context", slog.String("route", string(route)))
		return degraded, nil
	}

	prompt := fmt.Sprintf(template, buildContext(hits), query)
	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var answer string
	call := func(ctx context.Context) error {
		out, err := g.gen.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
		if err != nil {
			return err
		}
		answer = strings.TrimSpace(out)
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Call(genCtx, call)
	} else {
		err = call(genCtx)
	}
	if err != nil {
		return "", fmt.Errorf("rag: %w: %v", domain.ErrGenerationFailure, err)
	}
	return answer, nil
}
