// Package gemini provides a Google Generative Language API client
// implementing the llm interfaces.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/PhantomAgents/phantom-mvp/pkg/llm"
)

// Defaults match the hosted API.
const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultChatModel  = "gemini-1.5-flash-latest"
	DefaultEmbedModel = "text-embedding-004"
)

// Config holds client configuration. APIKey is required.
type Config struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

// Client talks to the Generative Language REST API.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a Gemini client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: in.Prompt}}}},
	}
	if in.Temperature > 0 || in.MaxTokens > 0 {
		reqBody.GenerationConfig = &generationConfig{
			Temperature:     in.Temperature,
			MaxOutputTokens: in.MaxTokens,
		}
	}

	var out generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.ChatModel)
	if err := c.post(ctx, url, reqBody, &out); err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("gemini generate: %s (%s)", out.Error.Message, out.Error.Status)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

type embedRequest struct {
	Content content `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
	Error *apiError `json:"error,omitempty"`
}

// Embed implements llm.Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	url := fmt.Sprintf("%s/models/%s:embedContent", c.cfg.BaseURL, c.cfg.EmbedModel)
	if err := c.post(ctx, url, embedRequest{Content: content{Parts: []part{{Text: text}}}}, &out); err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("gemini embed: %s (%s)", out.Error.Message, out.Error.Status)
	}
	return toFloat32(out.Embedding.Values), nil
}

type batchEmbedRequest struct {
	Requests []batchEmbedItem `json:"requests"`
}

type batchEmbedItem struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
	Error *apiError `json:"error,omitempty"`
}

// EmbedBatch implements llm.Embedder using the batch endpoint.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := batchEmbedRequest{Requests: make([]batchEmbedItem, len(texts))}
	for i, t := range texts {
		reqBody.Requests[i] = batchEmbedItem{
			Model:   "models/" + c.cfg.EmbedModel,
			Content: content{Parts: []part{{Text: t}}},
		}
	}

	var out batchEmbedResponse
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", c.cfg.BaseURL, c.cfg.EmbedModel)
	if err := c.post(ctx, url, reqBody, &out); err != nil {
		return nil, fmt.Errorf("gemini embed batch: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("gemini embed batch: %s (%s)", out.Error.Message, out.Error.Status)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed batch: got %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	vecs := make([][]float32, len(out.Embeddings))
	for i, e := range out.Embeddings {
		vecs[i] = toFloat32(e.Values)
	}
	return vecs, nil
}

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode (status %d): %w", resp.StatusCode, err)
	}
	// Non-200 with a parseable error body surfaces through the caller's
	// Error field check; anything else is reported here.
	if resp.StatusCode != http.StatusOK && !hasAPIError(out) {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

func hasAPIError(out any) bool {
	switch v := out.(type) {
	case *generateResponse:
		return v.Error != nil
	case *embedResponse:
		return v.Error != nil
	case *batchEmbedResponse:
		return v.Error != nil
	}
	return false
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
