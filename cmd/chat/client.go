package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// turn mirrors one history element on the wire.
type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Query          string `json:"query"`
	History        []turn `json:"history,omitempty"`
	DocumentID     string `json:"document_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatReply struct {
	Answer     string `json:"answer"`
	DocumentID string `json:"document_id,omitempty"`
	Route      string `json:"route,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// client is a minimal support API client. One client is one conversation.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	convoID string
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 90 * time.Second},
		convoID: uuid.NewString(),
	}
}

func (c *client) send(ctx context.Context, query, docID string, history []turn) (*chatReply, error) {
	body, err := json.Marshal(chatPayload{
		Query:          query,
		History:        history,
		DocumentID:     docID,
		ConversationID: c.convoID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("support API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s", apiErr.Error)
		}
		return nil, fmt.Errorf("support API returned %d", resp.StatusCode)
	}

	var reply chatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &reply, nil
}
