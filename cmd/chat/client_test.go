package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientSend(t *testing.T) {
	var got chatPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(chatReply{Answer: "within 30 days", Route: "standard"})
	}))
	defer srv.Close()

	c := newClient(srv.URL, "secret")
	reply, err := c.send(context.Background(), "refund window?", "doc123", []turn{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Answer != "within 30 days" || reply.Route != "standard" {
		t.Errorf("reply = %+v", reply)
	}
	if auth != "Bearer secret" {
		t.Errorf("auth header = %q", auth)
	}
	if got.Query != "refund window?" || got.DocumentID != "doc123" {
		t.Errorf("payload = %+v", got)
	}
	if got.ConversationID == "" {
		t.Error("conversation id not sent")
	}
	if len(got.History) != 1 || got.History[0].Content != "hi" {
		t.Errorf("history = %+v", got.History)
	}
}

func TestClientSend_APIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiError{Error: "malformed document_id"})
	}))
	defer srv.Close()

	c := newClient(srv.URL, "")
	_, err := c.send(context.Background(), "q", "", nil)
	if err == nil || !strings.Contains(err.Error(), "malformed document_id") {
		t.Fatalf("err = %v, want the server's message", err)
	}
}

func TestClientSend_OpaqueFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newClient(srv.URL, "")
	_, err := c.send(context.Background(), "q", "", nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want status code", err)
	}
}
