package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/engine/kb"
	"github.com/PhantomAgents/phantom-mvp/engine/rag"
	"github.com/PhantomAgents/phantom-mvp/pkg/syncutil"
)

const downloadTimeout = 30 * time.Second

// converser handles one chat turn.
type converser interface {
	Converse(ctx context.Context, req rag.ConverseRequest) (*rag.ConverseResponse, error)
}

// ingester builds (or returns the cached) knowledge base for raw bytes.
type ingester interface {
	Run(ctx context.Context, data []byte, format domain.Format) (*kb.KnowledgeBase, error)
}

// api holds handler state. The active document is deliberate server state:
// the most recently ingested document, used when a chat request names none.
type api struct {
	rag       converser
	ingest    ingester
	log       *slog.Logger
	validate  *validator.Validate
	turns     *syncutil.KeyedMutex
	client    *http.Client
	maxUpload int64

	mu        sync.Mutex
	activeDoc domain.Identity
}

func newAPI(rag converser, ingest ingester, log *slog.Logger, maxUpload int64) *api {
	return &api{
		rag:       rag,
		ingest:    ingest,
		log:       log,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		turns:     syncutil.NewKeyedMutex(),
		client:    &http.Client{Timeout: downloadTimeout},
		maxUpload: maxUpload,
	}
}

func (a *api) active() domain.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeDoc
}

func (a *api) setActive(id domain.Identity) {
	a.mu.Lock()
	a.activeDoc = id
	a.mu.Unlock()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- POST /v1/chat ---

type chatRequest struct {
	Query          string                    `json:"query" validate:"required"`
	History        []domain.ConversationTurn `json:"history"`
	DocumentID     string                    `json:"document_id,omitempty" validate:"omitempty,len=64,hexadecimal"`
	ConversationID string                    `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
}

type chatResponse struct {
	Answer     string       `json:"answer"`
	DocumentID string       `json:"document_id,omitempty"`
	Route      domain.Route `json:"route,omitempty"`
	Degraded   bool         `json:"degraded,omitempty"`
}

func (a *api) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Turns of one conversation run strictly in order.
	if req.ConversationID != "" {
		a.turns.Lock(req.ConversationID)
		defer a.turns.Unlock(req.ConversationID)
	}

	identity := a.active()
	if req.DocumentID != "" {
		parsed, err := domain.ParseIdentity(req.DocumentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed document_id")
			return
		}
		identity = parsed
	}

	resp, err := a.rag.Converse(r.Context(), rag.ConverseRequest{
		Query:    req.Query,
		History:  req.History,
		Identity: identity,
	})
	if err != nil {
		a.replyChatError(w, err, identity)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     resp.Answer,
		DocumentID: resp.Identity.String(),
		Route:      resp.Route,
	})
}

// replyChatError maps a turn failure on the wire. A generation failure is a
// normal reply carrying the fixed apology, flagged degraded.
func (a *api) replyChatError(w http.ResponseWriter, err error, id domain.Identity) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, domain.ErrGenerationFailure):
		a.log.Error("answer generation failed", "err", err)
		writeJSON(w, http.StatusOK, chatResponse{
			Answer:     rag.GenerationApology,
			DocumentID: id.String(),
			Degraded:   true,
		})
	default:
		a.log.Error("turn failed", "err", err)
		writeError(w, http.StatusInternalServerError, "An internal server error occurred.")
	}
}

// --- POST /v1/documents ---

type documentURLRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type documentResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

func (a *api) handleDocuments(w http.ResponseWriter, r *http.Request) {
	var (
		data   []byte
		format domain.Format
		err    error
	)

	if isMultipart(r) {
		data, format, err = a.readUpload(r)
	} else {
		var req documentURLRequest
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if valErr := a.validate.Struct(req); valErr != nil {
			writeError(w, http.StatusBadRequest, valErr.Error())
			return
		}
		data, format, err = a.download(r.Context(), req.URL)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	base, err := a.ingest.Run(r.Context(), data, format)
	if err != nil {
		a.replyIngestError(w, err)
		return
	}
	a.setActive(base.Identity)

	writeJSON(w, http.StatusOK, documentResponse{
		DocumentID: base.Identity.String(),
		Chunks:     len(base.Chunks),
	})
}

func (a *api) replyIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrParseFailure),
		errors.Is(err, domain.ErrEmptyCorpus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.log.Error("ingestion failed", "err", err)
		writeError(w, http.StatusInternalServerError, "An internal server error occurred.")
	}
}

// --- POST /process ---
//
// The legacy single endpoint: ingestion and chat in one call. Accepts the
// original JSON body {query, history, document_url} and additionally a
// multipart form with an inline document file.

type processRequest struct {
	Query       string                    `json:"query" validate:"required"`
	History     []domain.ConversationTurn `json:"history"`
	DocumentURL string                    `json:"document_url,omitempty"`
}

type processResponse struct {
	Answer       string `json:"answer"`
	DocumentHash string `json:"document_hash,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
}

func (a *api) handleProcess(w http.ResponseWriter, r *http.Request) {
	var (
		req     processRequest
		docData []byte
		docFmt  domain.Format
	)

	if isMultipart(r) {
		var err error
		req, docData, docFmt, err = a.parseProcessForm(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if docData == nil && req.DocumentURL != "" {
		var err error
		docData, docFmt, err = a.download(r.Context(), req.DocumentURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	identity := a.active()
	if docData != nil {
		base, err := a.ingest.Run(r.Context(), docData, docFmt)
		if err != nil {
			a.replyIngestError(w, err)
			return
		}
		a.setActive(base.Identity)
		identity = base.Identity
	}

	if identity == "" {
		writeError(w, http.StatusBadRequest,
			"No document has been processed yet. Please provide a `document_url` in your first request.")
		return
	}

	resp, err := a.rag.Converse(r.Context(), rag.ConverseRequest{
		Query:    req.Query,
		History:  req.History,
		Identity: identity,
	})
	if err != nil {
		var vErr *domain.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.Is(err, domain.ErrGenerationFailure):
			a.log.Error("answer generation failed", "err", err)
			writeJSON(w, http.StatusOK, processResponse{
				Answer:       rag.GenerationApology,
				DocumentHash: identity.String(),
				Degraded:     true,
			})
		default:
			a.log.Error("turn failed", "err", err)
			writeError(w, http.StatusInternalServerError, "An internal server error occurred.")
		}
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Answer:       resp.Answer,
		DocumentHash: identity.String(),
	})
}

// parseProcessForm reads the multipart variant: query and history fields
// plus an optional document file.
func (a *api) parseProcessForm(r *http.Request) (processRequest, []byte, domain.Format, error) {
	var req processRequest
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		return req, nil, "", fmt.Errorf("invalid multipart form: %w", err)
	}
	req.Query = r.FormValue("query")
	req.DocumentURL = r.FormValue("document_url")
	if h := r.FormValue("history"); h != "" {
		if err := json.Unmarshal([]byte(h), &req.History); err != nil {
			return req, nil, "", errors.New("history must be a JSON array of {role, content}")
		}
	}

	file, header, err := r.FormFile("document")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, "", nil
	}
	if err != nil {
		return req, nil, "", fmt.Errorf("invalid document upload: %w", err)
	}
	defer file.Close()

	data, err := a.readCapped(file)
	if err != nil {
		return req, nil, "", err
	}
	format, err := domain.FormatFromPath(header.Filename)
	if err != nil {
		return req, nil, "", err
	}
	return req, data, format, nil
}

// readUpload reads the multipart "document" file for /v1/documents.
func (a *api) readUpload(r *http.Request) ([]byte, domain.Format, error) {
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		return nil, "", fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		return nil, "", errors.New("multipart field `document` is required")
	}
	defer file.Close()

	data, err := a.readCapped(file)
	if err != nil {
		return nil, "", err
	}
	format, err := domain.FormatFromPath(header.Filename)
	if err != nil {
		return nil, "", err
	}
	return data, format, nil
}

// download fetches a document by URL, capped at maxUpload bytes.
func (a *api) download(ctx context.Context, url string) ([]byte, domain.Format, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("Could not download document from URL: %v", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("Could not download document from URL: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("Could not download document from URL: status %d", resp.StatusCode)
	}

	data, err := a.readCapped(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, formatFromURL(url), nil
}

// readCapped reads at most maxUpload bytes.
func (a *api) readCapped(rd io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(rd, a.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if int64(len(data)) > a.maxUpload {
		return nil, fmt.Errorf("document exceeds the %d byte limit", a.maxUpload)
	}
	return data, nil
}

// formatFromURL matches the lenient legacy rule: any URL mentioning .pdf is
// a PDF, .txt is text, everything else is treated as DOCX.
func formatFromURL(url string) domain.Format {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, ".pdf"):
		return domain.FormatPDF
	case strings.Contains(lower, ".txt"):
		return domain.FormatTXT
	default:
		return domain.FormatDOCX
	}
}

func isMultipart(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "multipart/form-data"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
