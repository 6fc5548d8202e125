package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmgateway "github.com/ferro-labs/llm-gateway"
	"github.com/ferro-labs/llm-gateway/internal/events"
	"github.com/ferro-labs/llm-gateway/internal/logging"
	"github.com/ferro-labs/llm-gateway/providers"
)

// callRequest is the POST /v1/calls payload.
type callRequest struct {
	RunID       string         `json:"run_id,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	Prompt      string         `json:"prompt"`
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	ContextHash string         `json:"context_hash,omitempty"`
}

// callResponse wraps the summary with the run id so clients that let
// the server mint the id can correlate events.
type callResponse struct {
	RunID   string                  `json:"run_id"`
	Summary *llmgateway.CallSummary `json:"summary"`
}

// server tracks in-flight runs so they can be cancelled over HTTP.
type server struct {
	gw     *llmgateway.Gateway
	broker *events.Broker

	mu      sync.Mutex
	cancels map[string]*llmgateway.CancelFlag
}

func newRouter(gw *llmgateway.Gateway, broker *events.Broker) http.Handler {
	s := &server{
		gw:      gw,
		broker:  broker,
		cancels: make(map[string]*llmgateway.CancelFlag),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/calls", s.handleCall)
	r.Get("/v1/runs/{runID}/events", s.handleEvents)
	r.Post("/v1/runs/{runID}/cancel", s.handleCancel)

	return r
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	flag := &llmgateway.CancelFlag{}
	s.track(runID, flag)
	defer s.untrack(runID)
	defer s.broker.CloseRun(runID)

	summary, err := s.gw.Run(r.Context(), llmgateway.CallRequest{
		RunID:   runID,
		TraceID: req.TraceID,
		Prompt:  req.Prompt,
		Params: providers.CallParams{
			Provider:    req.Provider,
			Model:       req.Model,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
			Extra:       req.Extra,
		},
		ContextHash: req.ContextHash,
		Cancel:      flag,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("call failed", "run_id", runID, "error", err)
		status := http.StatusBadGateway
		var exhausted *providers.ExhaustedError
		if !errors.As(err, &exhausted) {
			var perr *providers.Error
			if errors.As(err, &perr) && perr.Violation {
				status = http.StatusForbidden
			}
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(callResponse{RunID: runID, Summary: summary})
}

// handleEvents streams a run's lifecycle events as SSE. Subscribers
// should connect before issuing the call when they mint the run id.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	fanout := s.broker.Run(runID)
	sub := fanout.Subscribe()
	defer fanout.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, open := <-sub:
			if !open {
				_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	s.mu.Lock()
	flag, ok := s.cancels[runID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no in-flight run with id "+runID)
		return
	}
	flag.Set()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"run_id": runID, "status": "canceling"})
}

func (s *server) track(runID string, flag *llmgateway.CancelFlag) {
	s.mu.Lock()
	s.cancels[runID] = flag
	s.mu.Unlock()
}

func (s *server) untrack(runID string) {
	s.mu.Lock()
	delete(s.cancels, runID)
	s.mu.Unlock()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message},
	})
}
