package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/recursivelm/rlm/internal/config"
	"github.com/recursivelm/rlm/internal/eventlog"
	"github.com/recursivelm/rlm/internal/llm"
	"github.com/recursivelm/rlm/internal/observability"
	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/run"
)

// buildServeCmd wires the HTTP session API: one Supervisor shared across
// every request, a durable event log, a live PubSub fan-out for the SSE
// endpoint, and an otel MeterProvider whose exporter is a deployment
// choice (none by default, Prometheus-backed at /metrics when
// metrics.exporter is "prometheus").
func buildServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the RLM session API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey:       cfg.LLM.APIKey,
				BaseURL:      cfg.LLM.BaseURL,
				MaxRetries:   cfg.LLM.MaxRetries,
				DefaultModel: cfg.LLM.DefaultModel,
			})
			if err != nil {
				return err
			}

			registry := buildRegistry(cfg.Eval.Workspace)

			meter, metricsHandler, err := buildMeter(cfg.Metrics)
			if err != nil {
				return fmt.Errorf("serve: metrics setup: %w", err)
			}
			metrics, err := observability.NewMetrics(meter)
			if err != nil {
				return fmt.Errorf("serve: metrics instruments: %w", err)
			}

			store := eventlog.NewMemoryStore(0)
			pubsub := eventlog.NewPubSub(nil)
			sup := run.New(*cfg, provider, registry, metrics, store, pubsub)

			srv := &apiServer{sup: sup, store: store, pubsub: pubsub}
			router := srv.routes(metricsHandler)

			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			ctx := cmd.Context()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (defaults to server.addr)")
	return cmd
}

// buildMeter returns a metric.Meter and, if a Prometheus exporter was
// configured, the /metrics handler to mount. With no exporter configured
// it falls back to the otel SDK's default no-op-adjacent MeterProvider --
// instruments still record, nothing is ever read.
func buildMeter(cfg config.MetricsConfig) (metric.Meter, http.Handler, error) {
	switch cfg.Exporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return nil, nil, err
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		return mp.Meter("github.com/recursivelm/rlm"), promhttp.Handler(), nil
	case "":
		mp := sdkmetric.NewMeterProvider()
		return mp.Meter("github.com/recursivelm/rlm"), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}
}

// apiServer holds the shared collaborators every HTTP handler needs.
type apiServer struct {
	sup    *run.Supervisor
	store  eventlog.Store
	pubsub *eventlog.PubSub
}

func (s *apiServer) routes(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", s.handleHealthz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/run", s.handleStartRun)
		r.Get("/runs/{runID}/status", s.handleRunStatus)
		r.Get("/runs/{runID}/events", s.handleRunEvents)

		r.Post("/sessions", s.handleStartSession)
		r.Post("/sessions/{sessionID}/messages", s.handleSendMessage)
		r.Get("/sessions/{sessionID}/history", s.handleSessionHistory)
		r.Get("/sessions/{sessionID}/status", s.handleSessionStatus)
	})

	return r
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRunRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

func (s *apiServer) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	rn, err := s.sup.StartRun(context.WithoutCancel(r.Context()), req.Query, req.Context)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: rn.ID})
}

type runStatusResponse struct {
	Status string `json:"status"`
	Answer any    `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *apiServer) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rn, err := s.sup.Get(runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	status, answer, runErr := rn.Status()
	resp := runStatusResponse{Status: statusLabel(status), Answer: answer}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRunEvents streams a run's event timeline as Server-Sent Events:
// first the durable history recorded so far, then every new event as it
// is published, until the client disconnects.
func (s *apiServer) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	history, err := s.store.GetByRunID(runID)
	if err == nil {
		for _, e := range history {
			writeSSEEvent(w, e)
		}
		flusher.Flush()
	}

	live, unsubscribe := s.pubsub.Subscribe(runID)
	defer unsubscribe()

	for {
		select {
		case e, ok := <-live:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e *eventlog.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type startSessionRequest struct {
	Context string `json:"context"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *apiServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	sess, err := s.sup.StartSession(context.WithoutCancel(r.Context()), req.Context)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, startSessionResponse{SessionID: sess.ID})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

type sendMessageResponse struct {
	Answer any `json:"answer"`
}

func (s *apiServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	result, err := s.sup.SendMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{Answer: result.FinalAnswer})
}

func (s *apiServer) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	events, err := s.sup.SessionHistory(sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *apiServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.sup.GetSession(sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	attrs, err := sess.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusLabel(attrs.Status),
		"iteration": attrs.Iteration,
	})
}

func statusLabel(status rlmtypes.Status) string {
	switch status {
	case rlmtypes.StatusRunning:
		return "running"
	case rlmtypes.StatusComplete:
		return "complete"
	case rlmtypes.StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
