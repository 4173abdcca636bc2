package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/corpus-router/internal/config"
	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/observability/metrics"
)

const maxRequestBody = 1 << 20

type Router struct {
	cfg      config.Config
	sessions ports.SessionService
	metrics  *metrics.HTTPServerMetrics
}

// NewRouter serves the session API. httpMetrics may be nil.
func NewRouter(cfg config.Config, sessions ports.SessionService, httpMetrics *metrics.HTTPServerMetrics) *Router {
	return &Router{
		cfg:      cfg,
		sessions: sessions,
		metrics:  httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /v1/models", rt.listModels)
	mux.HandleFunc("POST /v1/sessions", rt.openSession)
	mux.HandleFunc("GET /v1/sessions/{session_id}", rt.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", rt.closeSession)
	mux.HandleFunc("PUT /v1/sessions/{session_id}/settings", rt.updateSettings)
	mux.HandleFunc("POST /v1/sessions/{session_id}/query", rt.query)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.sessions.Catalog())
}

func (rt *Router) openSession(w http.ResponseWriter, r *http.Request) {
	info, err := rt.sessions.Open(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.SessionOpened()
	}
	writeJSON(w, http.StatusCreated, info)
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := rt.sessions.Get(r.PathValue("session_id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (rt *Router) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.sessions.Close(r.PathValue("session_id")); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.SessionClosed()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) updateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := decodeJSON(r, &updates); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	update, err := rt.sessions.UpdateSettings(r.Context(), r.PathValue("session_id"), updates)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

type queryRequest struct {
	Query string `json:"query"`
}

// query answers over server-sent events: one route event, token events in
// production order, then exactly one done or error event.
func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	start := time.Now()
	answer, err := rt.sessions.Query(r.Context(), r.PathValue("session_id"), req.Query)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	defer answer.Stream.Close()

	sse.start()
	if err := sse.event("route", routeEvent{
		Pipeline: answer.Decision.Pipeline,
		Reason:   answer.Decision.Reason,
		Fallback: answer.Decision.Fallback,
	}); err != nil {
		return
	}

	tokens := 0
	for answer.Stream.Next() {
		tokens++
		if err := sse.event("token", tokenEvent{Text: answer.Stream.Token()}); err != nil {
			return
		}
	}

	if streamErr := answer.Stream.Err(); streamErr != nil {
		slog.Warn("query_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"pipeline", answer.Decision.Pipeline,
			"tokens", tokens,
			"error", streamErr,
		)
		_ = sse.event("error", errorEvent{Error: streamErr.Error()})
		return
	}
	_ = sse.event("done", doneEvent{
		Pipeline:   answer.Decision.Pipeline,
		Tokens:     tokens,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	message := err.Error()
	if domain.IsKind(err, domain.ErrSelectionFailed) {
		message = domain.ErrSelectionFailed.Error()
	}
	writeError(w, status, message)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
