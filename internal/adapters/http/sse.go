package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

type routeEvent struct {
	Pipeline domain.PipelineName `json:"pipeline"`
	Reason   string              `json:"reason,omitempty"`
	Fallback bool                `json:"fallback"`
}

type tokenEvent struct {
	Text string `json:"text"`
}

type doneEvent struct {
	Pipeline   domain.PipelineName `json:"pipeline"`
	Tokens     int                 `json:"tokens"`
	DurationMS float64             `json:"duration_ms"`
}

type errorEvent struct {
	Error string `json:"error"`
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) start() {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
