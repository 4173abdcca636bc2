package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

func TestCompleteSendsBearerAndParams(t *testing.T) {
	var auth string
	var req chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "secret"), "gpt-4o-mini", domain.DefaultGenerationParams())
	got, err := gen.Complete(context.Background(), "say hello")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected answer %q", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if req.Model != "gpt-4o-mini" || req.MaxTokens != 1024 || req.Temperature != 0.1 || req.Stream {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.ResponseFormat != nil {
		t.Fatalf("plain completion must not force a response format")
	}
}

func TestCompleteJSONSetsResponseFormat(t *testing.T) {
	var req chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"choice\":2}"}}]}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, ""), "router", domain.DefaultGenerationParams())
	got, err := gen.CompleteJSON(context.Background(), "pick")
	if err != nil {
		t.Fatalf("CompleteJSON() error = %v", err)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" || got != `{"choice":2}` {
		t.Fatalf("unexpected request format %+v / response %q", req.ResponseFormat, got)
	}
}

func TestStreamParsesServerSentEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": keep-alive\n\n")
		for _, token := range []string{"Paul ", "painted."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", token)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, ""), "m", domain.DefaultGenerationParams())
	tokens, err := gen.Stream(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	text, err := stream.Collect(tokens)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "Paul painted." || tokens.State() != stream.StateDone {
		t.Fatalf("unexpected %q / %s", text, tokens.State())
	}
}

func TestStreamWithoutDoneIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"cut\"}}]}\n\n")
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, ""), "m", domain.DefaultGenerationParams())
	tokens, _ := gen.Stream(context.Background(), "prompt")
	text, err := stream.Collect(tokens)
	if text != "cut" || err == nil || tokens.State() != stream.StateError {
		t.Fatalf("expected truncated stream to end in error, got %q / %v", text, err)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, ""), "text-embedding-3-large")
	vectors, err := embedder.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("vectors not reordered by index: %v", vectors)
	}
}

func TestStatusErrorCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid model", http.StatusBadRequest)
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, ""), "m", domain.DefaultGenerationParams())
	_, err := gen.Complete(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "invalid model") {
		t.Fatalf("expected body in error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("bad request must not be temporary")
	}
}
