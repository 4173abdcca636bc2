// Package openai talks to OpenAI-compatible chat and embedding endpoints
// (OpenAI, Azure AI inference gateways, vLLM, the Ollama /v1 shim).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/stream"
	"github.com/kirillkom/corpus-router/internal/infrastructure/resilience"
)

const provider = "openai"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type Generator struct {
	client *Client
	model  string
	params domain.GenerationParams
}

func NewGenerator(client *Client, model string, params domain.GenerationParams) *Generator {
	return &Generator{client: client, model: model, params: params}
}

func (g *Generator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.complete(ctx, g.request(prompt, false), "openai.chat")
}

// CompleteJSON requests a json_object response format.
func (g *Generator) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	req := g.request(prompt, false)
	req.ResponseFormat = &responseFormat{Type: "json_object"}
	return g.complete(ctx, req, "openai.chat_json")
}

func (g *Generator) complete(ctx context.Context, req chatRequest, operation string) (string, error) {
	response, err := resilience.Do(ctx, g.client.executor, operation, func(ctx context.Context) (chatResponse, error) {
		var out chatResponse
		err := g.client.postJSON(ctx, "/chat/completions", req, &out, "chat")
		return out, err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return "", resilience.WrapTemporary(operation, err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%s: no response choices", operation)
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Stream reads server-sent chat completion deltas until [DONE].
func (g *Generator) Stream(ctx context.Context, prompt string) (*stream.TokenStream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai.stream", fmt.Errorf("prompt is empty"))
	}
	req := g.request(prompt, true)

	return stream.New(ctx, func(ctx context.Context, emit stream.Emit) error {
		var committed atomic.Bool
		err := g.client.executor.Execute(ctx, "openai.chat_stream", func(ctx context.Context) error {
			return g.client.streamEvents(ctx, "/chat/completions", req, "chat_stream", func(chunk streamChunk) error {
				for _, choice := range chunk.Choices {
					if choice.Delta.Content == "" {
						continue
					}
					committed.Store(true)
					if err := emit(choice.Delta.Content); err != nil {
						return err
					}
				}
				return nil
			})
		}, resilience.UntilCommitted(&committed, resilience.ClassifyHTTP))
		return resilience.WrapTemporary("openai.chat_stream", err)
	}), nil
}

func (g *Generator) request(prompt string, streaming bool) chatRequest {
	return chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.params.Temperature,
		MaxTokens:   g.params.MaxTokens,
		Stream:      streaming,
	}
}

type Embedder struct {
	client *Client
	model  string
}

func NewEmbedder(client *Client, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.model,
		"input": texts,
	}
	type embeddingResponse struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	response, err := resilience.Do(ctx, e.client.executor, "openai.embeddings", func(ctx context.Context) (embeddingResponse, error) {
		var out embeddingResponse
		err := e.client.postJSON(ctx, "/embeddings", request, &out, "embeddings")
		return out, err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapTemporary("openai.embeddings", err)
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(response.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
