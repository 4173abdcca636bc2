package ollama

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

const provider = "ollama"

type Client struct {
	baseURL    string
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

func New(baseURL string, opts ...Option) *Client {
	// No client timeout: streams stay open for the whole answer.
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
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

	type embedResponse struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	response, err := resilience.Do(ctx, e.client.executor, "ollama.embed", func(ctx context.Context) (embedResponse, error) {
		var out embedResponse
		err := e.client.postJSON(ctx, "/api/embed", request, &out, "embed")
		return out, err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapTemporary("ollama.embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d vectors, got %d", len(texts), len(response.Embeddings))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
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
	return g.generate(ctx, g.request(prompt, false, ""), "ollama.generate")
}

// CompleteJSON asks the model for a single JSON object.
func (g *Generator) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, g.request(prompt, false, "json"), "ollama.generate_json")
}

// Stream opens /api/generate lazily on the first Next. Failures before the
// first fragment are retried; later ones end the stream in error.
func (g *Generator) Stream(ctx context.Context, prompt string) (*stream.TokenStream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ollama.stream", fmt.Errorf("prompt is empty"))
	}
	request := g.request(prompt, true, "")

	return stream.New(ctx, func(ctx context.Context, emit stream.Emit) error {
		var committed atomic.Bool
		err := g.client.executor.Execute(ctx, "ollama.generate_stream", func(ctx context.Context) error {
			return g.client.streamJSON(ctx, "/api/generate", request, "generate_stream", func(line generateChunk) error {
				if line.Error != "" {
					return fmt.Errorf("ollama generate_stream: %s", line.Error)
				}
				if line.Response == "" {
					return nil
				}
				committed.Store(true)
				return emit(line.Response)
			})
		}, resilience.UntilCommitted(&committed, resilience.ClassifyHTTP))
		return resilience.WrapTemporary("ollama.generate_stream", err)
	}), nil
}

func (g *Generator) request(prompt string, streaming bool, format string) map[string]any {
	options := map[string]any{
		"temperature": g.params.Temperature,
	}
	if g.params.MaxTokens > 0 {
		options["num_predict"] = g.params.MaxTokens
	}
	if g.params.ContextWindow > 0 {
		options["num_ctx"] = g.params.ContextWindow
	}
	reqBody := map[string]any{
		"model":   g.model,
		"prompt":  prompt,
		"stream":  streaming,
		"options": options,
	}
	if format != "" {
		reqBody["format"] = format
	}
	return reqBody
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (g *Generator) generate(ctx context.Context, reqBody map[string]any, operation string) (string, error) {
	response, err := resilience.Do(ctx, g.client.executor, operation, func(ctx context.Context) (generateChunk, error) {
		var out generateChunk
		err := g.client.postJSON(ctx, "/api/generate", reqBody, &out, "generate")
		return out, err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return "", resilience.WrapTemporary(operation, err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("%s: %s", operation, response.Error)
	}
	return strings.TrimSpace(response.Response), nil
}
