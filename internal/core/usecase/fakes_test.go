package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/index"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

var keywordVocabulary = []string{"essay", "ibm", "lisp", "risd", "painting", "viaweb", "yahoo", "combinator", "arc", "hacker"}

// keywordEmbedder maps text to keyword counts so nearest neighbours are predictable.
type keywordEmbedder struct {
	model string
	err   error

	mu    sync.Mutex
	calls int
}

func (e *keywordEmbedder) Model() string {
	if e.model == "" {
		return "keyword"
	}
	return e.model
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, keywordVector(text))
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(keywordVocabulary)+1)
	for i, word := range keywordVocabulary {
		v[i] = float32(strings.Count(lower, word))
	}
	v[len(keywordVocabulary)] = 0.01
	return v
}

type generatorFake struct {
	streamTokens []string
	streamErr    error
	completeErr  error

	mu       sync.Mutex
	complete []string
	streamed []string
}

func (g *generatorFake) Complete(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.complete = append(g.complete, prompt)
	n := len(g.complete)
	g.mu.Unlock()
	if g.completeErr != nil {
		return "", g.completeErr
	}
	return fmt.Sprintf("partial answer %d", n), nil
}

func (g *generatorFake) Stream(ctx context.Context, prompt string) (*stream.TokenStream, error) {
	g.mu.Lock()
	g.streamed = append(g.streamed, prompt)
	g.mu.Unlock()
	tokens := g.streamTokens
	if len(tokens) == 0 {
		tokens = []string{"The ", "answer."}
	}
	streamErr := g.streamErr
	return stream.New(ctx, func(_ context.Context, emit stream.Emit) error {
		for _, token := range tokens {
			if err := emit(token); err != nil {
				return err
			}
		}
		return streamErr
	}), nil
}

func (g *generatorFake) prompts() (complete, streamed []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.complete...), append([]string(nil), g.streamed...)
}

type selectorFunc func(query string, choices []string) (domain.RouteDecision, error)

func (f selectorFunc) Select(_ context.Context, query string, choices []string) (domain.RouteDecision, error) {
	return f(query, choices)
}

func fixedSelector(choice int) selectorFunc {
	return func(string, []string) (domain.RouteDecision, error) {
		return domain.RouteDecision{Index: choice, Reason: "fixed"}, nil
	}
}

// routeByQuestion sends broad questions to the first choice and the rest to the second.
func routeByQuestion(query string, _ []string) (domain.RouteDecision, error) {
	lower := strings.ToLower(query)
	if strings.Contains(lower, "summar") || strings.Contains(lower, "overall") {
		return domain.RouteDecision{Index: 0, Reason: "broad question"}, nil
	}
	return domain.RouteDecision{Index: 1, Reason: "specific question"}, nil
}

type memoryStore struct {
	mu       sync.Mutex
	records  map[string][]byte
	persists int
	locks    int
	loadErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string][]byte{}}
}

func (s *memoryStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	raw, ok := s.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "load", errors.New(id))
	}
	return raw, nil
}

func (s *memoryStore) Persist(_ context.Context, records map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, raw := range records {
		s.records[id] = raw
	}
	s.persists++
	return nil
}

func (s *memoryStore) Lock(context.Context) (func(), error) {
	s.mu.Lock()
	s.locks++
	s.mu.Unlock()
	return func() {}, nil
}

type readerFake struct {
	docs  []domain.Document
	err   error
	calls int
}

func (r *readerFake) Read(context.Context, string) ([]domain.Document, error) {
	r.calls++
	return r.docs, r.err
}

// paragraphChunker splits on blank lines.
type paragraphChunker struct{}

func (paragraphChunker) Split(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func paulGrahamDocs() []domain.Document {
	return []domain.Document{
		{
			ID:     "essay",
			Source: "paul_graham_essay.txt",
			Text: `Before college the two main things I worked on were writing an essay or short story and programming an IBM 1401.

In college I studied philosophy and then switched to AI and Lisp, which seemed like the future.

After grad school I went to RISD to study painting, and later lived in Florence.

We started Viaweb to build online stores, and Yahoo bought it in 1998.

Later we started Y Combinator and I worked on Arc and wrote essays for Hacker News.`,
		},
	}
}

func buildTestCorpus(docs []domain.Document) (*index.Corpus, error) {
	svc := NewCorpusService(&readerFake{docs: docs}, paragraphChunker{}, &keywordEmbedder{}, newMemoryStore())
	return svc.Build(context.Background(), docs)
}

type factoryFake struct {
	catalog    domain.Catalog
	generators map[string]*generatorFake
	selectors  map[string]ports.Selector
	embedder   *keywordEmbedder

	mu            sync.Mutex
	selectorCalls []string
}

func newFactoryFake() *factoryFake {
	return &factoryFake{
		catalog: domain.Catalog{
			Chat: []domain.ModelSpec{
				{ID: "chat-a", Kind: domain.ModelKindChat},
				{ID: "chat-b", Kind: domain.ModelKindChat},
			},
			Router: []domain.ModelSpec{
				{ID: "router-a", Kind: domain.ModelKindChat},
				{ID: "router-b", Kind: domain.ModelKindChat},
			},
			Embedding: []domain.ModelSpec{
				{ID: "keyword", Kind: domain.ModelKindEmbedding},
				{ID: "other-embed", Kind: domain.ModelKindEmbedding},
			},
		},
		generators: map[string]*generatorFake{
			"chat-a": {},
			"chat-b": {},
		},
		selectors: map[string]ports.Selector{
			"router-a": selectorFunc(routeByQuestion),
			"router-b": fixedSelector(0),
		},
		embedder: &keywordEmbedder{},
	}
}

func (f *factoryFake) Catalog() domain.Catalog { return f.catalog }

func (f *factoryFake) Generator(id string) (ports.Generator, error) {
	g, ok := f.generators[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownModel, "generator", errors.New(id))
	}
	return g, nil
}

func (f *factoryFake) Selector(id string) (ports.Selector, error) {
	s, ok := f.selectors[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownModel, "selector", errors.New(id))
	}
	f.mu.Lock()
	f.selectorCalls = append(f.selectorCalls, id)
	f.mu.Unlock()
	return s, nil
}

func (f *factoryFake) Embedder(id string) (ports.Embedder, error) {
	if id != "keyword" {
		return &keywordEmbedder{model: id}, nil
	}
	return f.embedder, nil
}

type observerFake struct {
	mu        sync.Mutex
	routes    []domain.PipelineName
	fallbacks int
	failures  int
	streams   []stream.State
}

func (o *observerFake) ObserveRoute(p domain.PipelineName, fallback bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, p)
	if fallback {
		o.fallbacks++
	}
}

func (o *observerFake) ObserveSelectionFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func (o *observerFake) ObserveStream(_ domain.PipelineName, state stream.State, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams = append(o.streams, state)
}
