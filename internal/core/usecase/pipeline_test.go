package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

func TestVectorPipelineSynthesizesFromTopTwoChunks(t *testing.T) {
	corpus, err := buildTestCorpus(paulGrahamDocs())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	retriever, err := NewVectorRetriever(corpus, &keywordEmbedder{}, 0)
	if err != nil {
		t.Fatalf("NewVectorRetriever() error = %v", err)
	}

	chunks, err := retriever.Retrieve(context.Background(), "What did he do at RISD, painting?")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(chunks) != DefaultVectorTopK {
		t.Fatalf("expected %d chunks, got %d", DefaultVectorTopK, len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "RISD") {
		t.Fatalf("expected RISD chunk first, got %q", chunks[0].Text)
	}

	gen := &generatorFake{streamTokens: []string{"He ", "studied ", "painting."}}
	p := NewPipeline(domain.PipelineVector, DefaultVectorDescription, retriever, NewCompactSynthesizer(gen, domain.DefaultGenerationParams()))
	tokens, err := p.Query(context.Background(), "What did he do at RISD, painting?")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	text, err := stream.Collect(tokens)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "He studied painting." {
		t.Fatalf("unexpected answer %q", text)
	}

	complete, streamed := gen.prompts()
	if len(complete) != 0 || len(streamed) != 1 {
		t.Fatalf("two chunks fit one prompt: expected 0 complete and 1 stream call, got %d/%d", len(complete), len(streamed))
	}
	if !strings.Contains(streamed[0], "RISD") {
		t.Fatalf("prompt lacks retrieved context: %s", streamed[0])
	}
}

func TestCompactSynthesizerRefinesAcrossBatches(t *testing.T) {
	params := domain.GenerationParams{ContextWindow: 600, MaxTokens: 10, Streaming: true}
	gen := &generatorFake{}
	synth := NewCompactSynthesizer(gen, params)

	long := strings.Repeat("word ", 300)
	chunks := []domain.ScoredChunk{
		{Chunk: domain.Chunk{ID: "a", Text: "first " + long}},
		{Chunk: domain.Chunk{ID: "b", Text: "second " + long}},
	}
	var out strings.Builder
	err := synth.Synthesize(context.Background(), "q", chunks, func(token string) error {
		out.WriteString(token)
		return nil
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	complete, streamed := gen.prompts()
	if len(complete) != 1 || len(streamed) != 1 {
		t.Fatalf("expected 1 complete and 1 streamed call, got %d/%d", len(complete), len(streamed))
	}
	if !strings.Contains(complete[0], "first") {
		t.Fatalf("first batch must be answered first: %s", complete[0][:80])
	}
	if !strings.Contains(streamed[0], "partial answer 1") || !strings.Contains(streamed[0], "second") {
		t.Fatalf("final call must refine the existing answer with the second batch")
	}
	if out.String() != "The answer." {
		t.Fatalf("unexpected streamed output %q", out.String())
	}
}

func TestSummaryPipelineSeesEveryChunk(t *testing.T) {
	docs := paulGrahamDocs()
	corpus, err := buildTestCorpus(docs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	retriever, err := NewSummaryRetriever(corpus)
	if err != nil {
		t.Fatalf("NewSummaryRetriever() error = %v", err)
	}

	chunks, err := retriever.Retrieve(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(chunks) != corpus.Summary.Len() {
		t.Fatalf("summary retrieval must return all %d chunks, got %d", corpus.Summary.Len(), len(chunks))
	}

	gen := &generatorFake{}
	p := NewPipeline(domain.PipelineSummary, DefaultSummaryDescription, retriever, NewTreeSummarizer(gen, domain.DefaultGenerationParams(), 2))
	tokens, err := p.Query(context.Background(), "Summarize the essay")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, err := stream.Collect(tokens); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	complete, streamed := gen.prompts()
	if len(streamed) != 1 {
		t.Fatalf("expected exactly one streamed call, got %d", len(streamed))
	}
	seen := strings.Join(complete, "\n") + strings.Join(streamed, "\n")
	for _, c := range corpus.Summary.All() {
		if !strings.Contains(seen, c.Text) {
			t.Fatalf("chunk %s never reached the generator", c.ID)
		}
	}
}

func TestTreeSummarizerUsesSingleCallWhenAllFits(t *testing.T) {
	gen := &generatorFake{}
	synth := NewTreeSummarizer(gen, domain.DefaultGenerationParams(), 0)
	chunks := []domain.ScoredChunk{{Chunk: domain.Chunk{Text: "a"}}, {Chunk: domain.Chunk{Text: "b"}}}

	if err := synth.Synthesize(context.Background(), "q", chunks, func(string) error { return nil }); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	complete, streamed := gen.prompts()
	if len(complete) != 0 || len(streamed) != 1 {
		t.Fatalf("expected a single streamed call, got %d/%d", len(complete), len(streamed))
	}
}

func TestTreeSummarizerRecursesUntilOneBatch(t *testing.T) {
	// Each chunk fills a whole batch, so the first level summarizes four batches.
	params := domain.GenerationParams{ContextWindow: 300, MaxTokens: 10, Streaming: true}
	gen := &generatorFake{}
	synth := NewTreeSummarizer(gen, params, 2)

	var chunks []domain.ScoredChunk
	for _, prefix := range []string{"alpha", "beta", "gamma", "delta"} {
		chunks = append(chunks, domain.ScoredChunk{Chunk: domain.Chunk{ID: prefix, Text: prefix + strings.Repeat(" filler", 300)}})
	}
	if err := synth.Synthesize(context.Background(), "q", chunks, func(string) error { return nil }); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	complete, streamed := gen.prompts()
	if len(complete) != 4 || len(streamed) != 1 {
		t.Fatalf("expected 4 summaries and 1 streamed answer, got %d/%d", len(complete), len(streamed))
	}
	for _, prefix := range []string{"alpha", "beta", "gamma", "delta"} {
		found := false
		for _, prompt := range complete {
			if strings.Contains(prompt, prefix) {
				found = true
			}
		}
		if !found {
			t.Fatalf("chunk %s was not summarized", prefix)
		}
	}
	for i := 1; i <= 4; i++ {
		if !strings.Contains(streamed[0], fmt.Sprintf("partial answer %d", i)) {
			t.Fatalf("final answer must combine summary %d", i)
		}
	}
}

var factTag = regexp.MustCompile(`FACT\d\d`)

// verboseSummarizer answers every summary request with the fact tags it saw
// followed by close to a full output allowance of filler.
type verboseSummarizer struct {
	mu       sync.Mutex
	calls    int
	streamed []string
}

func (g *verboseSummarizer) Complete(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	tags := factTag.FindAllString(prompt, -1)
	return strings.Join(tags, " ") + " " + strings.Repeat("s", 4100), nil
}

func (g *verboseSummarizer) Stream(ctx context.Context, prompt string) (*stream.TokenStream, error) {
	g.mu.Lock()
	g.streamed = append(g.streamed, prompt)
	g.mu.Unlock()
	return stream.FromTokens(ctx, "done"), nil
}

func TestTreeSummarizerKeepsEverySummaryWhenLevelsStopShrinking(t *testing.T) {
	gen := &verboseSummarizer{}
	synth := NewTreeSummarizer(gen, domain.DefaultGenerationParams(), 4)

	var chunks []domain.ScoredChunk
	for i := range 8 {
		tag := fmt.Sprintf("FACT%02d", i)
		chunks = append(chunks, domain.ScoredChunk{Chunk: domain.Chunk{ID: tag, Text: tag + " " + strings.Repeat("c", 6000)}})
	}
	if err := synth.Synthesize(context.Background(), "q", chunks, func(string) error { return nil }); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	if gen.calls != 8 {
		t.Fatalf("expected one summary per chunk, got %d", gen.calls)
	}
	if len(gen.streamed) != 1 {
		t.Fatalf("expected a single streamed answer, got %d", len(gen.streamed))
	}
	for i := range 8 {
		tag := fmt.Sprintf("FACT%02d", i)
		if !strings.Contains(gen.streamed[0], tag) {
			t.Fatalf("final prompt lost %s", tag)
		}
	}
}

func TestTreeSummarizerReportsLevelFailure(t *testing.T) {
	errModel := errors.New("model overloaded")
	gen := &generatorFake{completeErr: errModel}
	params := domain.GenerationParams{ContextWindow: 300, MaxTokens: 10, Streaming: true}
	synth := NewTreeSummarizer(gen, params, 2)

	long := strings.Repeat("x", 2000)
	chunks := []domain.ScoredChunk{{Chunk: domain.Chunk{Text: long}}, {Chunk: domain.Chunk{Text: long}}}
	err := synth.Synthesize(context.Background(), "q", chunks, func(string) error { return nil })
	if !errors.Is(err, errModel) {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestPipelineEmptyRetrievalStreamsEmptyResponse(t *testing.T) {
	empty := retrieverFunc(func(context.Context, string) ([]domain.ScoredChunk, error) { return nil, nil })
	gen := &generatorFake{}
	p := NewPipeline(domain.PipelineVector, "", empty, NewCompactSynthesizer(gen, domain.DefaultGenerationParams()))

	tokens, err := p.Query(context.Background(), "question")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	text, err := stream.Collect(tokens)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != domain.EmptyResponse {
		t.Fatalf("expected %q, got %q", domain.EmptyResponse, text)
	}
	if tokens.State() != stream.StateDone {
		t.Fatalf("expected done state, got %s", tokens.State())
	}
}

func TestPipelineStreamErrorEndsInErrorState(t *testing.T) {
	errUpstream := errors.New("upstream closed")
	gen := &generatorFake{streamTokens: []string{"partial"}, streamErr: errUpstream}
	one := retrieverFunc(func(context.Context, string) ([]domain.ScoredChunk, error) {
		return []domain.ScoredChunk{{Chunk: domain.Chunk{ID: "a", Text: "ctx"}}}, nil
	})
	p := NewPipeline(domain.PipelineVector, "", one, NewCompactSynthesizer(gen, domain.DefaultGenerationParams()))

	tokens, err := p.Query(context.Background(), "question")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	text, err := stream.Collect(tokens)
	if text != "partial" {
		t.Fatalf("delivered tokens must stay valid, got %q", text)
	}
	if !errors.Is(err, errUpstream) || tokens.State() != stream.StateError {
		t.Fatalf("expected error state with upstream error, got %s / %v", tokens.State(), err)
	}
}

func TestPipelineRejectsEmptyQuery(t *testing.T) {
	p := NewPipeline(domain.PipelineVector, "", retrieverFunc(nil), nil)
	if _, err := p.Query(context.Background(), "  "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPackTextsKeepsOrderAndBudget(t *testing.T) {
	texts := []string{strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 40), strings.Repeat("d", 400)}
	batches := packTexts(texts, 25)

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if batches[0][0][0] != 'a' || batches[1][0][0] != 'c' || batches[2][0][0] != 'd' {
		t.Fatalf("batches out of order: %v", batches)
	}
	if got := estimateTokens(batches[2][0]); got != 25 {
		t.Fatalf("oversized text must be truncated to budget, got %d tokens", got)
	}
}

type retrieverFunc func(context.Context, string) ([]domain.ScoredChunk, error)

func (f retrieverFunc) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	return f(ctx, query)
}
