package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/index"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

const (
	DefaultSummaryDescription = "Useful for summarization questions related to the corpus."
	DefaultVectorDescription  = "Useful for retrieving specific context from the corpus."

	Greeting = `Hello! I answer questions about the loaded documents using one of two strategies.
Broad questions, like "summarize the author's life", use the summary strategy, which reads every passage of the corpus.
Narrow questions, like "what did the author do after college?", use the vector strategy, which looks up the two most relevant passages.
A router model decides which strategy fits each question. You can change the models in the settings.`
)

// PipelineConfig controls how each session's pipelines and router are built.
type PipelineConfig struct {
	Params             domain.GenerationParams
	VectorTopK         int
	SummaryConcurrency int
	SummaryDescription string
	VectorDescription  string
	FallbackPipeline   domain.PipelineName
}

func (c PipelineConfig) normalize() PipelineConfig {
	out := c
	def := domain.DefaultGenerationParams()
	if out.Params == (domain.GenerationParams{}) {
		out.Params = def
	}
	if out.Params.ContextWindow <= 0 {
		out.Params.ContextWindow = def.ContextWindow
	}
	if out.Params.MaxTokens <= 0 {
		out.Params.MaxTokens = def.MaxTokens
	}
	if out.VectorTopK <= 0 {
		out.VectorTopK = DefaultVectorTopK
	}
	if out.SummaryDescription == "" {
		out.SummaryDescription = DefaultSummaryDescription
	}
	if out.VectorDescription == "" {
		out.VectorDescription = DefaultVectorDescription
	}
	return out
}

// SessionManager owns the shared corpus and every open session.
type SessionManager struct {
	factory  ports.CapabilityFactory
	cfg      PipelineConfig
	defaults domain.Settings
	searcher ports.VectorSearcher
	observer ports.RouteObserver
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	corpus   *index.Corpus
	sessions map[string]*session
}

type SessionOption func(*SessionManager)

// WithVectorSearcher routes vector retrieval to an external backend.
func WithVectorSearcher(searcher ports.VectorSearcher) SessionOption {
	return func(m *SessionManager) { m.searcher = searcher }
}

func WithSessionObserver(observer ports.RouteObserver) SessionOption {
	return func(m *SessionManager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewSessionManager(
	corpus *index.Corpus,
	factory ports.CapabilityFactory,
	defaults domain.Settings,
	cfg PipelineConfig,
	opts ...SessionOption,
) (*SessionManager, error) {
	if err := corpus.Validate(); err != nil {
		return nil, err
	}
	m := &SessionManager{
		factory:  factory,
		cfg:      cfg.normalize(),
		defaults: defaults,
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
		corpus:   corpus,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.checkSettings(corpus, defaults); err != nil {
		return nil, fmt.Errorf("default settings: %w", err)
	}
	// Builds one router up front so misconfiguration fails at startup.
	if _, err := m.buildRouter(corpus, defaults); err != nil {
		return nil, fmt.Errorf("default settings: %w", err)
	}
	return m, nil
}

func (m *SessionManager) Catalog() domain.Catalog {
	return m.factory.Catalog()
}

func (m *SessionManager) Open(context.Context) (domain.SessionInfo, error) {
	corpus := m.currentCorpus()
	router, err := m.buildRouter(corpus, m.defaults)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	s := &session{
		id:        uuid.NewString(),
		createdAt: m.now().UTC(),
		settings:  m.defaults,
		router:    router,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("session_opened", "session_id", s.id)
	info := s.info()
	info.Greeting = Greeting
	return info, nil
}

func (m *SessionManager) Get(id string) (domain.SessionInfo, error) {
	s, err := m.lookup(id)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	return s.info(), nil
}

// Query routes text within the session. A new query cancels the session's
// previous in-flight answer.
func (m *SessionManager) Query(ctx context.Context, sessionID, text string) (*ports.RoutedAnswer, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, text)
}

// UpdateSettings swaps the session's router for one built from the updated
// settings. On any error the previous router stays active. Indices are never rebuilt.
func (m *SessionManager) UpdateSettings(ctx context.Context, sessionID string, updates map[string]string) (domain.SettingsUpdate, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SettingsUpdate{}, err
	}

	prev := s.currentSettings()
	next, err := prev.Apply(updates)
	if err != nil {
		return domain.SettingsUpdate{}, err
	}
	corpus := m.currentCorpus()
	if err := m.checkSettings(corpus, next); err != nil {
		return domain.SettingsUpdate{}, err
	}
	router, err := m.buildRouter(corpus, next)
	if err != nil {
		return domain.SettingsUpdate{}, err
	}
	s.swap(next, router)

	m.logger.Info("session_settings_updated",
		"session_id", sessionID,
		"llm", next.LLM,
		"router_llm", next.EffectiveRouterLLM(),
		"embedding_model", next.EmbeddingModel,
	)
	return domain.SettingsUpdate{
		Settings: next,
		Notice:   settingsNotice(prev, next),
	}, nil
}

// settingsNotice tells the user which models changed.
func settingsNotice(prev, next domain.Settings) string {
	var parts []string
	if next.EffectiveRouterLLM() != prev.EffectiveRouterLLM() {
		parts = append(parts, fmt.Sprintf("We are now using %s for routing queries.", next.EffectiveRouterLLM()))
	}
	if next.LLM != prev.LLM {
		parts = append(parts, fmt.Sprintf("We are now using %s to answer queries.", next.LLM))
	}
	if len(parts) == 0 {
		return "Settings unchanged."
	}
	return strings.Join(parts, " ")
}

// Close tears the session down and cancels its in-flight answer.
func (m *SessionManager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "close session", fmt.Errorf("id %s", sessionID))
	}
	s.close()
	m.logger.Info("session_closed", "session_id", sessionID)
	return nil
}

// CloseAll tears down every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// ReplaceCorpus installs a newly persisted corpus and rebuilds every
// session's router with its current settings. Sessions whose settings no
// longer fit the corpus keep their previous router.
func (m *SessionManager) ReplaceCorpus(corpus *index.Corpus) error {
	if err := corpus.Validate(); err != nil {
		return err
	}
	if err := m.checkSettings(corpus, m.defaults); err != nil {
		return fmt.Errorf("replace corpus: %w", err)
	}

	m.mu.Lock()
	m.corpus = corpus
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		settings := s.currentSettings()
		var router *Router
		err := m.checkSettings(corpus, settings)
		if err == nil {
			router, err = m.buildRouter(corpus, settings)
		}
		if err != nil {
			m.logger.Warn("session_router_kept", "session_id", s.id, "error", err)
			continue
		}
		s.swap(settings, router)
	}
	m.logger.Info("corpus_replaced", "chunks", corpus.Vector.Len(), "sessions", len(sessions))
	return nil
}

func (m *SessionManager) currentCorpus() *index.Corpus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.corpus
}

func (m *SessionManager) lookup(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "lookup session", fmt.Errorf("id %s", id))
	}
	return s, nil
}

func (m *SessionManager) checkSettings(corpus *index.Corpus, settings domain.Settings) error {
	if err := m.factory.Catalog().Validate(settings); err != nil {
		return err
	}
	if want := corpus.EmbeddingModel(); settings.EmbeddingModel != want {
		return domain.WrapError(domain.ErrInvalidInput, "check settings",
			fmt.Errorf("embedding_model %q differs from the indexed model %q; rebuild the index to switch", settings.EmbeddingModel, want))
	}
	return nil
}

func (m *SessionManager) buildRouter(corpus *index.Corpus, settings domain.Settings) (*Router, error) {
	generator, err := m.factory.Generator(settings.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	selector, err := m.factory.Selector(settings.EffectiveRouterLLM())
	if err != nil {
		return nil, fmt.Errorf("router_llm: %w", err)
	}
	embedder, err := m.factory.Embedder(settings.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embedding_model: %w", err)
	}

	var vectorRetriever Retriever
	if m.searcher != nil {
		vectorRetriever = NewSearcherRetriever(m.searcher, embedder, m.cfg.VectorTopK)
	} else {
		vectorRetriever, err = NewVectorRetriever(corpus, embedder, m.cfg.VectorTopK)
		if err != nil {
			return nil, err
		}
	}
	summaryRetriever, err := NewSummaryRetriever(corpus)
	if err != nil {
		return nil, err
	}

	summary := NewPipeline(domain.PipelineSummary, m.cfg.SummaryDescription, summaryRetriever,
		NewTreeSummarizer(generator, m.cfg.Params, m.cfg.SummaryConcurrency).WithLogger(m.logger))
	vector := NewPipeline(domain.PipelineVector, m.cfg.VectorDescription, vectorRetriever,
		NewCompactSynthesizer(generator, m.cfg.Params))

	return NewRouter(selector, []*Pipeline{summary, vector},
		WithFallbackPipeline(m.cfg.FallbackPipeline),
		WithRouteObserver(m.observer),
		WithRouterLogger(m.logger),
	)
}

type session struct {
	id        string
	createdAt time.Time

	mu       sync.Mutex
	settings domain.Settings
	router   *Router
	inflight *stream.TokenStream
	closed   bool
}

func (s *session) info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{ID: s.id, Settings: s.settings, CreatedAt: s.createdAt}
}

func (s *session) currentSettings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *session) swap(settings domain.Settings, router *Router) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.router = router
}

func (s *session) query(ctx context.Context, text string) (*ports.RoutedAnswer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.WrapError(domain.ErrSessionNotFound, "session query", fmt.Errorf("id %s is closed", s.id))
	}
	if s.inflight != nil {
		s.inflight.Close()
		s.inflight = nil
	}
	router := s.router
	s.mu.Unlock()

	answer, err := router.Query(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		answer.Stream.Close()
		return nil, domain.WrapError(domain.ErrSessionNotFound, "session query", fmt.Errorf("id %s is closed", s.id))
	}
	if s.inflight != nil {
		s.inflight.Close()
	}
	s.inflight = answer.Stream
	return answer, nil
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.inflight != nil {
		s.inflight.Close()
		s.inflight = nil
	}
}
